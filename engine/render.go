package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// formatShards renders an amount with thousands separators, e.g. "12,000".
func formatShards(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	neg := false
	if strings.HasPrefix(digits, "-") {
		neg = true
		digits = digits[1:]
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	out := b.String() + " shards"
	if neg {
		out = "-" + out
	}
	return out
}

// formatClock renders seconds as MM:SS.
func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func renderAnnouncement(snap Snapshot, remaining int) string {
	leading := snap.LeadingTeam
	if leading == "" {
		leading = "none"
	}
	quick := QuickBids(snap.CurrentBid)
	return fmt.Sprintf(
		"LIVE AUCTION: %s\n"+
			"Current bid: %s\n"+
			"Leading team: %s\n"+
			"Time left: %s\n"+
			"Quick bids: %s | %s | %s",
		snap.PlayerName,
		formatShards(snap.CurrentBid),
		leading,
		formatClock(remaining),
		formatShards(quick[0]), formatShards(quick[1]), formatShards(quick[2]),
	)
}

func renderWarning(remaining int) string {
	switch {
	case remaining == 60:
		return "1 minute remaining! Place your final bids."
	case remaining == 30:
		return "30 seconds left! Bidding closing soon."
	case remaining == 10:
		return "10 seconds! Final calls."
	case remaining >= 1 && remaining <= 5:
		return strconv.Itoa(remaining)
	default:
		return ""
	}
}

func renderSold(snap Snapshot) string {
	return fmt.Sprintf("SOLD: %s goes to %s for %s",
		snap.PlayerName, snap.LeadingTeam, formatShards(snap.CurrentBid))
}

func renderUnsold(snap Snapshot) string {
	return fmt.Sprintf("AUCTION ENDED: %s is unsold (base price %s, no bids placed)",
		snap.PlayerName, formatShards(snap.BasePrice))
}

func renderSettlementFailure(snap Snapshot) string {
	return fmt.Sprintf("AUCTION ERROR: could not record the result for %s; contact an admin",
		snap.PlayerName)
}
