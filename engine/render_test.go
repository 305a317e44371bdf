package engine

import (
	"strings"
	"testing"
)

func TestFormatShards(t *testing.T) {
	cases := map[int64]string{
		0:       "0 shards",
		500:     "500 shards",
		1200:    "1,200 shards",
		12000:   "12,000 shards",
		1234567: "1,234,567 shards",
	}
	for amount, want := range cases {
		if got := formatShards(amount); got != want {
			t.Errorf("formatShards(%d) = %q, want %q", amount, got, want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := formatClock(65); got != "01:05" {
		t.Errorf("formatClock(65) = %q, want 01:05", got)
	}
	if got := formatClock(-3); got != "00:00" {
		t.Errorf("formatClock(-3) = %q, want 00:00", got)
	}
}

func TestRenderWarningThresholds(t *testing.T) {
	for _, secs := range []int{60, 30, 10, 5, 1} {
		if renderWarning(secs) == "" {
			t.Errorf("expected warning at %ds", secs)
		}
	}
	for _, secs := range []int{45, 15, 6, 0} {
		if renderWarning(secs) != "" {
			t.Errorf("unexpected warning at %ds", secs)
		}
	}
}

func TestRenderAnnouncementShowsQuickLadder(t *testing.T) {
	snap := Snapshot{PlayerName: "Alice", CurrentBid: 1200, LeadingTeam: "falcons"}
	text := renderAnnouncement(snap, 45)
	for _, want := range []string{"Alice", "1,200 shards", "falcons", "00:45", "1,300 shards", "1,700 shards"} {
		if !strings.Contains(text, want) {
			t.Errorf("announcement missing %q:\n%s", want, text)
		}
	}
}
