package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"auctionhouse/auth"
	"auctionhouse/engine"
	"auctionhouse/ledger"
)

const historyLimit = 10

// Engine is the slice of the auction engine the dispatcher drives.
type Engine interface {
	StartAuction(ctx context.Context, roomID, playerID, playerName string, basePrice int64) (engine.Snapshot, error)
	PlaceBid(ctx context.Context, roomID, bidderID, team string, amount int64) (engine.BidRecord, error)
	Finalize(ctx context.Context, roomID string) (engine.Outcome, error)
	Status(roomID string) (engine.Snapshot, error)
}

// Store is the slice of the ledger the dispatcher reads.
type Store interface {
	GetPlayer(ctx context.Context, roomID, playerID string) (ledger.Player, error)
	NextUnsoldPlayer(ctx context.Context, roomID string) (ledger.Player, error)
	GetTeamByBidder(ctx context.Context, roomID, userID string) (ledger.Team, error)
	ListTeams(ctx context.Context, roomID string) ([]ledger.TeamSummary, error)
}

// Service routes room triggers onto engine and ledger operations. Every
// method returns the reply text for the room; expected rejections (a bid too
// low, a cooldown, no active auction) come back as reply text with a nil
// error so callers post them instead of failing the trigger.
type Service struct {
	engine Engine
	store  Store
}

func NewService(eng Engine, store Store) *Service {
	return &Service{engine: eng, store: store}
}

// StartAuction puts a specific player on the block. Co-owner and up.
func (s *Service) StartAuction(ctx context.Context, caller Caller, roomID, playerID string) (string, error) {
	if err := auth.Authorize(caller.Role, auth.RoleCoOwner); err != nil {
		return "Only tournament owners can start an auction.", nil
	}

	player, err := s.store.GetPlayer(ctx, roomID, playerID)
	if err != nil {
		if errors.Is(err, ledger.ErrPlayerNotFound) {
			return "That player is not registered in this room.", nil
		}
		return "", fmt.Errorf("dispatch: start auction: %w", err)
	}
	if player.Status == ledger.StatusSold {
		return fmt.Sprintf("%s has already been sold.", player.FullName), nil
	}

	return s.openAuction(ctx, roomID, player)
}

// NextAuction puts the highest-priced unsold player on the block.
func (s *Service) NextAuction(ctx context.Context, caller Caller, roomID string) (string, error) {
	if err := auth.Authorize(caller.Role, auth.RoleCoOwner); err != nil {
		return "Only tournament owners can start an auction.", nil
	}

	player, err := s.store.NextUnsoldPlayer(ctx, roomID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoUnsoldPlayers) {
			return "No unsold players left. The auction pool is empty.", nil
		}
		return "", fmt.Errorf("dispatch: next auction: %w", err)
	}

	return s.openAuction(ctx, roomID, player)
}

func (s *Service) openAuction(ctx context.Context, roomID string, player ledger.Player) (string, error) {
	snap, err := s.engine.StartAuction(ctx, roomID, player.ID, player.FullName, player.BasePrice)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAuctionActive):
			return "An auction is already running in this room. Finish it first.", nil
		case errors.Is(err, engine.ErrInvalidBasePrice):
			return fmt.Sprintf("%s has no base price set.", player.FullName), nil
		}
		return "", fmt.Errorf("dispatch: open auction: %w", err)
	}
	return fmt.Sprintf("Auction started for %s at %d shards.", snap.PlayerName, snap.BasePrice), nil
}

// PlaceBid submits an explicit-amount bid on behalf of the caller's team.
func (s *Service) PlaceBid(ctx context.Context, caller Caller, roomID string, amount int64) (string, error) {
	if amount <= 0 {
		return "Bid amount must be a positive number of shards.", nil
	}
	return s.bid(ctx, caller, roomID, amount)
}

// QuickBid submits a minimum-increment bid on behalf of the caller's team.
func (s *Service) QuickBid(ctx context.Context, caller Caller, roomID string) (string, error) {
	return s.bid(ctx, caller, roomID, 0)
}

func (s *Service) bid(ctx context.Context, caller Caller, roomID string, amount int64) (string, error) {
	team, err := s.store.GetTeamByBidder(ctx, roomID, caller.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrTeamNotFound) {
			return "You are not registered as a bidder for any team in this room.", nil
		}
		return "", fmt.Errorf("dispatch: resolve team: %w", err)
	}

	rec, err := s.engine.PlaceBid(ctx, roomID, caller.UserID, team.Name, amount)
	if err != nil {
		if reply := bidRejectionReply(err); reply != "" {
			return reply, nil
		}
		return "", fmt.Errorf("dispatch: place bid: %w", err)
	}
	return fmt.Sprintf("%s bids %d shards.", rec.Team, rec.Amount), nil
}

// bidRejectionReply maps the engine's bid rejections onto room replies.
// Returns "" for errors that are not user-facing.
func bidRejectionReply(err error) string {
	var cooldown *engine.CooldownError
	switch {
	case errors.Is(err, engine.ErrNoActiveAuction):
		return "There is no auction running right now."
	case errors.Is(err, engine.ErrTeamFull):
		return "Your team roster is full."
	case errors.Is(err, engine.ErrAlreadyLeading):
		return "Your team already holds the leading bid."
	case errors.Is(err, engine.ErrBidTooLow):
		return "Bid too low. You must clear the minimum increment."
	case errors.Is(err, engine.ErrInvalidIncrement):
		return "Bids must be placed in steps of 100 shards."
	case errors.Is(err, engine.ErrInsufficientPurse):
		return "Your team's purse cannot cover that bid."
	case errors.As(err, &cooldown):
		secs := int(cooldown.Remaining.Seconds())
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("Slow down! Your team can bid again in %d seconds.", secs)
	}
	return ""
}

// ForceFinalize settles the running auction immediately. Co-owner and up.
func (s *Service) ForceFinalize(ctx context.Context, caller Caller, roomID string) (string, error) {
	if err := auth.Authorize(caller.Role, auth.RoleCoOwner); err != nil {
		return "Only tournament owners can finalize an auction.", nil
	}

	outcome, err := s.engine.Finalize(ctx, roomID)
	if err != nil {
		if errors.Is(err, engine.ErrNoActiveAuction) {
			return "There is no auction running right now.", nil
		}
		return "", fmt.Errorf("dispatch: finalize: %w", err)
	}
	if outcome == engine.OutcomeSold {
		return "Auction finalized: sold.", nil
	}
	return "Auction finalized: unsold.", nil
}

// Status reports the running auction's state.
func (s *Service) Status(ctx context.Context, roomID string) (string, error) {
	snap, err := s.engine.Status(roomID)
	if err != nil {
		if errors.Is(err, engine.ErrNoActiveAuction) {
			return "There is no auction running right now.", nil
		}
		return "", fmt.Errorf("dispatch: status: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "On the block: %s (base %d shards)\n", snap.PlayerName, snap.BasePrice)
	if snap.LeadingTeam == "" {
		b.WriteString("No bids yet.")
	} else {
		fmt.Fprintf(&b, "Leading: %s at %d shards.", snap.LeadingTeam, snap.CurrentBid)
	}
	return b.String(), nil
}

// History lists the last 10 bids of the running auction, newest first.
func (s *Service) History(ctx context.Context, roomID string) (string, error) {
	snap, err := s.engine.Status(roomID)
	if err != nil {
		if errors.Is(err, engine.ErrNoActiveAuction) {
			return "There is no auction running right now.", nil
		}
		return "", fmt.Errorf("dispatch: history: %w", err)
	}
	if len(snap.Bids) == 0 {
		return "No bids yet.", nil
	}

	var b strings.Builder
	b.WriteString("Recent bids:\n")
	count := 0
	for i := len(snap.Bids) - 1; i >= 0 && count < historyLimit; i-- {
		rec := snap.Bids[i]
		fmt.Fprintf(&b, "%s - %d shards\n", rec.Team, rec.Amount)
		count++
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// TeamPurses lists every team's remaining purse and roster size.
func (s *Service) TeamPurses(ctx context.Context, roomID string) (string, error) {
	teams, err := s.store.ListTeams(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("dispatch: team purses: %w", err)
	}
	if len(teams) == 0 {
		return "No teams registered in this room.", nil
	}

	var b strings.Builder
	b.WriteString("Team purses:\n")
	for _, t := range teams {
		fmt.Fprintf(&b, "%s - %d shards, %d players\n", t.Name, t.Purse, t.RosterSize)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
