package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// TeamInfo is the slice of ledger state the bid processor validates against.
// It is read fresh per bid and never cached.
type TeamInfo struct {
	Name       string
	Purse      int64
	RosterSize int
}

// LedgerStore is the persistence collaborator the engine settles through.
type LedgerStore interface {
	GetTeam(ctx context.Context, roomID, team string) (TeamInfo, error)
	// DebitAndAcquire debits the team's purse and appends the acquisition
	// to its roster in one transaction.
	DebitAndAcquire(ctx context.Context, roomID, team string, amount int64, acq Acquisition) error
	SetPlayerStatus(ctx context.Context, roomID, playerID, status, soldTo string, soldPrice int64) error
}

// Notifier delivers rendered auction state to the room. Both methods are
// best-effort: the engine logs failures and keeps going.
type Notifier interface {
	// Announce creates or updates the room's live status message and
	// returns its handle. An empty ref creates a new message.
	Announce(ctx context.Context, roomID, ref, text string) (string, error)
	Broadcast(ctx context.Context, roomID, text string) error
}

// Service runs live auctions: one registry of rooms, one countdown goroutine
// per live auction, and a single mutation path shared by every trigger.
type Service struct {
	registry *Registry
	ledger   LedgerStore
	notifier Notifier
	logger   *log.Logger
	cfg      Config

	now   func() time.Time
	idGen func() string
}

func NewService(ledger LedgerStore, notifier Notifier, cfg Config) *Service {
	return &Service{
		registry: NewRegistry(),
		ledger:   ledger,
		notifier: notifier,
		logger:   log.Default(),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		idGen:    func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithLogger(logger *log.Logger) *Service {
	s.logger = logger
	return s
}

// Registry exposes the room registry, mainly for status queries and tests.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Config returns the effective engine configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// StartAuction registers a new auction for the room, announces it and starts
// its countdown. Fails with ErrAuctionActive while the room is busy.
func (s *Service) StartAuction(ctx context.Context, roomID, playerID, playerName string, basePrice int64) (Snapshot, error) {
	a, err := s.registry.Start(roomID, playerID, playerName, basePrice)
	if err != nil {
		return Snapshot{}, err
	}

	a.mu.Lock()
	a.deadline = s.now().Add(s.cfg.ExtensionWindow)
	s.startCountdownLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()

	s.refreshAnnouncement(ctx, a, snap)
	return snap, nil
}

// PlaceBid validates and applies one bid. amount == 0 requests a quick bid,
// accepted at exactly the minimum next amount. The whole check-and-apply
// sequence runs under the auction's lock; concurrent bids for one room are
// serialized and bids for different rooms never contend.
func (s *Service) PlaceBid(ctx context.Context, roomID, bidderID, team string, amount int64) (BidRecord, error) {
	a, ok := s.registry.Get(roomID)
	if !ok {
		return BidRecord{}, ErrNoActiveAuction
	}

	// Purse and roster come from the ledger before the lock is taken so
	// the round-trip never stalls other bidders.
	info, err := s.ledger.GetTeam(ctx, roomID, team)
	if err != nil {
		return BidRecord{}, fmt.Errorf("engine: read team %s: %w", team, err)
	}

	a.mu.Lock()

	if !a.active {
		a.mu.Unlock()
		return BidRecord{}, ErrNoActiveAuction
	}
	if info.RosterSize >= s.cfg.TeamCapacity {
		a.mu.Unlock()
		return BidRecord{}, ErrTeamFull
	}
	if a.leadingTeam == team {
		a.mu.Unlock()
		return BidRecord{}, ErrAlreadyLeading
	}

	minNext := MinimumNextBid(a.currentBid)
	accepted := minNext
	cooldown := s.cfg.QuickBidCooldown
	if amount != 0 {
		if amount < minNext {
			a.mu.Unlock()
			return BidRecord{}, ErrBidTooLow
		}
		if amount%100 != 0 {
			a.mu.Unlock()
			return BidRecord{}, ErrInvalidIncrement
		}
		accepted = amount
		cooldown = s.cfg.DirectBidCooldown
	}

	now := s.now()
	if last, ok := a.teamCooldowns[team]; ok {
		if wait := cooldown - now.Sub(last); wait > 0 {
			a.mu.Unlock()
			return BidRecord{}, &CooldownError{Team: team, Remaining: wait}
		}
	}

	if accepted > info.Purse {
		a.mu.Unlock()
		return BidRecord{}, ErrInsufficientPurse
	}

	rec := BidRecord{
		ID:       s.idGen(),
		BidderID: bidderID,
		Team:     team,
		Amount:   accepted,
		PlacedAt: now,
	}
	a.currentBid = accepted
	a.leadingTeam = team
	a.leadingBidderID = bidderID
	a.bidHistory = append(a.bidHistory, rec)
	a.teamCooldowns[team] = now
	a.deadline = now.Add(s.cfg.ExtensionWindow)
	s.startCountdownLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()

	s.refreshAnnouncement(ctx, a, snap)
	return rec, nil
}

// Finalize force-settles the room's auction ahead of its deadline.
func (s *Service) Finalize(ctx context.Context, roomID string) (Outcome, error) {
	a, ok := s.registry.Get(roomID)
	if !ok {
		return "", ErrNoActiveAuction
	}

	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return "", ErrNoActiveAuction
	}
	a.active = false
	snap := a.snapshotLocked()
	a.mu.Unlock()

	return s.commitOutcome(ctx, snap)
}

// Status returns a snapshot of the room's live auction.
func (s *Service) Status(roomID string) (Snapshot, error) {
	a, ok := s.registry.Get(roomID)
	if !ok {
		return Snapshot{}, ErrNoActiveAuction
	}
	snap := a.Snapshot()
	if !snap.Active {
		return Snapshot{}, ErrNoActiveAuction
	}
	return snap, nil
}

// commitOutcome writes the terminal result to the ledger and tells the room.
// The caller has already flipped the auction inactive under its lock, so this
// runs at most once per auction. The auction is retired from the registry no
// matter how the ledger writes go; a failed settlement never wedges the room.
func (s *Service) commitOutcome(ctx context.Context, snap Snapshot) (Outcome, error) {
	defer s.registry.Remove(snap.RoomID)

	if snap.LeadingTeam == "" {
		if err := s.ledger.SetPlayerStatus(ctx, snap.RoomID, snap.PlayerID, StatusUnsold, "", 0); err != nil {
			s.reportSettlementFailure(ctx, snap, err)
			return OutcomeUnsold, fmt.Errorf("engine: mark player unsold: %w", err)
		}
		s.broadcast(ctx, snap.RoomID, renderUnsold(snap))
		return OutcomeUnsold, nil
	}

	acq := Acquisition{
		ID:         s.idGen(),
		PlayerID:   snap.PlayerID,
		PlayerName: snap.PlayerName,
		Price:      snap.CurrentBid,
		AcquiredAt: s.now(),
	}
	if err := s.ledger.DebitAndAcquire(ctx, snap.RoomID, snap.LeadingTeam, snap.CurrentBid, acq); err != nil {
		s.reportSettlementFailure(ctx, snap, err)
		return OutcomeSold, fmt.Errorf("engine: debit team %s: %w", snap.LeadingTeam, err)
	}
	if err := s.ledger.SetPlayerStatus(ctx, snap.RoomID, snap.PlayerID, StatusSold, snap.LeadingTeam, snap.CurrentBid); err != nil {
		s.reportSettlementFailure(ctx, snap, err)
		return OutcomeSold, fmt.Errorf("engine: mark player sold: %w", err)
	}

	s.broadcast(ctx, snap.RoomID, renderSold(snap))
	return OutcomeSold, nil
}

// refreshAnnouncement re-renders the live status message. Best-effort.
func (s *Service) refreshAnnouncement(ctx context.Context, a *Auction, snap Snapshot) {
	remaining := int(snap.Deadline.Sub(s.now()) / time.Second)
	text := renderAnnouncement(snap, remaining)

	a.mu.Lock()
	ref := a.announcementRef
	a.mu.Unlock()

	newRef, err := s.notifier.Announce(ctx, snap.RoomID, ref, text)
	if err != nil {
		s.logger.Printf("WARN: announce room %s: %v", snap.RoomID, err)
		return
	}

	a.mu.Lock()
	a.announcementRef = newRef
	a.mu.Unlock()
}

func (s *Service) broadcast(ctx context.Context, roomID, text string) {
	if err := s.notifier.Broadcast(ctx, roomID, text); err != nil {
		s.logger.Printf("WARN: broadcast room %s: %v", roomID, err)
	}
}

func (s *Service) reportSettlementFailure(ctx context.Context, snap Snapshot, err error) {
	s.logger.Printf("ERROR: settlement room %s player %s: %v", snap.RoomID, snap.PlayerID, err)
	s.broadcast(ctx, snap.RoomID, renderSettlementFailure(snap))
}
