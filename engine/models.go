package engine

import (
	"sync"
	"time"
)

// Player status values written to the ledger at settlement.
const (
	StatusUnsold = "unsold"
	StatusSold   = "sold"
)

// Outcome is the terminal result of one auction.
type Outcome string

const (
	OutcomeSold   Outcome = "sold"
	OutcomeUnsold Outcome = "unsold"
)

// Config carries the tunable timing constants of the engine. Zero values fall
// back to the defaults the bot originally shipped with.
type Config struct {
	// ExtensionWindow is both the initial countdown and the amount the
	// deadline moves forward on every accepted bid.
	ExtensionWindow time.Duration
	// DirectBidCooldown throttles explicit-amount bids per team.
	DirectBidCooldown time.Duration
	// QuickBidCooldown throttles minimum-increment bids per team.
	QuickBidCooldown time.Duration
	// TickInterval is the countdown poll granularity.
	TickInterval time.Duration
	// TeamCapacity is the maximum roster size per team.
	TeamCapacity int
}

func (c Config) withDefaults() Config {
	if c.ExtensionWindow <= 0 {
		c.ExtensionWindow = 60 * time.Second
	}
	if c.DirectBidCooldown <= 0 {
		c.DirectBidCooldown = 15 * time.Second
	}
	if c.QuickBidCooldown <= 0 {
		c.QuickBidCooldown = 8 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.TeamCapacity <= 0 {
		c.TeamCapacity = 11
	}
	return c
}

// BidRecord is one accepted bid in an auction's history.
type BidRecord struct {
	ID       string
	BidderID string
	Team     string
	Amount   int64
	PlacedAt time.Time
}

// Acquisition describes a settled purchase appended to a team's roster.
type Acquisition struct {
	ID         string
	PlayerID   string
	PlayerName string
	Price      int64
	AcquiredAt time.Time
}

// Auction is the live state machine for one room. All mutable fields are
// guarded by mu; different rooms never share a lock.
type Auction struct {
	mu sync.Mutex

	roomID     string
	playerID   string
	playerName string
	basePrice  int64

	currentBid      int64
	leadingTeam     string
	leadingBidderID string
	deadline        time.Time
	bidHistory      []BidRecord
	teamCooldowns   map[string]time.Time
	active          bool

	// announcementRef is the Notifier-owned handle of the status message.
	announcementRef string

	// countdownRunning tracks whether a countdown goroutine owns this
	// auction's deadline. The bid processor restarts a lapsed one.
	countdownRunning bool
}

// Snapshot is a point-in-time copy of an auction's public state.
type Snapshot struct {
	RoomID          string
	PlayerID        string
	PlayerName      string
	BasePrice       int64
	CurrentBid      int64
	LeadingTeam     string
	LeadingBidderID string
	Deadline        time.Time
	Active          bool
	Bids            []BidRecord
}

// Snapshot copies the auction state under its lock.
func (a *Auction) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Auction) snapshotLocked() Snapshot {
	bids := make([]BidRecord, len(a.bidHistory))
	copy(bids, a.bidHistory)
	return Snapshot{
		RoomID:          a.roomID,
		PlayerID:        a.playerID,
		PlayerName:      a.playerName,
		BasePrice:       a.basePrice,
		CurrentBid:      a.currentBid,
		LeadingTeam:     a.leadingTeam,
		LeadingBidderID: a.leadingBidderID,
		Deadline:        a.deadline,
		Active:          a.active,
		Bids:            bids,
	}
}
