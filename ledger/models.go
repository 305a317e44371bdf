package ledger

import "time"

// Player status values. Kept in sync with what the engine writes at
// settlement.
const (
	StatusUnsold = "unsold"
	StatusSold   = "sold"
)

// Tournament is one room's auction season. Purse is the budget every team
// starts with.
type Tournament struct {
	RoomID    string
	Title     string
	CreatedBy string
	Purse     int64
	Active    bool
	CreatedAt time.Time
}

// Team mirrors the teams table plus its bidder list.
type Team struct {
	RoomID    string
	Name      string
	OwnerID   string
	Purse     int64
	Bidders   []string
	CreatedAt time.Time
}

// TeamSummary is the purse-overview row shown by the purses command.
type TeamSummary struct {
	Name       string
	OwnerID    string
	Purse      int64
	RosterSize int
}

// Player mirrors the players table. Sold fields are nil until settlement.
type Player struct {
	RoomID    string
	ID        string
	FullName  string
	Username  *string
	Status    string
	BasePrice int64
	SoldTo    *string
	SoldPrice *int64
	SoldAt    *time.Time
}

// RosterEntry is one settled acquisition on a team's roster.
type RosterEntry struct {
	ID         string
	PlayerID   string
	PlayerName string
	Price      int64
	AcquiredAt time.Time
}
