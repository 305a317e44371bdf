package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuctionActive signals a start attempt while the room already has a
	// live auction.
	ErrAuctionActive = errors.New("engine: an auction is already active in this room")
	// ErrNoActiveAuction signals a bid or finalize against a room with no
	// live auction.
	ErrNoActiveAuction = errors.New("engine: no active auction")
	// ErrTeamFull signals the bidder's team is at roster capacity.
	ErrTeamFull = errors.New("engine: team has reached maximum capacity")
	// ErrAlreadyLeading rejects a team bidding over its own leading bid.
	ErrAlreadyLeading = errors.New("engine: team is already leading")
	// ErrBidTooLow rejects an amount below the minimum next bid.
	ErrBidTooLow = errors.New("engine: bid below minimum next bid")
	// ErrInvalidIncrement rejects explicit amounts not in multiples of 100.
	ErrInvalidIncrement = errors.New("engine: direct bids must be in multiples of 100")
	// ErrInsufficientPurse rejects amounts above the team's remaining purse.
	ErrInsufficientPurse = errors.New("engine: insufficient purse")
	// ErrInvalidBasePrice rejects non-positive base prices at auction start.
	ErrInvalidBasePrice = errors.New("engine: base price must be positive")
)

// CooldownError reports how long a team must wait before its next bid.
// Match with errors.As.
type CooldownError struct {
	Team      string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("engine: team %s on cooldown for %s", e.Team, e.Remaining.Round(time.Second))
}
