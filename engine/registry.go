package engine

import (
	"sync"
	"time"
)

// Registry maps room ids to at most one live auction each. Insert and remove
// are atomic per room: two simultaneous starts for one room cannot both win.
type Registry struct {
	mu       sync.RWMutex
	auctions map[string]*Auction
}

func NewRegistry() *Registry {
	return &Registry{auctions: make(map[string]*Auction)}
}

// Start creates and registers a new auction for the room. It fails with
// ErrAuctionActive while a previous auction has not been retired.
func (r *Registry) Start(roomID, playerID, playerName string, basePrice int64) (*Auction, error) {
	if basePrice <= 0 {
		return nil, ErrInvalidBasePrice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[roomID]; ok {
		return nil, ErrAuctionActive
	}

	a := &Auction{
		roomID:        roomID,
		playerID:      playerID,
		playerName:    playerName,
		basePrice:     basePrice,
		currentBid:    basePrice,
		teamCooldowns: make(map[string]time.Time),
		active:        true,
	}
	r.auctions[roomID] = a
	return a, nil
}

// Get returns the room's auction, live or mid-settlement.
func (r *Registry) Get(roomID string) (*Auction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.auctions[roomID]
	return a, ok
}

// Remove retires the room's auction. Called exactly once, by settlement.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.auctions, roomID)
}

// Len reports the number of live auctions across all rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.auctions)
}
