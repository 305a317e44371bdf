package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"auctionhouse/engine"
	"auctionhouse/ledger"
	"auctionhouse/test/infra"
)

var (
	flDuration = flag.Duration("stress-duration", 2*time.Second, "how long bidders keep bidding per room")
	flRooms    = flag.Int("stress-rooms", 4, "number of concurrent auction rooms")
	flBidders  = flag.Int("stress-bidders", 6, "number of bidder actors per room")
	flSeed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN      = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// TestAuctionConcurrencyStress hammers the engine with concurrent bidders in
// several rooms at once, then checks the invariants every auction must hold:
// bids strictly increasing by at least the tier increment, no team outbidding
// itself back to back, and exactly one settlement per room.
func TestAuctionConcurrencyStress(t *testing.T) {
	flag.Parse()
	rng := rand.New(rand.NewSource(*flSeed))
	t.Logf("seed=%d rooms=%d bidders=%d", *flSeed, *flRooms, *flBidders)

	store := newStressLedger()
	for room := 0; room < *flRooms; room++ {
		roomID := fmt.Sprintf("room-%d", room)
		for b := 0; b < *flBidders; b++ {
			store.addTeam(roomID, fmt.Sprintf("team-%d", b), 1_000_000)
		}
	}

	cfg := engine.Config{
		ExtensionWindow:   300 * time.Millisecond,
		DirectBidCooldown: 10 * time.Millisecond,
		QuickBidCooldown:  10 * time.Millisecond,
		TickInterval:      20 * time.Millisecond,
	}
	svc := engine.NewService(store, nopNotifier{}, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	monitors, mctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for room := 0; room < *flRooms; room++ {
		roomID := fmt.Sprintf("room-%d", room)
		if _, err := svc.StartAuction(ctx, roomID, fmt.Sprintf("player-%d", room), fmt.Sprintf("Player %d", room), 500); err != nil {
			t.Fatalf("start auction %s: %v", roomID, err)
		}

		for b := 0; b < *flBidders; b++ {
			team := fmt.Sprintf("team-%d", b)
			bidderID := fmt.Sprintf("%s-bidder-%d", roomID, b)
			seed := rng.Int63()
			g.Go(func() error {
				return bidderActor(gctx, svc, roomID, bidderID, team, seed, stop)
			})
		}
		monitors.Go(func() error {
			return monitorActor(mctx, svc, store, roomID)
		})
	}

	time.AfterFunc(*flDuration, func() { close(stop) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("bidders errored: %v", err)
	}

	// Capture the final history of every still-active room before forcing
	// settlements, so the audit below sees the last accepted bid.
	for room := 0; room < *flRooms; room++ {
		roomID := fmt.Sprintf("room-%d", room)
		if snap, err := svc.Status(roomID); err == nil {
			store.setRoomBids(roomID, snap.Bids)
		}
	}

	// Rooms with even index get racing forced finalizes on top of the
	// countdown; odd rooms settle by natural expiry alone.
	for room := 0; room < *flRooms; room += 2 {
		roomID := fmt.Sprintf("room-%d", room)
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Finalize(ctx, roomID)
				if err != nil && !errors.Is(err, engine.ErrNoActiveAuction) {
					t.Errorf("finalize %s: %v", roomID, err)
				}
			}()
		}
		wg.Wait()
	}

	for room := 0; room < *flRooms; room++ {
		waitForRetirement(t, svc, fmt.Sprintf("room-%d", room), 5*time.Second)
	}
	if err := monitors.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("monitors errored: %v", err)
	}
	for room := 0; room < *flRooms; room++ {
		checkRoomInvariants(t, store, fmt.Sprintf("room-%d", room))
	}
}

// monitorActor mirrors the auction's bid history into the stress ledger so
// invariants can be audited after the room retires.
func monitorActor(ctx context.Context, svc *engine.Service, store *stressLedger, roomID string) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		snap, err := svc.Status(roomID)
		if err != nil {
			if errors.Is(err, engine.ErrNoActiveAuction) {
				return nil
			}
			return fmt.Errorf("monitor %s: %w", roomID, err)
		}
		store.setRoomBids(roomID, snap.Bids)
	}
}

func bidderActor(ctx context.Context, svc *engine.Service, roomID, bidderID, team string, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-time.After(time.Duration(rng.Intn(15)+1) * time.Millisecond):
		}

		var amount int64 // quick bid by default
		if rng.Intn(4) == 0 {
			if snap, err := svc.Status(roomID); err == nil {
				step := engine.MinimumNextBid(snap.CurrentBid) - snap.CurrentBid
				amount = engine.MinimumNextBid(snap.CurrentBid) + int64(rng.Intn(3))*step
				if amount%100 != 0 {
					amount = 0
				}
			}
		}

		_, err := svc.PlaceBid(ctx, roomID, bidderID, team, amount)
		if err == nil {
			continue
		}
		if errors.Is(err, engine.ErrNoActiveAuction) {
			return nil
		}
		var cooldown *engine.CooldownError
		switch {
		case errors.Is(err, engine.ErrAlreadyLeading),
			errors.Is(err, engine.ErrBidTooLow),
			errors.Is(err, engine.ErrInvalidIncrement),
			errors.Is(err, engine.ErrInsufficientPurse),
			errors.Is(err, engine.ErrTeamFull),
			errors.As(err, &cooldown):
			// expected contention, keep going
		default:
			return fmt.Errorf("bidder %s: %w", bidderID, err)
		}
	}
}

func checkRoomInvariants(t *testing.T, store *stressLedger, roomID string) {
	t.Helper()

	statusWrites, sale := store.roomOutcome(roomID)
	if statusWrites != 1 {
		t.Errorf("%s: %d settlement writes, want exactly 1", roomID, statusWrites)
	}

	bids := store.roomBids(roomID)
	prev := int64(0)
	prevTeam := ""
	for i, rec := range bids {
		if i > 0 {
			if rec.Amount < engine.MinimumNextBid(prev) {
				t.Errorf("%s: bid %d (%d) below minimum after %d", roomID, i, rec.Amount, prev)
			}
			if rec.Team == prevTeam {
				t.Errorf("%s: team %s holds two consecutive bids", roomID, rec.Team)
			}
		}
		prev = rec.Amount
		prevTeam = rec.Team
	}

	if sale != nil {
		if len(bids) == 0 {
			t.Errorf("%s: sold with empty bid history", roomID)
		} else if last := bids[len(bids)-1]; sale.price != last.Amount || sale.team != last.Team {
			t.Errorf("%s: sale (%s, %d) does not match last bid (%s, %d)",
				roomID, sale.team, sale.price, last.Team, last.Amount)
		}
	} else if len(bids) > 0 {
		t.Errorf("%s: bids were placed but player went unsold", roomID)
	}

	for team, purse := range store.roomPurses(roomID) {
		if purse < 0 {
			t.Errorf("%s: team %s purse went negative: %d", roomID, team, purse)
		}
	}
}

// TestLedgerDebitRace runs concurrent settlements against a real Postgres and
// verifies the purse guard: with a purse that covers only some of the racing
// debits, the rest fail with ErrInsufficientPurse and the balance never goes
// negative.
func TestLedgerDebitRace(t *testing.T) {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("AUCTION_STRESS_PG_DSN") != "":
		dsn = os.Getenv("AUCTION_STRESS_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if !dockerAvailable(ctx) {
			t.Skip("docker unavailable and no DSN provided")
		}
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	repo := ledger.NewRepository(pool)
	roomID := fmt.Sprintf("race-%d", time.Now().UnixNano())

	if _, err := repo.CreateTournament(ctx, roomID, "Race Cup", "owner-1", 2500); err != nil {
		t.Fatalf("seed tournament: %v", err)
	}
	if _, err := repo.CreateTeam(ctx, roomID, "falcons", "owner-1"); err != nil {
		t.Fatalf("seed team: %v", err)
	}

	// Purse 2500, each debit 1000: at most two can succeed.
	const attempts = 8
	results := make([]error, attempts)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			acq := engine.Acquisition{
				ID:         uuid.NewString(),
				PlayerID:   uuid.NewString(),
				PlayerName: "Racer",
				Price:      1000,
				AcquiredAt: time.Now().UTC(),
			}
			results[i] = repo.DebitAndAcquire(gctx, roomID, "falcons", 1000, acq)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("debit actors: %v", err)
	}

	var succeeded int
	for _, res := range results {
		switch {
		case res == nil:
			succeeded++
		case errors.Is(res, ledger.ErrInsufficientPurse):
		default:
			t.Fatalf("unexpected debit error: %v", res)
		}
	}
	if succeeded != 2 {
		t.Fatalf("%d debits succeeded, want exactly 2", succeeded)
	}

	info, err := repo.GetTeam(ctx, roomID, "falcons")
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if info.Purse != 500 || info.RosterSize != 2 {
		t.Fatalf("final purse=%d roster=%d, want 500/2", info.Purse, info.RosterSize)
	}
}

func waitForRetirement(t *testing.T, svc *engine.Service, roomID string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := svc.Registry().Get(roomID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s: auction not retired within %s", roomID, timeout)
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type nopNotifier struct{}

func (nopNotifier) Announce(ctx context.Context, roomID, ref, text string) (string, error) {
	return ref, nil
}

func (nopNotifier) Broadcast(ctx context.Context, roomID, text string) error { return nil }

type sale struct {
	team  string
	price int64
}

// stressLedger is a thread-safe in-memory engine.LedgerStore that records
// every settlement write so oracles can audit them afterwards.
type stressLedger struct {
	mu           sync.Mutex
	purses       map[string]map[string]int64
	rosters      map[string]map[string]int
	bids         map[string][]engine.BidRecord
	statusWrites map[string]int
	sales        map[string]*sale
}

func newStressLedger() *stressLedger {
	return &stressLedger{
		purses:       make(map[string]map[string]int64),
		rosters:      make(map[string]map[string]int),
		bids:         make(map[string][]engine.BidRecord),
		statusWrites: make(map[string]int),
		sales:        make(map[string]*sale),
	}
}

func (s *stressLedger) addTeam(roomID, team string, purse int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purses[roomID] == nil {
		s.purses[roomID] = make(map[string]int64)
		s.rosters[roomID] = make(map[string]int)
	}
	s.purses[roomID][team] = purse
}

func (s *stressLedger) GetTeam(ctx context.Context, roomID, team string) (engine.TeamInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purse, ok := s.purses[roomID][team]
	if !ok {
		return engine.TeamInfo{}, fmt.Errorf("stress ledger: unknown team %s/%s", roomID, team)
	}
	return engine.TeamInfo{Name: team, Purse: purse, RosterSize: s.rosters[roomID][team]}, nil
}

func (s *stressLedger) DebitAndAcquire(ctx context.Context, roomID, team string, amount int64, acq engine.Acquisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purses[roomID][team] -= amount
	s.rosters[roomID][team]++
	s.sales[roomID] = &sale{team: team, price: amount}
	return nil
}

func (s *stressLedger) SetPlayerStatus(ctx context.Context, roomID, playerID, status, soldTo string, soldPrice int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusWrites[roomID]++
	return nil
}

func (s *stressLedger) roomBids(roomID string) []engine.BidRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.BidRecord, len(s.bids[roomID]))
	copy(out, s.bids[roomID])
	return out
}

func (s *stressLedger) setRoomBids(roomID string, bids []engine.BidRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[roomID] = bids
}

func (s *stressLedger) roomOutcome(roomID string) (statusWrites int, sold *sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusWrites[roomID], s.sales[roomID]
}

func (s *stressLedger) roomPurses(roomID string) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.purses[roomID]))
	for team, purse := range s.purses[roomID] {
		out[team] = purse
	}
	return out
}
