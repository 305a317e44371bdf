package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"auctionhouse/auth"
	"auctionhouse/db"
	"auctionhouse/dispatch"
	"auctionhouse/engine"
	"auctionhouse/ledger"
)

// triggerService is the slice of the dispatcher the HTTP surface exposes.
type triggerService interface {
	StartAuction(ctx context.Context, caller dispatch.Caller, roomID, playerID string) (string, error)
	NextAuction(ctx context.Context, caller dispatch.Caller, roomID string) (string, error)
	PlaceBid(ctx context.Context, caller dispatch.Caller, roomID string, amount int64) (string, error)
	QuickBid(ctx context.Context, caller dispatch.Caller, roomID string) (string, error)
	ForceFinalize(ctx context.Context, caller dispatch.Caller, roomID string) (string, error)
	Status(ctx context.Context, roomID string) (string, error)
	History(ctx context.Context, roomID string) (string, error)
	TeamPurses(ctx context.Context, roomID string) (string, error)
}

type tokenVerifier interface {
	VerifyToken(token string) (string, auth.Role, error)
}

// Server routes HTTP requests onto the dispatcher.
type Server struct {
	authService tokenVerifier
	triggers    triggerService
}

type triggerRequest struct {
	Command  string `json:"command"`
	PlayerID string `json:"player_id,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
}

type triggerResponse struct {
	Reply string `json:"reply"`
}

// handleTrigger serves POST /api/rooms/{roomID}/triggers.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/rooms/"), "/triggers")
	if roomID == "" || strings.Contains(roomID, "/") {
		http.Error(w, "bad room id", http.StatusBadRequest)
		return
	}

	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var (
		reply string
		err   error
	)
	switch req.Command {
	case "start":
		reply, err = s.triggers.StartAuction(ctx, caller, roomID, req.PlayerID)
	case "next":
		reply, err = s.triggers.NextAuction(ctx, caller, roomID)
	case "bid":
		reply, err = s.triggers.PlaceBid(ctx, caller, roomID, req.Amount)
	case "quickbid":
		reply, err = s.triggers.QuickBid(ctx, caller, roomID)
	case "finalize":
		reply, err = s.triggers.ForceFinalize(ctx, caller, roomID)
	case "status":
		reply, err = s.triggers.Status(ctx, roomID)
	case "history":
		reply, err = s.triggers.History(ctx, roomID)
	case "purses":
		reply, err = s.triggers.TeamPurses(ctx, roomID)
	default:
		http.Error(w, "unknown command", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("trigger %s in room %s: %v", req.Command, roomID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(triggerResponse{Reply: reply})
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (dispatch.Caller, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return dispatch.Caller{}, false
	}

	userID, role, err := s.authService.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return dispatch.Caller{}, false
	}
	return dispatch.Caller{UserID: userID, Role: role}, true
}

// logNotifier satisfies engine.Notifier with process logs. A chat transport
// slots in here without touching the engine.
type logNotifier struct{}

func (logNotifier) Announce(ctx context.Context, roomID, ref, text string) (string, error) {
	log.Printf("[%s] %s", roomID, text)
	return ref, nil
}

func (logNotifier) Broadcast(ctx context.Context, roomID, text string) error {
	log.Printf("[%s] %s", roomID, text)
	return nil
}

func main() {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	cfg := engine.Config{}
	if secs := os.Getenv("AUCTION_WAIT_SECONDS"); secs != "" {
		n, err := strconv.Atoi(secs)
		if err != nil || n <= 0 {
			log.Fatalf("invalid AUCTION_WAIT_SECONDS %q", secs)
		}
		cfg.ExtensionWindow = time.Duration(n) * time.Second
	}

	repo := ledger.NewRepository(pool)
	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	engineService := engine.NewService(repo, logNotifier{}, cfg)
	triggers := dispatch.NewService(engineService, repo)

	server := &Server{authService: authService, triggers: triggers}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rooms/", server.handleTrigger)

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	log.Printf("auctiond listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server: %v", err)
	}
}
