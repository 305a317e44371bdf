package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"auctionhouse/engine"
)

var (
	// ErrTournamentNotFound signals the room has no tournament.
	ErrTournamentNotFound = errors.New("ledger: tournament not found")
	// ErrTournamentActive signals a tournament already exists for the room.
	ErrTournamentActive = errors.New("ledger: tournament already active")
	// ErrTeamNotFound signals the requested team does not exist in the room.
	ErrTeamNotFound = errors.New("ledger: team not found")
	// ErrDuplicateTeam signals a team with this name or owner already exists.
	ErrDuplicateTeam = errors.New("ledger: team name or owner already registered")
	// ErrPlayerNotFound signals the player is not registered in the room.
	ErrPlayerNotFound = errors.New("ledger: player not found")
	// ErrDuplicatePlayer signals the player is already registered.
	ErrDuplicatePlayer = errors.New("ledger: player already registered")
	// ErrInsufficientPurse signals a debit larger than the team's purse.
	ErrInsufficientPurse = errors.New("ledger: insufficient purse")
	// ErrNotSold signals a reset attempt on a player that was never sold.
	ErrNotSold = errors.New("ledger: player has not been sold")
	// ErrNoUnsoldPlayers signals every registered player has been sold.
	ErrNoUnsoldPlayers = errors.New("ledger: no unsold players left")
)

const pgUniqueViolation = "23505"

// Repository is the PostgreSQL-backed ledger store. It implements
// engine.LedgerStore plus the tournament/team/player management surface.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// --- engine.LedgerStore ---

// GetTeam returns the purse and roster size the bid processor validates
// against.
func (r *Repository) GetTeam(ctx context.Context, roomID, team string) (engine.TeamInfo, error) {
	const query = `
		SELECT t.name, t.purse, COUNT(a.id)
		FROM teams t
		LEFT JOIN acquisitions a ON a.room_id = t.room_id AND a.team_name = t.name
		WHERE t.room_id = $1 AND t.name = $2
		GROUP BY t.name, t.purse
	`

	var info engine.TeamInfo
	err := r.pool.QueryRow(ctx, query, roomID, team).Scan(&info.Name, &info.Purse, &info.RosterSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.TeamInfo{}, ErrTeamNotFound
		}
		return engine.TeamInfo{}, fmt.Errorf("ledger: get team: %w", err)
	}
	return info, nil
}

// DebitAndAcquire debits the winning team's purse and appends the acquisition
// to its roster in one transaction. The purse guard is enforced in SQL so a
// concurrent settlement in another process cannot overdraw.
func (r *Repository) DebitAndAcquire(ctx context.Context, roomID, team string, amount int64, acq engine.Acquisition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin debit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE teams SET purse = purse - $1
		WHERE room_id = $2 AND name = $3 AND purse >= $1
	`, amount, roomID, team)
	if err != nil {
		return fmt.Errorf("ledger: debit purse: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM teams WHERE room_id = $1 AND name = $2)`,
			roomID, team).Scan(&exists); err != nil {
			return fmt.Errorf("ledger: check team: %w", err)
		}
		if !exists {
			return ErrTeamNotFound
		}
		return ErrInsufficientPurse
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO acquisitions (id, room_id, team_name, player_id, player_name, price, acquired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, acq.ID, roomID, team, acq.PlayerID, acq.PlayerName, acq.Price, acq.AcquiredAt)
	if err != nil {
		return fmt.Errorf("ledger: record acquisition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit debit tx: %w", err)
	}
	return nil
}

// SetPlayerStatus records the settlement outcome on the player row.
func (r *Repository) SetPlayerStatus(ctx context.Context, roomID, playerID, status, soldTo string, soldPrice int64) error {
	var tag pgconn.CommandTag
	var err error
	if status == StatusSold {
		tag, err = r.pool.Exec(ctx, `
			UPDATE players SET status = $1, sold_to = $2, sold_price = $3, sold_at = now()
			WHERE room_id = $4 AND user_id = $5
		`, status, soldTo, soldPrice, roomID, playerID)
	} else {
		tag, err = r.pool.Exec(ctx, `
			UPDATE players SET status = $1, sold_to = NULL, sold_price = NULL, sold_at = NULL
			WHERE room_id = $2 AND user_id = $3
		`, status, roomID, playerID)
	}
	if err != nil {
		return fmt.Errorf("ledger: set player status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// --- tournaments ---

// CreateTournament opens a room's tournament. Purse is the starting budget
// for every team registered afterwards.
func (r *Repository) CreateTournament(ctx context.Context, roomID, title, createdBy string, purse int64) (Tournament, error) {
	const query = `
		INSERT INTO tournaments (room_id, title, created_by, purse)
		VALUES ($1, $2, $3, $4)
		RETURNING room_id, title, created_by, purse, active, created_at
	`

	var tour Tournament
	err := r.pool.QueryRow(ctx, query, roomID, title, createdBy, purse).Scan(
		&tour.RoomID, &tour.Title, &tour.CreatedBy, &tour.Purse, &tour.Active, &tour.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Tournament{}, ErrTournamentActive
		}
		return Tournament{}, fmt.Errorf("ledger: create tournament: %w", err)
	}
	return tour, nil
}

// GetTournament fetches the room's tournament.
func (r *Repository) GetTournament(ctx context.Context, roomID string) (Tournament, error) {
	const query = `
		SELECT room_id, title, created_by, purse, active, created_at
		FROM tournaments
		WHERE room_id = $1
	`

	var tour Tournament
	err := r.pool.QueryRow(ctx, query, roomID).Scan(
		&tour.RoomID, &tour.Title, &tour.CreatedBy, &tour.Purse, &tour.Active, &tour.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tournament{}, ErrTournamentNotFound
		}
		return Tournament{}, fmt.Errorf("ledger: get tournament: %w", err)
	}
	return tour, nil
}

// StopTournament removes the room's tournament record.
func (r *Repository) StopTournament(ctx context.Context, roomID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tournaments WHERE room_id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("ledger: stop tournament: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTournamentNotFound
	}
	return nil
}

// ClearRoom deletes every player and team in the room. Rosters and bidder
// lists go with their teams via cascade.
func (r *Repository) ClearRoom(ctx context.Context, roomID string) (playersRemoved, teamsRemoved int64, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: begin clear tx: %w", err)
	}
	defer tx.Rollback(ctx)

	pTag, err := tx.Exec(ctx, `DELETE FROM players WHERE room_id = $1`, roomID)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: clear players: %w", err)
	}
	tTag, err := tx.Exec(ctx, `DELETE FROM teams WHERE room_id = $1`, roomID)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: clear teams: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("ledger: commit clear tx: %w", err)
	}
	return pTag.RowsAffected(), tTag.RowsAffected(), nil
}

// --- teams ---

// CreateTeam registers a team with the tournament's starting purse. The
// owner becomes its first bidder.
func (r *Repository) CreateTeam(ctx context.Context, roomID, name, ownerID string) (Team, error) {
	tour, err := r.GetTournament(ctx, roomID)
	if err != nil {
		return Team{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Team{}, fmt.Errorf("ledger: begin team tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var team Team
	err = tx.QueryRow(ctx, `
		INSERT INTO teams (room_id, name, owner_id, purse)
		VALUES ($1, $2, $3, $4)
		RETURNING room_id, name, owner_id, purse, created_at
	`, roomID, name, ownerID, tour.Purse).Scan(
		&team.RoomID, &team.Name, &team.OwnerID, &team.Purse, &team.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Team{}, ErrDuplicateTeam
		}
		return Team{}, fmt.Errorf("ledger: create team: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO team_bidders (room_id, team_name, user_id)
		VALUES ($1, $2, $3)
	`, roomID, name, ownerID); err != nil {
		return Team{}, fmt.Errorf("ledger: add owner as bidder: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Team{}, fmt.Errorf("ledger: commit team tx: %w", err)
	}

	team.Bidders = []string{ownerID}
	return team, nil
}

// AddBidder allows a user to bid on the team's behalf.
func (r *Repository) AddBidder(ctx context.Context, roomID, team, userID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM teams WHERE room_id = $1 AND name = $2)`,
		roomID, team).Scan(&exists); err != nil {
		return fmt.Errorf("ledger: check team: %w", err)
	}
	if !exists {
		return ErrTeamNotFound
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO team_bidders (room_id, team_name, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, roomID, team, userID)
	if err != nil {
		return fmt.Errorf("ledger: add bidder: %w", err)
	}
	return nil
}

// RemoveBidder revokes a user's bidding rights for the team.
func (r *Repository) RemoveBidder(ctx context.Context, roomID, team, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM team_bidders WHERE room_id = $1 AND team_name = $2 AND user_id = $3
	`, roomID, team, userID)
	if err != nil {
		return fmt.Errorf("ledger: remove bidder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTeamNotFound
	}
	return nil
}

// GetTeamByBidder resolves which team a user bids for in the room.
func (r *Repository) GetTeamByBidder(ctx context.Context, roomID, userID string) (Team, error) {
	const query = `
		SELECT t.room_id, t.name, t.owner_id, t.purse, t.created_at
		FROM teams t
		JOIN team_bidders b ON b.room_id = t.room_id AND b.team_name = t.name
		WHERE t.room_id = $1 AND b.user_id = $2
	`

	var team Team
	err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(
		&team.RoomID, &team.Name, &team.OwnerID, &team.Purse, &team.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Team{}, ErrTeamNotFound
		}
		return Team{}, fmt.Errorf("ledger: get team by bidder: %w", err)
	}
	return team, nil
}

// ListTeams returns the purse overview for every team in the room.
func (r *Repository) ListTeams(ctx context.Context, roomID string) ([]TeamSummary, error) {
	const query = `
		SELECT t.name, t.owner_id, t.purse, COUNT(a.id)
		FROM teams t
		LEFT JOIN acquisitions a ON a.room_id = t.room_id AND a.team_name = t.name
		WHERE t.room_id = $1
		GROUP BY t.name, t.owner_id, t.purse
		ORDER BY t.name ASC
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list teams: %w", err)
	}
	defer rows.Close()

	var teams []TeamSummary
	for rows.Next() {
		var t TeamSummary
		if err := rows.Scan(&t.Name, &t.OwnerID, &t.Purse, &t.RosterSize); err != nil {
			return nil, fmt.Errorf("ledger: scan team summary: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate teams: %w", err)
	}
	return teams, nil
}

// GetTeamRoster lists a team's settled acquisitions in purchase order.
func (r *Repository) GetTeamRoster(ctx context.Context, roomID, team string) ([]RosterEntry, error) {
	const query = `
		SELECT id, player_id, player_name, price, acquired_at
		FROM acquisitions
		WHERE room_id = $1 AND team_name = $2
		ORDER BY acquired_at ASC
	`

	rows, err := r.pool.Query(ctx, query, roomID, team)
	if err != nil {
		return nil, fmt.Errorf("ledger: get roster: %w", err)
	}
	defer rows.Close()

	var roster []RosterEntry
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.PlayerName, &e.Price, &e.AcquiredAt); err != nil {
			return nil, fmt.Errorf("ledger: scan roster entry: %w", err)
		}
		roster = append(roster, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate roster: %w", err)
	}
	return roster, nil
}

// --- players ---

// AddPlayer registers a player as unsold.
func (r *Repository) AddPlayer(ctx context.Context, roomID, playerID, fullName string, username *string, basePrice int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO players (room_id, user_id, full_name, username, status, base_price)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, roomID, playerID, fullName, username, StatusUnsold, basePrice)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicatePlayer
		}
		return fmt.Errorf("ledger: add player: %w", err)
	}
	return nil
}

// EnsurePlayer registers the player if they are missing; an existing row is
// left untouched.
func (r *Repository) EnsurePlayer(ctx context.Context, roomID, playerID, fullName string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO players (room_id, user_id, full_name, status, base_price)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, playerID, fullName, StatusUnsold)
	if err != nil {
		return fmt.Errorf("ledger: ensure player: %w", err)
	}
	return nil
}

// SetPlayerBasePrice updates the player's starting price before auction.
func (r *Repository) SetPlayerBasePrice(ctx context.Context, roomID, playerID string, basePrice int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE players SET base_price = $1 WHERE room_id = $2 AND user_id = $3
	`, basePrice, roomID, playerID)
	if err != nil {
		return fmt.Errorf("ledger: set base price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// GetPlayer fetches one player record.
func (r *Repository) GetPlayer(ctx context.Context, roomID, playerID string) (Player, error) {
	const query = `
		SELECT room_id, user_id, full_name, username, status, base_price, sold_to, sold_price, sold_at
		FROM players
		WHERE room_id = $1 AND user_id = $2
	`

	var p Player
	err := r.pool.QueryRow(ctx, query, roomID, playerID).Scan(
		&p.RoomID, &p.ID, &p.FullName, &p.Username, &p.Status, &p.BasePrice, &p.SoldTo, &p.SoldPrice, &p.SoldAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, ErrPlayerNotFound
		}
		return Player{}, fmt.Errorf("ledger: get player: %w", err)
	}
	return p, nil
}

// RemovePlayer deletes a player from the room.
func (r *Repository) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM players WHERE room_id = $1 AND user_id = $2`, roomID, playerID)
	if err != nil {
		return fmt.Errorf("ledger: remove player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// ResetPlayer reverts a sold player to unsold, refunding the sale price to
// the buying team and pulling the player off its roster. One transaction so
// a crash cannot refund without releasing the player or vice versa.
func (r *Repository) ResetPlayer(ctx context.Context, roomID, playerID string) (refund int64, team string, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("ledger: begin reset tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var soldTo *string
	var soldPrice *int64
	err = tx.QueryRow(ctx, `
		SELECT sold_to, sold_price FROM players
		WHERE room_id = $1 AND user_id = $2 AND status = $3
		FOR UPDATE
	`, roomID, playerID, StatusSold).Scan(&soldTo, &soldPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", ErrNotSold
		}
		return 0, "", fmt.Errorf("ledger: read sold player: %w", err)
	}
	if soldTo == nil || soldPrice == nil {
		return 0, "", ErrNotSold
	}

	if _, err := tx.Exec(ctx, `
		UPDATE teams SET purse = purse + $1 WHERE room_id = $2 AND name = $3
	`, *soldPrice, roomID, *soldTo); err != nil {
		return 0, "", fmt.Errorf("ledger: refund purse: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM acquisitions WHERE room_id = $1 AND team_name = $2 AND player_id = $3
	`, roomID, *soldTo, playerID); err != nil {
		return 0, "", fmt.Errorf("ledger: remove acquisition: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE players SET status = $1, sold_to = NULL, sold_price = NULL, sold_at = NULL
		WHERE room_id = $2 AND user_id = $3
	`, StatusUnsold, roomID, playerID); err != nil {
		return 0, "", fmt.Errorf("ledger: reset player: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, "", fmt.Errorf("ledger: commit reset tx: %w", err)
	}
	return *soldPrice, *soldTo, nil
}

// ListPlayers returns every player registered in the room.
func (r *Repository) ListPlayers(ctx context.Context, roomID string) ([]Player, error) {
	return r.listPlayers(ctx, roomID, "")
}

// ListUnsoldPlayers returns the players still on the block.
func (r *Repository) ListUnsoldPlayers(ctx context.Context, roomID string) ([]Player, error) {
	return r.listPlayers(ctx, roomID, StatusUnsold)
}

func (r *Repository) listPlayers(ctx context.Context, roomID, status string) ([]Player, error) {
	query := `
		SELECT room_id, user_id, full_name, username, status, base_price, sold_to, sold_price, sold_at
		FROM players
		WHERE room_id = $1
	`
	args := []any{roomID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY user_id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list players: %w", err)
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.RoomID, &p.ID, &p.FullName, &p.Username, &p.Status, &p.BasePrice, &p.SoldTo, &p.SoldPrice, &p.SoldAt); err != nil {
			return nil, fmt.Errorf("ledger: scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate players: %w", err)
	}
	return players, nil
}

// NextUnsoldPlayer picks the next player for auction, highest base price
// first.
func (r *Repository) NextUnsoldPlayer(ctx context.Context, roomID string) (Player, error) {
	const query = `
		SELECT room_id, user_id, full_name, username, status, base_price, sold_to, sold_price, sold_at
		FROM players
		WHERE room_id = $1 AND status = $2
		ORDER BY base_price DESC, user_id ASC
		LIMIT 1
	`

	var p Player
	err := r.pool.QueryRow(ctx, query, roomID, StatusUnsold).Scan(
		&p.RoomID, &p.ID, &p.FullName, &p.Username, &p.Status, &p.BasePrice, &p.SoldTo, &p.SoldPrice, &p.SoldAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, ErrNoUnsoldPlayers
		}
		return Player{}, fmt.Errorf("ledger: next unsold player: %w", err)
	}
	return p, nil
}
