package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xtrntr/tradingplatform/internal/models"
	"github.com/xtrntr/tradingplatform/internal/platform"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool and checks it is reachable
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, address common.Address) (*models.User, error) {
	user := &models.User{}
	var addr string
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, address) VALUES ($1, $2, $3) RETURNING id, username, password_hash, address, created_at",
		username, passwordHash, address.Hex()).Scan(&user.ID, &user.Username, &user.PasswordHash, &addr, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Address = common.HexToAddress(addr)
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var addr string
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, address, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &addr, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Address = common.HexToAddress(addr)
	return user, nil
}

// Record appends events to the journal and replaces the stored snapshot in one transaction.
// An older snapshot never overwrites a newer one.
func (db *DB) Record(ctx context.Context, events []models.Envelope, snap platform.Snapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.Seq, err)
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO events (seq, id, kind, payload, occurred_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (seq) DO NOTHING",
			int64(ev.Seq), ev.ID.String(), string(ev.Kind), payload, ev.At)
		if err != nil {
			return fmt.Errorf("failed to append event %d: %w", ev.Seq, err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO snapshots (id, seq, state, taken_at) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET seq = EXCLUDED.seq, state = EXCLUDED.state, taken_at = EXCLUDED.taken_at
		WHERE snapshots.seq <= EXCLUDED.seq
	`, int64(snap.Seq), state, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LatestSnapshot returns the stored snapshot, or nil if none was recorded yet
func (db *DB) LatestSnapshot(ctx context.Context) (*platform.Snapshot, error) {
	var state []byte
	err := db.Pool.QueryRow(ctx, "SELECT state FROM snapshots WHERE id = 1").Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap := &platform.Snapshot{}
	if err := json.Unmarshal(state, snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// GetEvents retrieves up to limit journal entries with seq greater than after, oldest first
func (db *DB) GetEvents(ctx context.Context, after uint64, limit int) ([]models.JournalEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT seq, id::text, kind, payload, occurred_at
		FROM events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	entries := []models.JournalEntry{}
	for rows.Next() {
		var (
			entry models.JournalEntry
			seq   int64
			id    string
			kind  string
		)
		if err := rows.Scan(&seq, &id, &kind, &entry.Payload, &entry.At); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event id: %w", err)
		}
		entry.Seq = uint64(seq)
		entry.ID = parsed
		entry.Kind = models.EventKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
