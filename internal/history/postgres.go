// Package history archives room transcripts in Postgres so a client that
// joins a room again can show what was said before, even when the transport
// keeps no backlog.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultRecentLimit is how many archived messages are loaded on join.
const DefaultRecentLimit = 50

// Postgres is a transcript archive backed by a Postgres table.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to dsn, waits for the database to answer, and applies the
// schema migrations.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("history archive ready")
	return &Postgres{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("history: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("history: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("history: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("history: migrate up: %w", err)
	}
	return nil
}

// Append stores msg under roomID. Messages already archived, matched by
// PermID, are ignored.
func (p *Postgres) Append(ctx context.Context, roomID string, msg session.ChatMessage) error {
	if msg.PermID == "" {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO room_messages (perm_id, room_id, user_nickname, user_icon, body, is_system, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (perm_id) DO NOTHING`,
		msg.PermID, roomID, msg.UserNickname, msg.UserIcon, msg.Body, msg.IsSystemMessage, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages of roomID, oldest first.
func (p *Postgres) Recent(ctx context.Context, roomID string, limit int) ([]session.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT perm_id, user_nickname, user_icon, body, is_system, sent_at
		FROM room_messages
		WHERE room_id = $1
		ORDER BY sent_at DESC, archived_at DESC
		LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []session.ChatMessage
	for rows.Next() {
		var m session.ChatMessage
		if err := rows.Scan(&m.PermID, &m.UserNickname, &m.UserIcon, &m.Body, &m.IsSystemMessage, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}
