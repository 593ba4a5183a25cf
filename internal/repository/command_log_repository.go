package repository

import (
	"context"
	"database/sql"
	"time"
)

// CommandLogRepo appends an audit row for every manual robot console
// command. Rows are write-mostly; the admin console reads the most
// recent page.
type CommandLogRepo struct {
	db *sql.DB
}

// NewCommandLogRepo returns a new CommandLogRepo bound to the given database.
func NewCommandLogRepo(db *sql.DB) *CommandLogRepo { return &CommandLogRepo{db: db} }

// CommandEntry is a logged console command.
type CommandEntry struct {
	ID         uint64    `json:"id"`
	UserID     *uint64   `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	Parameters string    `json:"parameters"`
	CreatedAt  time.Time `json:"created_at"`
}

// Insert appends a command entry. Failures are the caller's to log; the
// console command itself must not fail because auditing did.
func (r *CommandLogRepo) Insert(ctx context.Context, userID uint64, action, parameters string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO robot_commands (user_id, action, parameters) VALUES (?, ?, ?)`,
		userID, action, parameters)
	return err
}

// ListRecent returns the newest entries up to limit.
func (r *CommandLogRepo) ListRecent(ctx context.Context, limit int) ([]CommandEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, action, COALESCE(parameters, ''), created_at
         FROM robot_commands ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]CommandEntry, 0, limit)
	for rows.Next() {
		var e CommandEntry
		var uid sql.NullInt64
		if err := rows.Scan(&e.ID, &uid, &e.Action, &e.Parameters, &e.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			u := uint64(uid.Int64)
			e.UserID = &u
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
