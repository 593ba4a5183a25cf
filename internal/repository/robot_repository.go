package repository

import (
	"context"
	"database/sql"

	"github.com/museovivo/robot-tour-server/internal/model"
)

// RobotRepo provides data access to the robots table. Availability is a
// derived property: an `active` robot with no non-completed tour
// instance. The occupancy side of that check lives in TourRepo; this
// repository only manages the administrative record.
type RobotRepo struct {
	db *sql.DB
}

// NewRobotRepo returns a new RobotRepo bound to the given database.
func NewRobotRepo(db *sql.DB) *RobotRepo { return &RobotRepo{db: db} }

const robotColumns = `id, name, status, last_connection, tours_completed`

func scanRobot(row interface{ Scan(dest ...any) error }) (*model.Robot, error) {
	var rb model.Robot
	var last sql.NullTime
	if err := row.Scan(&rb.ID, &rb.Name, &rb.Status, &last, &rb.ToursCompleted); err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		rb.LastConnection = &t
	}
	return &rb, nil
}

// GetByName returns the robot with the given unique name, or
// ErrRobotNotFound.
func (r *RobotRepo) GetByName(ctx context.Context, name string) (*model.Robot, error) {
	const q = `SELECT ` + robotColumns + ` FROM robots WHERE name = ?`
	rb, err := scanRobot(r.db.QueryRowContext(ctx, q, name))
	if err == sql.ErrNoRows {
		return nil, ErrRobotNotFound
	}
	return rb, err
}

// GetByNameTx is GetByName inside an existing transaction.
func (r *RobotRepo) GetByNameTx(ctx context.Context, tx *sql.Tx, name string) (*model.Robot, error) {
	const q = `SELECT ` + robotColumns + ` FROM robots WHERE name = ?`
	rb, err := scanRobot(tx.QueryRowContext(ctx, q, name))
	if err == sql.ErrNoRows {
		return nil, ErrRobotNotFound
	}
	return rb, err
}

// GetByID returns the robot with the given id, or ErrRobotNotFound.
func (r *RobotRepo) GetByID(ctx context.Context, id uint64) (*model.Robot, error) {
	const q = `SELECT ` + robotColumns + ` FROM robots WHERE id = ?`
	rb, err := scanRobot(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrRobotNotFound
	}
	return rb, err
}

// List returns all registered robots ordered by name.
func (r *RobotRepo) List(ctx context.Context) ([]model.Robot, error) {
	const q = `SELECT ` + robotColumns + ` FROM robots ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	robots := make([]model.Robot, 0)
	for rows.Next() {
		rb, err := scanRobot(rows)
		if err != nil {
			return nil, err
		}
		robots = append(robots, *rb)
	}
	return robots, rows.Err()
}

// UpdateStatus changes a robot's administrative status. The valid values
// are enforced by the column enum; unknown ids yield ErrRobotNotFound.
func (r *RobotRepo) UpdateStatus(ctx context.Context, id uint64, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE robots SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRobotNotFound
	}
	return nil
}

// TouchConnection records that the robot's transport link (re)connected.
func (r *RobotRepo) TouchConnection(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE robots SET last_connection = UTC_TIMESTAMP() WHERE name = ?`, name)
	return err
}

// IncrementCompletedTx bumps the lifetime completed-tour counter inside
// an existing transaction; called by the coordinator when it marks an
// instance completed.
func (r *RobotRepo) IncrementCompletedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE robots SET tours_completed = tours_completed + 1 WHERE id = ?`, id)
	return err
}
