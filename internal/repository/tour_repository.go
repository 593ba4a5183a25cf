package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/museovivo/robot-tour-server/internal/model"
)

// TourRepo provides CRUD operations for tour instances (the tour_history
// table). A tour instance groups one user, one route and optionally one
// robot for a single execution attempt. All timestamp fields are assumed
// to be stored in UTC.
//
// The repository enforces nothing about admission; conflict policy lives
// in the session coordinator, which calls the *Tx methods inside a
// transaction it owns.
type TourRepo struct {
	db *sql.DB
}

// NewTourRepo returns a new TourRepo bound to the given database.
func NewTourRepo(db *sql.DB) *TourRepo { return &TourRepo{db: db} }

// DB exposes the underlying sql.DB so callers can begin transactions
// spanning multiple repositories.
func (r *TourRepo) DB() *sql.DB { return r.db }

const tourColumns = `id, tour_id, user_id, tour_route_id, tour_name, pin, robot_id, status, completed, started_at, rating, feedback`

func scanTour(row interface{ Scan(dest ...any) error }) (*model.TourInstance, error) {
	var t model.TourInstance
	var robotID sql.NullInt64
	var rating sql.NullInt16
	var feedback sql.NullString
	if err := row.Scan(&t.ID, &t.TourID, &t.UserID, &t.RouteID, &t.TourName, &t.PIN,
		&robotID, &t.Status, &t.Completed, &t.StartedAt, &rating, &feedback); err != nil {
		return nil, err
	}
	if robotID.Valid {
		id := uint64(robotID.Int64)
		t.RobotID = &id
	}
	if rating.Valid {
		v := uint8(rating.Int16)
		t.Rating = &v
	}
	if feedback.Valid {
		f := feedback.String
		t.Feedback = &f
	}
	return &t, nil
}

// CreateTx inserts a new tour instance within the scope of an existing
// transaction. It populates the generated history-row ID and the DB
// default started_at on the provided struct. The caller must commit or
// roll back the transaction.
func (r *TourRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.TourInstance) error {
	const q = `INSERT INTO tour_history (tour_id, user_id, tour_route_id, tour_name, pin, robot_id, status)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, t.TourID, t.UserID, t.RouteID, t.TourName, t.PIN, t.RobotID, t.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	const sel = `SELECT ` + tourColumns + ` FROM tour_history WHERE id = ?`
	got, err := scanTour(tx.QueryRowContext(ctx, sel, t.ID))
	if err != nil {
		return err
	}
	*t = *got
	return nil
}

// ActiveByUserTx returns the user's non-completed instance, or nil when
// the user has none. At most one such row can exist under either
// admission policy, so only the most recent is read.
func (r *TourRepo) ActiveByUserTx(ctx context.Context, tx *sql.Tx, userID uint64) (*model.TourInstance, error) {
	const q = `SELECT ` + tourColumns + ` FROM tour_history
               WHERE user_id = ? AND completed = 0
               ORDER BY started_at DESC LIMIT 1`
	t, err := scanTour(tx.QueryRowContext(ctx, q, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ActiveByRobotTx returns the robot's non-completed instance, or nil.
func (r *TourRepo) ActiveByRobotTx(ctx context.Context, tx *sql.Tx, robotID uint64) (*model.TourInstance, error) {
	const q = `SELECT ` + tourColumns + ` FROM tour_history
               WHERE robot_id = ? AND completed = 0
               ORDER BY started_at DESC LIMIT 1`
	t, err := scanTour(tx.QueryRowContext(ctx, q, robotID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ActiveByRobot is ActiveByRobotTx outside a transaction; used by pure
// read paths such as the availability endpoint.
func (r *TourRepo) ActiveByRobot(ctx context.Context, robotID uint64) (*model.TourInstance, error) {
	const q = `SELECT ` + tourColumns + ` FROM tour_history
               WHERE robot_id = ? AND completed = 0
               ORDER BY started_at DESC LIMIT 1`
	t, err := scanTour(r.db.QueryRowContext(ctx, q, robotID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ActiveByUser is ActiveByUserTx outside a transaction.
func (r *TourRepo) ActiveByUser(ctx context.Context, userID uint64) (*model.TourInstance, error) {
	const q = `SELECT ` + tourColumns + ` FROM tour_history
               WHERE user_id = ? AND completed = 0
               ORDER BY started_at DESC LIMIT 1`
	t, err := scanTour(r.db.QueryRowContext(ctx, q, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// PendingByRobot returns the robot's not-yet-verified instances, oldest
// first. Robots without a push channel poll this to discover new work.
func (r *TourRepo) PendingByRobot(ctx context.Context, robotID uint64) ([]model.TourInstance, error) {
	const q = `SELECT ` + tourColumns + ` FROM tour_history
               WHERE robot_id = ? AND status = ? AND completed = 0
               ORDER BY started_at ASC`
	rows, err := r.db.QueryContext(ctx, q, robotID, model.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.TourInstance, 0)
	for rows.Next() {
		t, err := scanTour(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetActiveByInstance returns the non-completed instance with the given
// opaque instance id, or ErrTourNotFound. Terminal instances do not
// match, which makes repeated completion attempts fail loudly.
func (r *TourRepo) GetActiveByInstance(ctx context.Context, tourID string) (*model.TourInstance, error) {
	const q = `SELECT ` + tourColumns + ` FROM tour_history
               WHERE tour_id = ? AND completed = 0 LIMIT 1`
	t, err := scanTour(r.db.QueryRowContext(ctx, q, tourID))
	if err == sql.ErrNoRows {
		return nil, ErrTourNotFound
	}
	return t, err
}

// GetActiveByInstanceTx is GetActiveByInstance inside a transaction.
func (r *TourRepo) GetActiveByInstanceTx(ctx context.Context, tx *sql.Tx, tourID string) (*model.TourInstance, error) {
	const q = `SELECT ` + tourColumns + ` FROM tour_history
               WHERE tour_id = ? AND completed = 0 LIMIT 1`
	t, err := scanTour(tx.QueryRowContext(ctx, q, tourID))
	if err == sql.ErrNoRows {
		return nil, ErrTourNotFound
	}
	return t, err
}

// LatestActiveByPin returns the most recently started non-completed
// instance whose PIN matches, plus the total number of active matches.
// PIN uniqueness is not enforced at insert time, so more than one match
// is possible; callers should log when matches > 1 and proceed with the
// newest. ErrTourNotFound is returned when no instance matches.
func (r *TourRepo) LatestActiveByPin(ctx context.Context, pin string) (*model.TourInstance, int, error) {
	const countQ = `SELECT COUNT(*) FROM tour_history WHERE pin = ? AND completed = 0`
	var matches int
	if err := r.db.QueryRowContext(ctx, countQ, pin).Scan(&matches); err != nil {
		return nil, 0, err
	}
	if matches == 0 {
		return nil, 0, ErrTourNotFound
	}
	const q = `SELECT ` + tourColumns + ` FROM tour_history
               WHERE pin = ? AND completed = 0
               ORDER BY started_at DESC LIMIT 1`
	t, err := scanTour(r.db.QueryRowContext(ctx, q, pin))
	if err == sql.ErrNoRows {
		return nil, 0, ErrTourNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return t, matches, nil
}

// MarkInProgressTx moves a pending instance to in_progress, optionally
// (re)binding it to a robot. It is a no-op for instances already in
// progress.
func (r *TourRepo) MarkInProgressTx(ctx context.Context, tx *sql.Tx, historyID uint64, robotID *uint64) error {
	const q = `UPDATE tour_history SET status = ?, robot_id = COALESCE(?, robot_id)
               WHERE id = ? AND completed = 0`
	_, err := tx.ExecContext(ctx, q, model.StatusInProgress, robotID, historyID)
	return err
}

// CompleteTx marks the instance terminal with status completed. It
// returns ErrTourNotFound when the row was already terminal or missing,
// so a second completion is rejected rather than silently accepted.
func (r *TourRepo) CompleteTx(ctx context.Context, tx *sql.Tx, historyID uint64) error {
	const q = `UPDATE tour_history SET completed = 1, status = ?
               WHERE id = ? AND completed = 0`
	res, err := tx.ExecContext(ctx, q, model.StatusCompleted, historyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTourNotFound
	}
	return nil
}

// CancelTx marks the instance terminal with status cancelled. Used by
// conflict resolution when a new tour dislodges the robot's current one.
func (r *TourRepo) CancelTx(ctx context.Context, tx *sql.Tx, historyID uint64) error {
	const q = `UPDATE tour_history SET completed = 1, status = ?
               WHERE id = ? AND completed = 0`
	res, err := tx.ExecContext(ctx, q, model.StatusCancelled, historyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTourNotFound
	}
	return nil
}

// SetRating stores a 1–5 rating and optional feedback on one of the
// user's terminal instances. Active instances cannot be rated.
func (r *TourRepo) SetRating(ctx context.Context, tourID string, userID uint64, rating uint8, feedback string) error {
	const q = `UPDATE tour_history SET rating = ?, feedback = ?
               WHERE tour_id = ? AND user_id = ? AND completed = 1`
	res, err := r.db.ExecContext(ctx, q, rating, nullStr(feedback), tourID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTourNotFound
	}
	return nil
}

// TourDetail joins an instance with its route, user and robot rows for
// display. StartedAt is formatted as RFC3339 in UTC.
type TourDetail struct {
	ID          uint64  `json:"id"`
	TourID      string  `json:"tour_id"`
	RouteID     uint64  `json:"route_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Duration    uint32  `json:"duration"`
	Languages   *string `json:"languages,omitempty"`
	Icon        *string `json:"icon,omitempty"`
	Price       float64 `json:"price"`
	Status      string  `json:"status"`
	Completed   bool    `json:"completed"`
	StartedAt   string  `json:"started_at"`
	Username    string  `json:"username"`
	RobotName   *string `json:"robot_name,omitempty"`
	Rating      *uint8  `json:"rating,omitempty"`
}

const tourDetailQuery = `SELECT th.id, th.tour_id, th.tour_route_id, th.tour_name,
               COALESCE(tr.description, ''), COALESCE(tr.duration, 0), tr.languages, tr.icon, COALESCE(tr.price, 0),
               th.status, th.completed, th.started_at, u.email, rb.name, th.rating
               FROM tour_history th
               LEFT JOIN tour_routes tr ON tr.id = th.tour_route_id
               JOIN users u ON u.id = th.user_id
               LEFT JOIN robots rb ON rb.id = th.robot_id`

func scanTourDetail(row interface{ Scan(dest ...any) error }) (*TourDetail, error) {
	var d TourDetail
	var languages, icon, robotName sql.NullString
	var rating sql.NullInt16
	var startedAt time.Time
	if err := row.Scan(&d.ID, &d.TourID, &d.RouteID, &d.Name, &d.Description, &d.Duration,
		&languages, &icon, &d.Price, &d.Status, &d.Completed, &startedAt,
		&d.Username, &robotName, &rating); err != nil {
		return nil, err
	}
	d.StartedAt = startedAt.UTC().Format(time.RFC3339)
	if languages.Valid {
		l := languages.String
		d.Languages = &l
	}
	if icon.Valid {
		ic := icon.String
		d.Icon = &ic
	}
	if robotName.Valid {
		n := robotName.String
		d.RobotName = &n
	}
	if rating.Valid {
		v := uint8(rating.Int16)
		d.Rating = &v
	}
	return &d, nil
}

// DetailByInstance returns the joined display record for one instance,
// active or terminal. ErrTourNotFound when the id is unknown.
func (r *TourRepo) DetailByInstance(ctx context.Context, tourID string) (*TourDetail, error) {
	const q = tourDetailQuery + ` WHERE th.tour_id = ? ORDER BY th.started_at DESC LIMIT 1`
	d, err := scanTourDetail(r.db.QueryRowContext(ctx, q, tourID))
	if err == sql.ErrNoRows {
		return nil, ErrTourNotFound
	}
	return d, err
}

// ListByUser returns all of a user's instances, newest first.
func (r *TourRepo) ListByUser(ctx context.Context, userID uint64) ([]TourDetail, error) {
	const q = tourDetailQuery + ` WHERE th.user_id = ? ORDER BY th.started_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := make([]TourDetail, 0)
	for rows.Next() {
		d, err := scanTourDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, *d)
	}
	return details, rows.Err()
}
