package repository

import (
	"context"
	"database/sql"

	"github.com/museovivo/robot-tour-server/internal/model"
)

// WaypointRepo provides data access to the tour_waypoints table.
// Waypoints belong to a route and are ordered by their 1-based
// sequence_order, which is unique within the route.
type WaypointRepo struct {
	db *sql.DB
}

// NewWaypointRepo returns a new WaypointRepo bound to the given database.
func NewWaypointRepo(db *sql.DB) *WaypointRepo { return &WaypointRepo{db: db} }

const waypointColumns = `id, tour_route_id, x, y, z, sequence_order, waypoint_type, name, description`

func scanWaypoint(row interface{ Scan(dest ...any) error }) (*model.Waypoint, error) {
	var wp model.Waypoint
	var name, desc sql.NullString
	if err := row.Scan(&wp.ID, &wp.RouteID, &wp.X, &wp.Y, &wp.Z,
		&wp.SequenceOrder, &wp.Type, &name, &desc); err != nil {
		return nil, err
	}
	wp.Name = name.String
	wp.Description = desc.String
	return &wp, nil
}

// ListByRoute returns all waypoints of a route in traversal order.
func (r *WaypointRepo) ListByRoute(ctx context.Context, routeID uint64) ([]model.Waypoint, error) {
	const q = `SELECT ` + waypointColumns + ` FROM tour_waypoints
               WHERE tour_route_id = ? ORDER BY sequence_order ASC`
	rows, err := r.db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	wps := make([]model.Waypoint, 0)
	for rows.Next() {
		wp, err := scanWaypoint(rows)
		if err != nil {
			return nil, err
		}
		wps = append(wps, *wp)
	}
	return wps, rows.Err()
}

// GetByID returns a single waypoint or ErrWaypointNotFound.
func (r *WaypointRepo) GetByID(ctx context.Context, id uint64) (*model.Waypoint, error) {
	const q = `SELECT ` + waypointColumns + ` FROM tour_waypoints WHERE id = ?`
	wp, err := scanWaypoint(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrWaypointNotFound
	}
	return wp, err
}

// GetBySequence returns the waypoint of a route at an exact sequence
// position, or ErrWaypointNotFound when the route has no such stop. The
// robot uses this both for "next in sequence" lookups and for arrival
// reports keyed by sequence_order.
func (r *WaypointRepo) GetBySequence(ctx context.Context, routeID uint64, seq uint32) (*model.Waypoint, error) {
	const q = `SELECT ` + waypointColumns + ` FROM tour_waypoints
               WHERE tour_route_id = ? AND sequence_order = ?`
	wp, err := scanWaypoint(r.db.QueryRowContext(ctx, q, routeID, seq))
	if err == sql.ErrNoRows {
		return nil, ErrWaypointNotFound
	}
	return wp, err
}

// MaxSequence returns the highest sequence_order of a route, or zero when
// the route has no waypoints. Arrival at this position completes a tour.
func (r *WaypointRepo) MaxSequence(ctx context.Context, routeID uint64) (uint32, error) {
	const q = `SELECT COALESCE(MAX(sequence_order), 0) FROM tour_waypoints WHERE tour_route_id = ?`
	var max uint32
	err := r.db.QueryRowContext(ctx, q, routeID).Scan(&max)
	return max, err
}

// ReplaceForRoute atomically swaps the waypoint set of a route: existing
// rows are deleted and the provided list is inserted in one transaction.
// Sequence order is renumbered from 1 in slice order so callers cannot
// create gaps or duplicates.
func (r *WaypointRepo) ReplaceForRoute(ctx context.Context, routeID uint64, wps []model.Waypoint) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tour_waypoints WHERE tour_route_id = ?`, routeID); err != nil {
		return err
	}
	if len(wps) > 0 {
		query := `INSERT INTO tour_waypoints (tour_route_id, x, y, z, sequence_order, waypoint_type, name, description) VALUES `
		args := make([]any, 0, len(wps)*8)
		for i, wp := range wps {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?, ?, ?)"
			typ := wp.Type
			if typ == "" {
				typ = "navigation"
			}
			args = append(args, routeID, wp.X, wp.Y, wp.Z, uint32(i+1), typ, nullStr(wp.Name), nullStr(wp.Description))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// DeleteByRoute removes every waypoint of a route and returns how many
// rows were deleted.
func (r *WaypointRepo) DeleteByRoute(ctx context.Context, routeID uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tour_waypoints WHERE tour_route_id = ?`, routeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
