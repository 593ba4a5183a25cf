// Package repository contains data access logic for the tour domain. This
// file defines repository methods for tour routes. A TourRoute is the
// admin-authored template from which tour instances are started.
package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides DB abstraction
	"strings"      // strings for nullable column conversion

	"github.com/museovivo/robot-tour-server/internal/model"
)

// RouteRepo manages persistence for tour routes.
type RouteRepo struct {
	db *sql.DB
}

// NewRouteRepo returns a new RouteRepo bound to the given database.
func NewRouteRepo(db *sql.DB) *RouteRepo { return &RouteRepo{db: db} }

// DB exposes the underlying sql.DB. It allows callers to begin
// transactions spanning multiple repositories.
func (r *RouteRepo) DB() *sql.DB { return r.db }

const routeColumns = `id, name, description, duration, price, languages, icon, is_active, created_at`

func scanRoute(row interface{ Scan(dest ...any) error }) (*model.TourRoute, error) {
	var rt model.TourRoute
	var desc, languages, icon sql.NullString
	if err := row.Scan(&rt.ID, &rt.Name, &desc, &rt.Duration, &rt.Price,
		&languages, &icon, &rt.IsActive, &rt.CreatedAt); err != nil {
		return nil, err
	}
	rt.Description = desc.String
	if languages.Valid {
		l := languages.String
		rt.Languages = &l
	}
	if icon.Valid {
		ic := icon.String
		rt.Icon = &ic
	}
	return &rt, nil
}

// GetByID returns a route regardless of its active flag. It returns
// ErrRouteNotFound when no row matches.
func (r *RouteRepo) GetByID(ctx context.Context, id uint64) (*model.TourRoute, error) {
	const q = `SELECT ` + routeColumns + ` FROM tour_routes WHERE id = ?`
	rt, err := scanRoute(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrRouteNotFound
	}
	return rt, err
}

// GetActiveByIDTx returns an active route inside an existing transaction.
// Inactive or missing routes yield ErrRouteNotFound; the session
// coordinator relies on this when admitting a new tour.
func (r *RouteRepo) GetActiveByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.TourRoute, error) {
	const q = `SELECT ` + routeColumns + ` FROM tour_routes WHERE id = ? AND is_active = 1`
	rt, err := scanRoute(tx.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrRouteNotFound
	}
	return rt, err
}

// ListActive returns all routes a visitor may currently start, ordered by
// name for stable output.
func (r *RouteRepo) ListActive(ctx context.Context) ([]model.TourRoute, error) {
	const q = `SELECT ` + routeColumns + ` FROM tour_routes WHERE is_active = 1 ORDER BY name`
	return r.list(ctx, q)
}

// ListAll returns every route including inactive ones. Used by the admin
// console.
func (r *RouteRepo) ListAll(ctx context.Context) ([]model.TourRoute, error) {
	const q = `SELECT ` + routeColumns + ` FROM tour_routes ORDER BY created_at DESC`
	return r.list(ctx, q)
}

func (r *RouteRepo) list(ctx context.Context, q string) ([]model.TourRoute, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	routes := make([]model.TourRoute, 0)
	for rows.Next() {
		rt, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, *rt)
	}
	return routes, rows.Err()
}

// Create inserts a new route and populates the generated ID and DB
// defaults on the provided struct.
func (r *RouteRepo) Create(ctx context.Context, rt *model.TourRoute) error {
	const q = `INSERT INTO tour_routes (name, description, duration, price, languages, icon, is_active)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, rt.Name, nullStr(rt.Description), rt.Duration, rt.Price,
		rt.Languages, rt.Icon, rt.IsActive)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rt.ID = uint64(id)
	const sel = `SELECT ` + routeColumns + ` FROM tour_routes WHERE id = ?`
	got, err := scanRoute(r.db.QueryRowContext(ctx, sel, rt.ID))
	if err != nil {
		return err
	}
	*rt = *got
	return nil
}

// Update overwrites the mutable fields of an existing route. It returns
// ErrRouteNotFound when the route does not exist and ErrNoChange when the
// UPDATE matched a row but changed nothing.
func (r *RouteRepo) Update(ctx context.Context, rt *model.TourRoute) error {
	const q = `UPDATE tour_routes
               SET name = ?, description = ?, duration = ?, price = ?, languages = ?, icon = ?, is_active = ?
               WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, rt.Name, nullStr(rt.Description), rt.Duration, rt.Price,
		rt.Languages, rt.Icon, rt.IsActive, rt.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports zero affected rows both for a missing id and for
		// a no-op update; disambiguate with an existence check.
		var one int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM tour_routes WHERE id = ?`, rt.ID).Scan(&one); err != nil {
			if err == sql.ErrNoRows {
				return ErrRouteNotFound
			}
			return err
		}
		return ErrNoChange
	}
	return nil
}

// Delete removes a route and (via cascade) its waypoints. Routes that
// still have non-completed tour instances cannot be deleted; ErrConflict
// is returned instead so the handler can respond with 409.
func (r *RouteRepo) Delete(ctx context.Context, id uint64) error {
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
	var active int
	const check = `SELECT COUNT(*) FROM tour_history WHERE tour_route_id = ? AND completed = 0`
	if err := tx.QueryRowContext(ctx, check, id).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return ErrConflict
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tour_routes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRouteNotFound
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// nullStr converts an empty string into a NULL column value.
func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
