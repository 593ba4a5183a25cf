// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the session coordinator to distinguish between different
// failure scenarios. For example, ErrRouteNotFound indicates that a
// referenced tour route does not exist or is inactive, while ErrConflict
// signals that an operation cannot proceed because of dependent records
// (e.g. deleting a route that still has active tour instances).
package repository

import "errors"

// ErrRouteNotFound indicates that a tour route was not located in the DB
// or is not active.
var ErrRouteNotFound = errors.New("route not found")

// ErrRobotNotFound indicates that no robot with the given name or id is
// registered.
var ErrRobotNotFound = errors.New("robot not found")

// ErrTourNotFound indicates that no matching non-completed tour instance
// exists. Completing an already-terminal instance yields this error as
// well; idempotent completion is rejected, not silently accepted.
var ErrTourNotFound = errors.New("tour not found")

// ErrWaypointNotFound indicates that a waypoint lookup matched no row.
var ErrWaypointNotFound = errors.New("waypoint not found")

// ErrConflict is returned when an operation cannot be performed because
// of conflicting state, such as starting a tour on an occupied robot in
// strict admission mode, or deleting a route with active instances.
// Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrNoChange indicates an UPDATE attempted to set fields equal to the
// current values.
var ErrNoChange = errors.New("no change")
