package model

// Waypoint is one ordered stop within a route's path. It mirrors the
// `tour_waypoints` table. SequenceOrder is 1-based and unique within a
// route; the enriched narration text is derived by the narrator and is
// never persisted here.
type Waypoint struct {
	ID            uint64  // tour_waypoints.id
	RouteID       uint64  // tour_waypoints.tour_route_id
	X             float64 // tour_waypoints.x
	Y             float64 // tour_waypoints.y
	Z             float64 // tour_waypoints.z
	SequenceOrder uint32  // tour_waypoints.sequence_order
	Type          string  // tour_waypoints.waypoint_type (default "navigation")
	Name          string  // tour_waypoints.name
	Description   string  // tour_waypoints.description
}

// DisplayName returns the waypoint name, falling back to a positional
// label when the admin left the name empty.
func (w *Waypoint) DisplayName() string {
	if w.Name != "" {
		return w.Name
	}
	return waypointLabel(w.SequenceOrder)
}
