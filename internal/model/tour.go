package model

import "time"

// Tour instance lifecycle states. An instance is created as pending,
// moves to in_progress once the robot confirms it via PIN, and ends in
// exactly one of the two terminal states. Both pending and in_progress
// count as "active" for conflict purposes.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// TourInstance records one attempted execution of a TourRoute by one
// user. It mirrors the `tour_history` table.
//
// Fields:
//  ID          – numeric history-row id (storage-facing).
//  TourID      – opaque instance id handed to clients and the robot.
//  UserID      – user who started the tour.
//  RouteID     – route being executed.
//  TourName    – route name snapshot taken at start time.
//  PIN         – 5-digit numeric code stored as text (leading zeros kept).
//  RobotID     – assigned robot, nil until assignment.
//  Status      – lifecycle status (pending/in_progress/completed/cancelled).
//  Completed   – terminal flag; set together with a terminal status.
//  StartedAt   – when the instance was created.
//  Rating      – optional 1–5 rating, settable only on terminal instances.
//  Feedback    – optional free-text feedback.
type TourInstance struct {
	ID        uint64     // tour_history.id
	TourID    string     // tour_history.tour_id
	UserID    uint64     // tour_history.user_id
	RouteID   uint64     // tour_history.tour_route_id
	TourName  string     // tour_history.tour_name
	PIN       string     // tour_history.pin
	RobotID   *uint64    // tour_history.robot_id (nullable)
	Status    string     // tour_history.status
	Completed bool       // tour_history.completed
	StartedAt time.Time  // tour_history.started_at
	Rating    *uint8     // tour_history.rating (nullable)
	Feedback  *string    // tour_history.feedback (nullable)
}

// Active reports whether the instance still occupies its user and robot.
func (t *TourInstance) Active() bool { return !t.Completed }
