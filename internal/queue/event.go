// Package queue defines message payloads exchanged over the message broker.
package queue

// Notification kinds emitted by the session coordinator and the
// transport link. Downstream consumers render these into whatever
// delivery channel is configured; the server itself only publishes.
const (
	TourStarted       = "TOUR_STARTED"
	TourCompleted     = "TOUR_COMPLETED"
	TourAbandoned     = "TOUR_ABANDONED"
	RobotDisconnected = "ROBOT_DISCONNECTED"
	RobotReconnected  = "ROBOT_RECONNECTED"
	RobotError        = "ROBOT_ERROR"
	BatteryLow        = "BATTERY_LOW"
	BatteryCritical   = "BATTERY_CRITICAL"
	RouteCreated      = "ROUTE_CREATED"
	RouteDeleted      = "ROUTE_DELETED"
	UserCreated       = "USER_CREATED"
	UserDeleted       = "USER_DELETED"
	SystemError       = "SYSTEM_ERROR"
)

// Event is a lifecycle notification published to the tour.notifications
// queue. Data carries kind-specific fields (tour name, username,
// battery level, progress percentage, ...) so consumers can render a
// message without querying the primary database.
type Event struct {
	Kind       string         `json:"kind"`
	Data       map[string]any `json:"data"`
	OccurredAt string         `json:"occurred_at"`
}

// KnownKind reports whether k is one of the defined notification kinds.
// The admin test-notification endpoint uses it to reject typos.
func KnownKind(k string) bool {
	switch k {
	case TourStarted, TourCompleted, TourAbandoned,
		RobotDisconnected, RobotReconnected, RobotError,
		BatteryLow, BatteryCritical,
		RouteCreated, RouteDeleted,
		UserCreated, UserDeleted, SystemError:
		return true
	}
	return false
}
