package model

import "time"

// Administrative robot states. Only an `active` robot may be assigned
// new tours; availability additionally requires that no non-completed
// tour instance references the robot.
const (
	RobotActive      = "active"
	RobotMaintenance = "maintenance"
	RobotOffline     = "offline"
)

// Robot is a registered physical unit as stored in the `robots` table.
//
// Fields:
//  ID             – primary key identifier.
//  Name           – unique human-readable robot name.
//  Status         – administrative status (active/maintenance/offline).
//  LastConnection – when the robot's transport link last connected.
//  ToursCompleted – lifetime counter of completed tours.
type Robot struct {
	ID             uint64     // robots.id
	Name           string     // robots.name
	Status         string     // robots.status
	LastConnection *time.Time // robots.last_connection (nullable)
	ToursCompleted uint32     // robots.tours_completed
}
