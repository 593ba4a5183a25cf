// Package session owns the tour lifecycle: admission of new tour
// instances, PIN verification, completion and abandonment. It is the
// only place that transitions tour_history rows between states, and it
// serializes conflicting admissions per robot.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/museovivo/robot-tour-server/internal/model"
	"github.com/museovivo/robot-tour-server/internal/queue"
	"github.com/museovivo/robot-tour-server/internal/repository"
	"github.com/museovivo/robot-tour-server/internal/rosbridge"
)

// Admission policies. LastWins (the default) auto-cancels whatever
// active tour is blocking the new one; Strict rejects the new request
// instead.
const (
	PolicyLastWins = "lastwins"
	PolicyStrict   = "strict"
)

var (
	// ErrUserBusy is returned under the strict policy when the user
	// already has an active tour.
	ErrUserBusy = errors.New("session: user already has an active tour")
	// ErrRobotBusy is returned under the strict policy when the robot
	// is already guiding a tour.
	ErrRobotBusy = errors.New("session: robot is already assigned to an active tour")
	// ErrRobotUnavailable is returned when the robot exists but is in
	// maintenance or offline.
	ErrRobotUnavailable = errors.New("session: robot is not available for tours")
)

// Notifier publishes lifecycle events. Satisfied by
// queue_publisher.Notifier; tests substitute a recorder.
type Notifier interface {
	Notify(kind string, data map[string]any)
}

// AssignmentSender pushes a verified tour to the robot. Satisfied by
// *rosbridge.Link.
type AssignmentSender interface {
	Connected() bool
	SendTourAssignment(a rosbridge.TourAssignment) error
}

// Coordinator enforces the exclusivity invariants on users and robots.
// All admissions touching the same robot are serialized through a
// per-robot mutex on top of the database transaction, so concurrent
// requests cannot both observe the robot as free.
type Coordinator struct {
	db        *sql.DB
	tours     *repository.TourRepo
	routes    *repository.RouteRepo
	waypoints *repository.WaypointRepo
	robots    *repository.RobotRepo
	notifier  Notifier
	link      AssignmentSender
	policy    string

	mu      sync.Mutex
	robotMu map[uint64]*sync.Mutex
}

// NewCoordinator wires the coordinator. policy must be PolicyLastWins
// or PolicyStrict; anything else falls back to PolicyLastWins with a
// warning. link may be nil (assignment push is then skipped).
func NewCoordinator(
	db *sql.DB,
	tours *repository.TourRepo,
	routes *repository.RouteRepo,
	waypoints *repository.WaypointRepo,
	robots *repository.RobotRepo,
	notifier Notifier,
	link AssignmentSender,
	policy string,
) *Coordinator {
	if policy != PolicyLastWins && policy != PolicyStrict {
		if policy != "" {
			log.Printf("session: unknown admission policy %q, using %s", policy, PolicyLastWins)
		}
		policy = PolicyLastWins
	}
	return &Coordinator{
		db:        db,
		tours:     tours,
		routes:    routes,
		waypoints: waypoints,
		robots:    robots,
		notifier:  notifier,
		link:      link,
		policy:    policy,
		robotMu:   make(map[uint64]*sync.Mutex),
	}
}

// lockRobot returns the mutex serializing admissions for one robot,
// creating it on first use. Robots are few; entries are never reaped.
func (c *Coordinator) lockRobot(robotID uint64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.robotMu[robotID]
	if !ok {
		m = &sync.Mutex{}
		c.robotMu[robotID] = m
	}
	return m
}

// StartTour admits a new tour instance for userID on routeID, assigned
// to the robot named robotName. The instance is created as pending with
// a fresh PIN; the robot learns about it only when it verifies the PIN.
//
// Conflicts with the user's or the robot's existing active tour are
// resolved per the admission policy: cancelled with a TOUR_ABANDONED
// notification under lastwins, rejected with ErrUserBusy/ErrRobotBusy
// under strict.
func (c *Coordinator) StartTour(ctx context.Context, userID, routeID uint64, robotName string) (*model.TourInstance, error) {
	robot, err := c.robots.GetByName(ctx, robotName)
	if err != nil {
		return nil, err
	}
	if robot.Status != model.RobotActive {
		return nil, ErrRobotUnavailable
	}

	lock := c.lockRobot(robot.ID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("session: begin admission tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	route, err := c.routes.GetActiveByIDTx(ctx, tx, routeID)
	if err != nil {
		return nil, err
	}

	var abandoned []*model.TourInstance

	if prev, err := c.tours.ActiveByUserTx(ctx, tx, userID); err != nil {
		return nil, err
	} else if prev != nil {
		if c.policy == PolicyStrict {
			return nil, ErrUserBusy
		}
		if err := c.tours.CancelTx(ctx, tx, prev.ID); err != nil {
			return nil, err
		}
		abandoned = append(abandoned, prev)
	}

	if prev, err := c.tours.ActiveByRobotTx(ctx, tx, robot.ID); err != nil {
		return nil, err
	} else if prev != nil && prev.UserID != userID {
		if c.policy == PolicyStrict {
			return nil, ErrRobotBusy
		}
		if err := c.tours.CancelTx(ctx, tx, prev.ID); err != nil {
			return nil, err
		}
		abandoned = append(abandoned, prev)
	}

	pin, err := NewPIN()
	if err != nil {
		return nil, err
	}
	tourID, err := NewTourID()
	if err != nil {
		return nil, err
	}

	inst := &model.TourInstance{
		TourID:   tourID,
		UserID:   userID,
		RouteID:  route.ID,
		TourName: route.Name,
		PIN:      pin,
		RobotID:  &robot.ID,
		Status:   model.StatusPending,
	}
	if err := c.tours.CreateTx(ctx, tx, inst); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("session: commit admission tx: %w", err)
	}
	committed = true

	for _, prev := range abandoned {
		c.notifier.Notify(queue.TourAbandoned, map[string]any{
			"tourId": prev.TourID,
			"tour":   prev.TourName,
			"userId": prev.UserID,
			"reason": "superseded by a new tour",
		})
	}
	c.notifier.Notify(queue.TourStarted, map[string]any{
		"tourId": inst.TourID,
		"tour":   inst.TourName,
		"userId": inst.UserID,
		"robot":  robot.Name,
	})
	return inst, nil
}

// VerifyPIN resolves a PIN presented by the robot to its newest active
// instance, marks it in progress and pushes the tour assignment to the
// robot. More than one active instance sharing a PIN is tolerated (the
// newest wins) but logged, since it means the collision odds are being
// beaten in production.
func (c *Coordinator) VerifyPIN(ctx context.Context, pin, robotName string) (*model.TourInstance, []model.Waypoint, error) {
	inst, matches, err := c.tours.LatestActiveByPin(ctx, pin)
	if err != nil {
		return nil, nil, err
	}
	if matches > 1 {
		log.Printf("session: pin collision, %d active tours share a pin; newest instance %s wins", matches, inst.TourID)
	}

	var robotID *uint64
	var robot *model.Robot
	if robotName != "" {
		robot, err = c.robots.GetByName(ctx, robotName)
		if err != nil && !errors.Is(err, repository.ErrRobotNotFound) {
			return nil, nil, err
		}
		if robot != nil {
			robotID = &robot.ID
		}
	}
	lockID := uint64(0)
	if robotID != nil {
		lockID = *robotID
	} else if inst.RobotID != nil {
		lockID = *inst.RobotID
	}
	lock := c.lockRobot(lockID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("session: begin verify tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Re-read under the lock: the instance may have been cancelled
	// between the lookup and here.
	inst, err = c.tours.GetActiveByInstanceTx(ctx, tx, inst.TourID)
	if err != nil {
		return nil, nil, err
	}

	// A stale tour still holding the verifying robot is resolved the
	// same way admission resolves it. When the robot did not name
	// itself, the instance's assigned robot is checked instead.
	var abandoned *model.TourInstance
	checkID := robotID
	if checkID == nil {
		checkID = inst.RobotID
	}
	if checkID != nil {
		prev, err := c.tours.ActiveByRobotTx(ctx, tx, *checkID)
		if err != nil {
			return nil, nil, err
		}
		if prev != nil && prev.ID != inst.ID {
			if c.policy == PolicyStrict {
				return nil, nil, ErrRobotBusy
			}
			if err := c.tours.CancelTx(ctx, tx, prev.ID); err != nil {
				return nil, nil, err
			}
			abandoned = prev
		}
	}

	if err := c.tours.MarkInProgressTx(ctx, tx, inst.ID, robotID); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("session: commit verify tx: %w", err)
	}
	committed = true

	if abandoned != nil {
		c.notifier.Notify(queue.TourAbandoned, map[string]any{
			"tourId": abandoned.TourID,
			"tour":   abandoned.TourName,
			"userId": abandoned.UserID,
			"reason": "robot reassigned by pin verification",
		})
	}
	inst.Status = model.StatusInProgress
	if robotID != nil {
		inst.RobotID = robotID
	}

	if robot != nil {
		if err := c.robots.TouchConnection(ctx, robot.Name); err != nil {
			log.Printf("session: touch robot connection: %v", err)
		}
	}

	wps, err := c.waypoints.ListByRoute(ctx, inst.RouteID)
	if err != nil {
		log.Printf("session: load waypoints for tour %s: %v", inst.TourID, err)
		wps = nil
	}
	c.pushAssignment(inst, robotName, wps)
	return inst, wps, nil
}

// pushAssignment forwards the verified tour to the robot over the bus.
// Failures are logged, never surfaced: PIN verification already
// succeeded and the robot has the payload in the HTTP response too.
func (c *Coordinator) pushAssignment(inst *model.TourInstance, robotName string, wps []model.Waypoint) {
	if c.link == nil || !c.link.Connected() {
		return
	}
	points := make([]map[string]any, len(wps))
	for i := range wps {
		points[i] = map[string]any{
			"name":     wps[i].DisplayName(),
			"x":        wps[i].X,
			"y":        wps[i].Y,
			"z":        wps[i].Z,
			"sequence": wps[i].SequenceOrder,
		}
	}
	a := rosbridge.TourAssignment{
		RobotName: robotName,
		TourID:    inst.TourID,
		TourName:  inst.TourName,
		Waypoints: points,
		PIN:       inst.PIN,
	}
	if err := c.link.SendTourAssignment(a); err != nil {
		log.Printf("session: tour assignment push failed for %s: %v", inst.TourID, err)
	}
}

// CompleteTour transitions an active instance to completed. The robot's
// completed-tours counter moves in the same transaction. Completing an
// already-terminal instance returns repository.ErrTourNotFound, which
// callers treat as idempotent success or a 404 per their contract.
func (c *Coordinator) CompleteTour(ctx context.Context, tourID string) (*model.TourInstance, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("session: begin completion tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	inst, err := c.tours.GetActiveByInstanceTx(ctx, tx, tourID)
	if err != nil {
		return nil, err
	}
	if err := c.tours.CompleteTx(ctx, tx, inst.ID); err != nil {
		return nil, err
	}
	if inst.RobotID != nil {
		if err := c.robots.IncrementCompletedTx(ctx, tx, *inst.RobotID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("session: commit completion tx: %w", err)
	}
	committed = true
	inst.Status = model.StatusCompleted
	inst.Completed = true

	c.notifier.Notify(queue.TourCompleted, map[string]any{
		"tourId":   inst.TourID,
		"tour":     inst.TourName,
		"userId":   inst.UserID,
		"duration": time.Since(inst.StartedAt).Round(time.Second).String(),
	})
	return inst, nil
}

// AbandonTour reports that the visitor walked away from an active tour.
// It only emits the TOUR_ABANDONED notification with the reported
// progress; the instance stays active and is reclaimed by the next
// admission (or completed by the robot). Flipping state here would race
// with a robot still mid-route.
func (c *Coordinator) AbandonTour(ctx context.Context, tourID, progress string) (*model.TourInstance, error) {
	inst, err := c.tours.GetActiveByInstance(ctx, tourID)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"tourId": inst.TourID,
		"tour":   inst.TourName,
		"userId": inst.UserID,
	}
	if progress != "" {
		data["progress"] = progress
	}
	c.notifier.Notify(queue.TourAbandoned, data)
	return inst, nil
}

// WaypointArrived records that the robot reached the given stop. When
// the stop is the route's last waypoint the tour is completed in the
// same call, so robots that never send an explicit completion still
// close their tours.
func (c *Coordinator) WaypointArrived(ctx context.Context, tourID string, seq uint32) (inst *model.TourInstance, finished bool, err error) {
	inst, err = c.tours.GetActiveByInstance(ctx, tourID)
	if err != nil {
		return nil, false, err
	}
	last, err := c.waypoints.MaxSequence(ctx, inst.RouteID)
	if err != nil {
		return nil, false, err
	}
	if last == 0 || seq < last {
		return inst, false, nil
	}
	inst, err = c.CompleteTour(ctx, tourID)
	if err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

// RobotAvailability describes whether a robot can take a new tour and
// what is occupying it if not.
type RobotAvailability struct {
	Robot     *model.Robot
	Available bool
	Current   *model.TourInstance
}

// CheckRobot reports the robot's admission availability: it must be in
// active status and have no active tour.
func (c *Coordinator) CheckRobot(ctx context.Context, robotName string) (*RobotAvailability, error) {
	robot, err := c.robots.GetByName(ctx, robotName)
	if err != nil {
		return nil, err
	}
	av := &RobotAvailability{Robot: robot}
	if robot.Status != model.RobotActive {
		return av, nil
	}
	current, err := c.tours.ActiveByRobot(ctx, robot.ID)
	if err != nil {
		return nil, err
	}
	av.Current = current
	av.Available = current == nil
	return av, nil
}

// ActiveForUser returns the user's active instance, or nil when the
// user is free to start a tour.
func (c *Coordinator) ActiveForUser(ctx context.Context, userID uint64) (*model.TourInstance, error) {
	return c.tours.ActiveByUser(ctx, userID)
}

// Policy reports the configured admission policy.
func (c *Coordinator) Policy() string { return c.policy }
