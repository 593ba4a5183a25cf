package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museovivo/robot-tour-server/internal/model"
	"github.com/museovivo/robot-tour-server/internal/queue"
	"github.com/museovivo/robot-tour-server/internal/repository"
	"github.com/museovivo/robot-tour-server/internal/rosbridge"
)

// recordingNotifier captures the notification kinds fired during a test.
type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
	data  []map[string]any
}

func (r *recordingNotifier) Notify(kind string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.data = append(r.data, data)
}

func (r *recordingNotifier) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// downLink is an AssignmentSender whose transport is never up, so the
// coordinator skips the best-effort assignment push.
type downLink struct{}

func (downLink) Connected() bool                                   { return false }
func (downLink) SendTourAssignment(rosbridge.TourAssignment) error { return nil }

var (
	tourCols  = []string{"id", "tour_id", "user_id", "tour_route_id", "tour_name", "pin", "robot_id", "status", "completed", "started_at", "rating", "feedback"}
	robotCols = []string{"id", "name", "status", "last_connection", "tours_completed"}
	routeCols = []string{"id", "name", "description", "duration", "price", "languages", "icon", "is_active", "created_at"}
	wpCols    = []string{"id", "tour_route_id", "x", "y", "z", "sequence_order", "waypoint_type", "name", "description"}
)

func newTestCoordinator(t *testing.T, policy string) (*Coordinator, sqlmock.Sqlmock, *recordingNotifier, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	coord := NewCoordinator(db,
		repository.NewTourRepo(db),
		repository.NewRouteRepo(db),
		repository.NewWaypointRepo(db),
		repository.NewRobotRepo(db),
		notifier, downLink{}, policy)
	return coord, mock, notifier, func() { db.Close() }
}

func activeRobotRow() *sqlmock.Rows {
	return sqlmock.NewRows(robotCols).AddRow(7, "turtlebot-1", model.RobotActive, nil, 3)
}

func activeRouteRow() *sqlmock.Rows {
	return sqlmock.NewRows(routeCols).
		AddRow(3, "Highlights", "The must-see pieces", 60, 12.5, nil, nil, true, time.Now().UTC())
}

func activeTourRow(id uint64, tourID string, userID uint64, status string) *sqlmock.Rows {
	return sqlmock.NewRows(tourCols).
		AddRow(id, tourID, userID, 3, "Highlights", "12345", 7, status, false, time.Now().UTC(), nil, nil)
}

func TestStartTour_AdmitsWhenFree(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT id, name, status`).WithArgs("turtlebot-1").WillReturnRows(activeRobotRow())
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, description`).WithArgs(uint64(3)).WillReturnRows(activeRouteRow())
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(5)).WillReturnRows(sqlmock.NewRows(tourCols))
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(7)).WillReturnRows(sqlmock.NewRows(tourCols))
	mock.ExpectExec(`INSERT INTO tour_history`).
		WithArgs(sqlmock.AnyArg(), uint64(5), uint64(3), "Highlights", sqlmock.AnyArg(), sqlmock.AnyArg(), model.StatusPending).
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(21)).
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusPending))
	mock.ExpectCommit()

	inst, err := coord.StartTour(context.Background(), 5, 3, "turtlebot-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh0001", inst.TourID)
	assert.Equal(t, model.StatusPending, inst.Status)
	assert.Equal(t, []string{queue.TourStarted}, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartTour_StrictRejectsBusyRobot(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyStrict)
	defer done()

	mock.ExpectQuery(`SELECT id, name, status`).WithArgs("turtlebot-1").WillReturnRows(activeRobotRow())
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, description`).WithArgs(uint64(3)).WillReturnRows(activeRouteRow())
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(5)).WillReturnRows(sqlmock.NewRows(tourCols))
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(7)).
		WillReturnRows(activeTourRow(11, "busy00001", 9, model.StatusInProgress))
	mock.ExpectRollback()

	_, err := coord.StartTour(context.Background(), 5, 3, "turtlebot-1")
	assert.ErrorIs(t, err, ErrRobotBusy)
	assert.Empty(t, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartTour_LastWinsCancelsBlocker(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT id, name, status`).WithArgs("turtlebot-1").WillReturnRows(activeRobotRow())
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, description`).WithArgs(uint64(3)).WillReturnRows(activeRouteRow())
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(5)).WillReturnRows(sqlmock.NewRows(tourCols))
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(7)).
		WillReturnRows(activeTourRow(11, "stale0001", 9, model.StatusInProgress))
	mock.ExpectExec(`UPDATE tour_history SET completed = 1`).
		WithArgs(model.StatusCancelled, uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO tour_history`).
		WithArgs(sqlmock.AnyArg(), uint64(5), uint64(3), "Highlights", sqlmock.AnyArg(), sqlmock.AnyArg(), model.StatusPending).
		WillReturnResult(sqlmock.NewResult(22, 1))
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(22)).
		WillReturnRows(activeTourRow(22, "fresh0002", 5, model.StatusPending))
	mock.ExpectCommit()

	inst, err := coord.StartTour(context.Background(), 5, 3, "turtlebot-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh0002", inst.TourID)
	assert.Equal(t, []string{queue.TourAbandoned, queue.TourStarted}, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartTour_RobotInMaintenance(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT id, name, status`).WithArgs("turtlebot-1").
		WillReturnRows(sqlmock.NewRows(robotCols).AddRow(7, "turtlebot-1", model.RobotMaintenance, nil, 3))

	_, err := coord.StartTour(context.Background(), 5, 3, "turtlebot-1")
	assert.ErrorIs(t, err, ErrRobotUnavailable)
	assert.Empty(t, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPIN_MarksInProgress(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tour_history`).WithArgs("12345").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("12345").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusPending))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("fresh0001").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusPending))
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(7)).
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusPending))
	mock.ExpectExec(`UPDATE tour_history SET status`).
		WithArgs(model.StatusInProgress, nil, uint64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT id, tour_route_id`).WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows(wpCols).
			AddRow(1, 3, 1.0, 2.0, 0.0, 1, "navigation", "Entrance", "The grand entrance").
			AddRow(2, 3, 4.0, 5.0, 0.0, 2, "navigation", "Main Hall", "The main hall"))

	inst, wps, err := coord.VerifyPIN(context.Background(), "12345", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, inst.Status)
	require.Len(t, wps, 2)
	assert.Equal(t, "Entrance", wps[0].Name)
	assert.Empty(t, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPIN_CancelsStaleTourOnAssignedRobot(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tour_history`).WithArgs("12345").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("12345").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusPending))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("fresh0001").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusPending))
	// The robot did not name itself, so the conflict check falls back
	// to the instance's assigned robot, which still holds a stale tour.
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(7)).
		WillReturnRows(activeTourRow(11, "stale0001", 9, model.StatusInProgress))
	mock.ExpectExec(`UPDATE tour_history SET completed = 1`).
		WithArgs(model.StatusCancelled, uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tour_history SET status`).
		WithArgs(model.StatusInProgress, nil, uint64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT id, tour_route_id`).WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows(wpCols).
			AddRow(1, 3, 1.0, 2.0, 0.0, 1, "navigation", "Entrance", "The grand entrance"))

	inst, _, err := coord.VerifyPIN(context.Background(), "12345", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, inst.Status)
	assert.Equal(t, []string{queue.TourAbandoned}, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTour_MovesRobotCounter(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("fresh0001").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusInProgress))
	mock.ExpectExec(`UPDATE tour_history SET completed = 1`).
		WithArgs(model.StatusCompleted, uint64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE robots SET tours_completed`).
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inst, err := coord.CompleteTour(context.Background(), "fresh0001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, inst.Status)
	assert.True(t, inst.Completed)
	assert.Equal(t, []string{queue.TourCompleted}, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTour_TerminalIsNotFound(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("gone00001").
		WillReturnRows(sqlmock.NewRows(tourCols))
	mock.ExpectRollback()

	_, err := coord.CompleteTour(context.Background(), "gone00001")
	assert.ErrorIs(t, err, repository.ErrTourNotFound)
	assert.Empty(t, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaypointArrived_LastWaypointCompletesTour(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("fresh0001").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusInProgress))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence_order\), 0\)`).WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("fresh0001").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusInProgress))
	mock.ExpectExec(`UPDATE tour_history SET completed = 1`).
		WithArgs(model.StatusCompleted, uint64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE robots SET tours_completed`).
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inst, finished, err := coord.WaypointArrived(context.Background(), "fresh0001", 2)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, model.StatusCompleted, inst.Status)
	assert.Equal(t, []string{queue.TourCompleted}, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaypointArrived_MidRouteDoesNotComplete(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("fresh0001").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusInProgress))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence_order\), 0\)`).WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(5))

	inst, finished, err := coord.WaypointArrived(context.Background(), "fresh0001", 2)
	require.NoError(t, err)
	assert.False(t, finished)
	assert.Equal(t, model.StatusInProgress, inst.Status)
	assert.Empty(t, notifier.Kinds())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbandonTour_NotifiesWithoutStateChange(t *testing.T) {
	coord, mock, notifier, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs("fresh0001").
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusInProgress))

	inst, err := coord.AbandonTour(context.Background(), "fresh0001", "3/5 waypoints")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, inst.Status)
	require.Equal(t, []string{queue.TourAbandoned}, notifier.Kinds())
	assert.Equal(t, "3/5 waypoints", notifier.data[0]["progress"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckRobot_BusyRobotNotAvailable(t *testing.T) {
	coord, mock, _, done := newTestCoordinator(t, PolicyLastWins)
	defer done()

	mock.ExpectQuery(`SELECT id, name, status`).WithArgs("turtlebot-1").WillReturnRows(activeRobotRow())
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(7)).
		WillReturnRows(activeTourRow(21, "fresh0001", 5, model.StatusInProgress))

	av, err := coord.CheckRobot(context.Background(), "turtlebot-1")
	require.NoError(t, err)
	assert.False(t, av.Available)
	require.NotNil(t, av.Current)
	assert.Equal(t, "fresh0001", av.Current.TourID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
