package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museovivo/robot-tour-server/internal/repository"
	"github.com/museovivo/robot-tour-server/internal/rosbridge"
	"github.com/museovivo/robot-tour-server/internal/session"
)

type nopNotifier struct{}

func (nopNotifier) Notify(string, map[string]any) {}

var tourCols = []string{"id", "tour_id", "user_id", "tour_route_id", "tour_name", "pin", "robot_id", "status", "completed", "started_at", "rating", "feedback"}

func newRobotHandler(t *testing.T) (*RobotHandler, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	coord := session.NewCoordinator(db,
		repository.NewTourRepo(db),
		repository.NewRouteRepo(db),
		repository.NewWaypointRepo(db),
		repository.NewRobotRepo(db),
		nopNotifier{}, nil, session.PolicyLastWins)
	h := &RobotHandler{Coord: coord, Tours: repository.NewTourRepo(db)}
	return h, mock, func() { db.Close() }
}

func TestValidPIN(t *testing.T) {
	assert.True(t, validPIN("00000"))
	assert.True(t, validPIN("90210"))
	assert.False(t, validPIN("1234"))   // too short
	assert.False(t, validPIN("123456")) // too long
	assert.False(t, validPIN("12a45"))
	assert.False(t, validPIN(""))
}

func postJSON(path, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func getRequest(path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestVerifyPIN_MalformedIsBadRequest(t *testing.T) {
	h := &RobotHandler{}

	c, rec := postJSON("/api/robot/pin", `{"pin":"12ab5"}`)
	require.NoError(t, h.VerifyPIN(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = postJSON("/api/robot/pin", `{"pin":"123"}`)
	require.NoError(t, h.VerifyPIN(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A digit array of the wrong shape is malformed too.
	c, rec = postJSON("/api/robot/pin", `{"pin":[1,2,3]}`)
	require.NoError(t, h.VerifyPIN(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = postJSON("/api/robot/pin", `{"pin":[1,2,3,45]}`)
	require.NoError(t, h.VerifyPIN(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyPIN_AcceptsDigitArray(t *testing.T) {
	h, mock, done := newRobotHandler(t)
	defer done()

	// The joined array must reach the lookup as "12345"; an unknown pin
	// answers 200 with valid:false.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tour_history`).WithArgs("12345").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	c, rec := postJSON("/api/robot/pin", `{"pin":[1,2,3,4,5],"robot_name":"turtlebot-1"}`)
	require.NoError(t, h.VerifyPIN(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingTours_ReportsFirstPendingTour(t *testing.T) {
	h, mock, done := newRobotHandler(t)
	defer done()

	started := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(7), "pending").
		WillReturnRows(sqlmock.NewRows(tourCols).
			AddRow(21, "fresh0001", 5, 3, "Highlights", "12345", 7, "pending", false, started, nil, nil).
			AddRow(22, "fresh0002", 6, 3, "Highlights", "54321", 7, "pending", false, started.Add(time.Minute), nil, nil))

	c, rec := getRequest("/api/robot/pending-tours/7")
	c.SetParamNames("robotId")
	c.SetParamValues("7")
	require.NoError(t, h.PendingTours(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		HasPendingTour bool `json:"has_pending_tour"`
		Tour           struct {
			TourID string `json:"tour_id"`
		} `json:"tour"`
		Pending []map[string]any `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.HasPendingTour)
	assert.Equal(t, "fresh0001", body.Tour.TourID)
	assert.Len(t, body.Pending, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingTours_EmptyIsNotPending(t *testing.T) {
	h, mock, done := newRobotHandler(t)
	defer done()

	mock.ExpectQuery(`SELECT id, tour_id`).WithArgs(uint64(7), "pending").
		WillReturnRows(sqlmock.NewRows(tourCols))

	c, rec := getRequest("/api/robot/pending-tours/7")
	c.SetParamNames("robotId")
	c.SetParamValues("7")
	require.NoError(t, h.PendingTours(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_pending_tour":false`)
	assert.NotContains(t, rec.Body.String(), `"tour"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsoleCommand_UnknownCommand(t *testing.T) {
	h := NewConsoleHandler(rosbridge.New("ws://unused", nil), nil)

	c, rec := postJSON("/api/robot/command", `{"command":"barrel_roll"}`)
	require.NoError(t, h.Command(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsoleCommand_LinkDownIs503(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	h := NewConsoleHandler(rosbridge.New("ws://unused", nil), repository.NewCommandLogRepo(db))

	c, rec := postJSON("/api/robot/command", `{"command":"stop"}`)
	require.NoError(t, h.Command(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestConsoleSpeak_Validation(t *testing.T) {
	h := NewConsoleHandler(rosbridge.New("ws://unused", nil), nil)

	c, rec := postJSON("/api/robot/speak", `{"text":""}`)
	require.NoError(t, h.Speak(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	long := strings.Repeat("a", 501)
	c, rec = postJSON("/api/robot/speak", `{"text":"`+long+`"}`)
	require.NoError(t, h.Speak(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
