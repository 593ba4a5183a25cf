package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/museovivo/robot-tour-server/internal/model"
	"github.com/museovivo/robot-tour-server/internal/narrator"
	"github.com/museovivo/robot-tour-server/internal/repository"
	"github.com/museovivo/robot-tour-server/internal/rosbridge"
	"github.com/museovivo/robot-tour-server/internal/session"
)

// RobotHandler serves the robot-facing endpoints: PIN verification,
// waypoint progression and the pending-tour poll. These endpoints are
// unauthenticated (the robot authenticates by knowing a live PIN) and
// answer lookup misses with 200 envelopes carrying a validity flag, so
// the robot client can branch without parsing error bodies.
type RobotHandler struct {
	Coord     *session.Coordinator
	Tours     *repository.TourRepo
	Waypoints *repository.WaypointRepo
	Robots    *repository.RobotRepo
	Narrator  *narrator.Narrator
}

func NewRobotHandler(coord *session.Coordinator, tours *repository.TourRepo, wps *repository.WaypointRepo, robots *repository.RobotRepo, n *narrator.Narrator) *RobotHandler {
	return &RobotHandler{Coord: coord, Tours: tours, Waypoints: wps, Robots: robots, Narrator: n}
}

// waypointPayload is the robot client's waypoint contract: coordinates
// plus the spoken lines for each movement phase.
type waypointPayload struct {
	ID                   uint64  `json:"id"`
	Name                 string  `json:"name"`
	X                    float64 `json:"x"`
	Y                    float64 `json:"y"`
	Z                    float64 `json:"z"`
	SequenceOrder        uint32  `json:"sequence_order"`
	Type                 string  `json:"type"`
	SpeechText           string  `json:"speech_text"`
	SpeechTextArrival    string  `json:"speech_text_arrival"`
	SpeechTextNavigation string  `json:"speech_text_navigation"`
	FullInfo             string  `json:"full_info"`
}

func (h *RobotHandler) waypointPayloads(ctx context.Context, routeName string, wps []model.Waypoint) []waypointPayload {
	refs := make([]*model.Waypoint, len(wps))
	for i := range wps {
		refs[i] = &wps[i]
	}
	narrations := h.Narrator.NarrateAll(ctx, routeName, refs)
	out := make([]waypointPayload, len(wps))
	for i := range wps {
		name := wps[i].DisplayName()
		out[i] = waypointPayload{
			ID:                   wps[i].ID,
			Name:                 name,
			X:                    wps[i].X,
			Y:                    wps[i].Y,
			Z:                    wps[i].Z,
			SequenceOrder:        wps[i].SequenceOrder,
			Type:                 wps[i].Type,
			SpeechText:           narrations[i],
			SpeechTextArrival:    "We have arrived at " + name + ".",
			SpeechTextNavigation: "We are now heading to " + name + ".",
			FullInfo:             wps[i].Description,
		}
	}
	return out
}

// pinField accepts the two wire forms of a tour PIN: a plain string
// ("12345") and the robot client's array of digits ([1,2,3,4,5]),
// which joins into the stored five-character form.
type pinField string

func (p *pinField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = pinField(s)
		return nil
	}
	var digits []json.Number
	if err := json.Unmarshal(data, &digits); err != nil {
		return err
	}
	var b strings.Builder
	for _, d := range digits {
		b.WriteString(d.String())
	}
	*p = pinField(b.String())
	return nil
}

type pinReq struct {
	PIN       pinField `json:"pin"`
	RobotName string   `json:"robot_name"`
}

// validPIN checks for exactly five ASCII digits.
func validPIN(pin string) bool {
	if len(pin) != 5 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// VerifyPIN handles POST /api/robot/pin. A malformed PIN is a 400; an
// unknown PIN is a 200 with valid:false so the robot can re-prompt. On
// a match the tour moves to in_progress and the narrated waypoint list
// comes back in the response.
func (h *RobotHandler) VerifyPIN(c echo.Context) error {
	var req pinReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	pin := strings.TrimSpace(string(req.PIN))
	if !validPIN(pin) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "pin must be exactly 5 digits"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	inst, wps, err := h.Coord.VerifyPIN(ctx, pin, strings.TrimSpace(req.RobotName))
	if err != nil {
		if errors.Is(err, repository.ErrTourNotFound) {
			return c.JSON(http.StatusOK, echo.Map{"valid": false, "message": "no active tour matches this pin"})
		}
		if errors.Is(err, session.ErrRobotBusy) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "robot is already guiding another tour"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "pin verification failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"valid": true,
		"tour": echo.Map{
			"tour_id":       inst.TourID,
			"name":          inst.TourName,
			"status":        inst.Status,
			"tour_route_id": inst.RouteID,
		},
		"waypoints": h.waypointPayloads(ctx, inst.TourName, wps),
	})
}

type completeReq struct {
	TourID string `json:"tour_id"`
}

// CompleteTour handles POST /api/robot/tour/complete. Completing an
// unknown or already-terminal instance is a 404.
func (h *RobotHandler) CompleteTour(c echo.Context) error {
	var req completeReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.TourID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tour_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	inst, err := h.Coord.CompleteTour(ctx, strings.TrimSpace(req.TourID))
	if err != nil {
		if errors.Is(err, repository.ErrTourNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tour not found or already completed"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "complete tour failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"tour_id": inst.TourID,
		"status":  inst.Status,
	})
}

// NextWaypoint handles GET /api/robot/tour/:tourId/waypoint/next/:currentSequence.
// It returns the waypoint after currentSequence, or tour_completed:true
// once the robot is past the route's last stop.
func (h *RobotHandler) NextWaypoint(c echo.Context) error {
	tourID := c.Param("tourId")
	seq, err := strconv.ParseUint(c.Param("currentSequence"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid sequence"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	inst, err := h.Tours.GetActiveByInstance(ctx, tourID)
	if err != nil {
		if errors.Is(err, repository.ErrTourNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tour not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}

	wp, err := h.Waypoints.GetBySequence(ctx, inst.RouteID, uint32(seq)+1)
	if err != nil {
		if errors.Is(err, repository.ErrWaypointNotFound) {
			return c.JSON(http.StatusOK, echo.Map{"tour_completed": true})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}

	payloads := h.waypointPayloads(ctx, inst.TourName, []model.Waypoint{*wp})
	return c.JSON(http.StatusOK, echo.Map{
		"tour_completed": false,
		"waypoint":       payloads[0],
	})
}

type arrivedReq struct {
	TourID        string  `json:"tour_id"`
	WaypointID    *uint64 `json:"waypoint_id"`
	SequenceOrder *uint32 `json:"sequence_order"`
}

// WaypointArrived handles POST /api/robot/waypoint/arrived. The arrived
// stop may be named by waypoint id or by sequence order. Reaching the
// route's last waypoint completes the tour in the same request.
func (h *RobotHandler) WaypointArrived(c echo.Context) error {
	var req arrivedReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.TourID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tour_id required"})
	}
	if req.WaypointID == nil && req.SequenceOrder == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "waypoint_id or sequence_order required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	seq := uint32(0)
	if req.SequenceOrder != nil {
		seq = *req.SequenceOrder
	} else {
		wp, err := h.Waypoints.GetByID(ctx, *req.WaypointID)
		if err != nil {
			if errors.Is(err, repository.ErrWaypointNotFound) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "waypoint not found"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
		}
		seq = wp.SequenceOrder
	}

	inst, finished, err := h.Coord.WaypointArrived(ctx, strings.TrimSpace(req.TourID), seq)
	if err != nil {
		if errors.Is(err, repository.ErrTourNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tour not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "record arrival failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":        true,
		"tour_id":        inst.TourID,
		"tour_completed": finished,
	})
}

// PendingTours handles GET /api/robot/pending-tours/:robotId, the poll
// robots use to discover newly admitted tours.
func (h *RobotHandler) PendingTours(c echo.Context) error {
	robotID, err := strconv.ParseUint(c.Param("robotId"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid robot id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	pending, err := h.Tours.PendingByRobot(ctx, robotID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	items := make([]echo.Map, len(pending))
	for i, t := range pending {
		items[i] = echo.Map{
			"tour_id":    t.TourID,
			"name":       t.TourName,
			"started_at": t.StartedAt.UTC().Format(time.RFC3339),
		}
	}
	resp := echo.Map{
		"has_pending_tour": len(items) > 0,
		"pending":          items,
	}
	if len(items) > 0 {
		resp["tour"] = items[0]
	}
	return c.JSON(http.StatusOK, resp)
}

// Availability handles GET /api/robot/availability/:name.
func (h *RobotHandler) Availability(c echo.Context) error {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "robot name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	av, err := h.Coord.CheckRobot(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrRobotNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "robot not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	resp := echo.Map{
		"robot":     av.Robot.Name,
		"status":    av.Robot.Status,
		"available": av.Available,
	}
	if av.Current != nil {
		resp["current_tour"] = echo.Map{
			"tour_id": av.Current.TourID,
			"name":    av.Current.TourName,
			"status":  av.Current.Status,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// ConsoleHandler serves the authenticated robot-console endpoints:
// link status, manual drive commands, speech and the topic listing.
// Commands are audited to robot_commands with the issuing user.
type ConsoleHandler struct {
	Link     *rosbridge.Link
	Commands *repository.CommandLogRepo
}

func NewConsoleHandler(link *rosbridge.Link, commands *repository.CommandLogRepo) *ConsoleHandler {
	return &ConsoleHandler{Link: link, Commands: commands}
}

// Status handles GET /api/robot/status.
func (h *ConsoleHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Link.Status())
}

// Topics handles GET /api/robot/topics.
func (h *ConsoleHandler) Topics(c echo.Context) error {
	if !h.Link.Connected() {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "robot link is down"})
	}
	return c.JSON(http.StatusOK, echo.Map{"topics": h.Link.Topics()})
}

type commandReq struct {
	Command string  `json:"command"`
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// drive speeds for the named console commands.
const (
	driveLinear  = 0.2
	driveAngular = 0.5
)

// Command handles POST /api/robot/command. Named commands map to fixed
// velocities; custom_velocity passes the caller's values through.
func (h *ConsoleHandler) Command(c echo.Context) error {
	var req commandReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	var linear, angular float64
	switch req.Command {
	case "move_forward":
		linear = driveLinear
	case "move_backward":
		linear = -driveLinear
	case "turn_left":
		angular = driveAngular
	case "turn_right":
		angular = -driveAngular
	case "stop":
		// zero velocity
	case "custom_velocity":
		linear, angular = req.Linear, req.Angular
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown command"})
	}

	if err := h.Link.SendVelocity(linear, angular); err != nil {
		if errors.Is(err, rosbridge.ErrNotConnected) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "robot link is down"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "command failed"})
	}

	params, _ := json.Marshal(echo.Map{"linear": linear, "angular": angular})
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Commands.Insert(ctx, currentUserID(c), req.Command, string(params)); err != nil {
		c.Logger().Errorf("audit robot command: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "command": req.Command})
}

type speakReq struct {
	Text string `json:"text"`
}

// Speak handles POST /api/robot/speak; the text goes out on the voice
// topic. Capped at 500 characters to keep utterances sane.
func (h *ConsoleHandler) Speak(c echo.Context) error {
	var req speakReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	text := strings.TrimSpace(req.Text)
	if text == "" || len(text) > 500 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "text must be 1-500 characters"})
	}
	if err := h.Link.Speak(text); err != nil {
		if errors.Is(err, rosbridge.ErrNotConnected) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "robot link is down"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "speak failed"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	params, _ := json.Marshal(echo.Map{"text": text})
	if err := h.Commands.Insert(ctx, currentUserID(c), "speak", string(params)); err != nil {
		c.Logger().Errorf("audit robot speak: %v", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
