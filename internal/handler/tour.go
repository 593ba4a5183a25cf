package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/museovivo/robot-tour-server/internal/model"
	"github.com/museovivo/robot-tour-server/internal/narrator"
	"github.com/museovivo/robot-tour-server/internal/repository"
	"github.com/museovivo/robot-tour-server/internal/session"
)

// TourHandler serves the visitor-facing tour endpoints. All routes are
// JWT-protected; the acting user comes from the token, never the body.
type TourHandler struct {
	Coord     *session.Coordinator
	Tours     *repository.TourRepo
	Routes    *repository.RouteRepo
	Waypoints *repository.WaypointRepo
	Narrator  *narrator.Narrator
}

func NewTourHandler(coord *session.Coordinator, tours *repository.TourRepo, routes *repository.RouteRepo, wps *repository.WaypointRepo, n *narrator.Narrator) *TourHandler {
	return &TourHandler{Coord: coord, Tours: tours, Routes: routes, Waypoints: wps, Narrator: n}
}

type startTourReq struct {
	TourID    uint64 `json:"tour_id"` // route id, the client-facing name predates instances
	RobotName string `json:"robot_name"`
}

// StartTour handles POST /api/start-tour. On success the visitor gets
// the instance id and the PIN to type into the robot.
func (h *TourHandler) StartTour(c echo.Context) error {
	var req startTourReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.RobotName = strings.TrimSpace(req.RobotName)
	if req.TourID == 0 || req.RobotName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tour_id and robot_name required"})
	}
	uid := currentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	inst, err := h.Coord.StartTour(ctx, uid, req.TourID, req.RobotName)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRouteNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tour route not found or inactive"})
		case errors.Is(err, repository.ErrRobotNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "robot not found"})
		case errors.Is(err, session.ErrUserBusy):
			return c.JSON(http.StatusConflict, echo.Map{"error": "you already have an active tour"})
		case errors.Is(err, session.ErrRobotBusy):
			return c.JSON(http.StatusConflict, echo.Map{"error": "robot is already guiding a tour"})
		case errors.Is(err, session.ErrRobotUnavailable):
			return c.JSON(http.StatusConflict, echo.Map{"error": "robot is not available for tours"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "start tour failed"})
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"tour_id":   inst.TourID,
		"pin":       inst.PIN,
		"tour_name": inst.TourName,
		"robot":     req.RobotName,
	})
}

// CompleteTour handles POST /api/tours/:tourId/complete. Only the tour's
// owner may complete it; a terminal instance is a 404.
func (h *TourHandler) CompleteTour(c echo.Context) error {
	tourID := c.Param("tourId")
	uid := currentUserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	inst, err := h.Tours.GetActiveByInstance(ctx, tourID)
	if err != nil || inst.UserID != uid {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "tour not found"})
	}
	inst, err = h.Coord.CompleteTour(ctx, tourID)
	if err != nil {
		if errors.Is(err, repository.ErrTourNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tour not found or already completed"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "complete tour failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "tour_id": inst.TourID, "status": inst.Status})
}

type abandonReq struct {
	TourID   string `json:"tour_id"`
	Progress string `json:"progress"`
}

// AbandonTour handles POST /api/tour/abandon. It reports the walk-away
// to staff; the instance itself stays active until the robot finishes
// or a new admission reclaims it.
func (h *TourHandler) AbandonTour(c echo.Context) error {
	var req abandonReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.TourID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tour_id required"})
	}
	uid := currentUserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	tourID := strings.TrimSpace(req.TourID)
	inst, err := h.Tours.GetActiveByInstance(ctx, tourID)
	if err != nil || inst.UserID != uid {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "tour not found"})
	}
	if _, err := h.Coord.AbandonTour(ctx, tourID, strings.TrimSpace(req.Progress)); err != nil {
		if errors.Is(err, repository.ErrTourNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tour not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "abandon tour failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

type ratingReq struct {
	Rating   uint8  `json:"rating"`
	Feedback string `json:"feedback"`
}

// Rate handles POST /api/tours/:tourId/rating. Ratings apply only to
// the caller's own terminal tours.
func (h *TourHandler) Rate(c echo.Context) error {
	var req ratingReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Rating < 1 || req.Rating > 5 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "rating must be between 1 and 5"})
	}
	uid := currentUserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Tours.SetRating(ctx, c.Param("tourId"), uid, req.Rating, strings.TrimSpace(req.Feedback))
	if err != nil {
		if errors.Is(err, repository.ErrTourNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no completed tour to rate"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save rating failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// UserTours handles GET /api/user/tours.
func (h *TourHandler) UserTours(c echo.Context) error {
	uid := currentUserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tours, err := h.Tours.ListByUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"tours": tours})
}

// ActiveTour handles GET /api/user/active-tour: the caller's current
// instance, if any, so clients can resume after a page reload.
func (h *TourHandler) ActiveTour(c echo.Context) error {
	uid := currentUserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	inst, err := h.Coord.ActiveForUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	if inst == nil {
		return c.JSON(http.StatusOK, echo.Map{"active": false})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"active":  true,
		"tour_id": inst.TourID,
		"name":    inst.TourName,
		"status":  inst.Status,
		"pin":     inst.PIN,
	})
}

// ListRoutes handles GET /api/tours: the active routes visitors can
// choose from.
func (h *TourHandler) ListRoutes(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	routes, err := h.Routes.ListActive(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"tours": routeViews(routes)})
}

// RouteWaypoints handles GET /api/tours/:id/waypoints with narration.
func (h *TourHandler) RouteWaypoints(c echo.Context) error {
	routeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid route id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	route, err := h.Routes.GetByID(ctx, routeID)
	if err != nil {
		if errors.Is(err, repository.ErrRouteNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "route not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	wps, err := h.Waypoints.ListByRoute(ctx, routeID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}

	refs := make([]*model.Waypoint, len(wps))
	for i := range wps {
		refs[i] = &wps[i]
	}
	narrations := h.Narrator.NarrateAll(ctx, route.Name, refs)
	items := make([]echo.Map, len(wps))
	for i := range wps {
		items[i] = echo.Map{
			"id":             wps[i].ID,
			"name":           wps[i].DisplayName(),
			"sequence_order": wps[i].SequenceOrder,
			"description":    wps[i].Description,
			"narration":      narrations[i],
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"route": route.Name, "waypoints": items})
}

// routeView is the client-facing shape of a tour route.
type routeView struct {
	ID          uint64  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Duration    uint32  `json:"duration"`
	Price       float64 `json:"price"`
	Languages   *string `json:"languages,omitempty"`
	Icon        *string `json:"icon,omitempty"`
	IsActive    bool    `json:"is_active"`
}

func routeViews(routes []model.TourRoute) []routeView {
	out := make([]routeView, len(routes))
	for i, r := range routes {
		out[i] = routeView{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Duration:    r.Duration,
			Price:       r.Price,
			Languages:   r.Languages,
			Icon:        r.Icon,
			IsActive:    r.IsActive,
		}
	}
	return out
}
