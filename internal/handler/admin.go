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
	"github.com/museovivo/robot-tour-server/internal/queue"
	"github.com/museovivo/robot-tour-server/internal/repository"
	"github.com/museovivo/robot-tour-server/internal/session"
)

// AdminHandler serves the staff console: route and waypoint authoring,
// robot administration and the notification test hook. All routes sit
// behind JWT + the ADMIN role.
type AdminHandler struct {
	Routes    *repository.RouteRepo
	Waypoints *repository.WaypointRepo
	Robots    *repository.RobotRepo
	Commands  *repository.CommandLogRepo
	Notifier  session.Notifier
}

func NewAdminHandler(routes *repository.RouteRepo, wps *repository.WaypointRepo, robots *repository.RobotRepo, commands *repository.CommandLogRepo, n session.Notifier) *AdminHandler {
	return &AdminHandler{Routes: routes, Waypoints: wps, Robots: robots, Commands: commands, Notifier: n}
}

type waypointInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Type        string  `json:"type"`
}

type routeInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Duration    uint32          `json:"duration"`
	Price       float64         `json:"price"`
	Languages   string          `json:"languages"`
	Icon        string          `json:"icon"`
	IsActive    *bool           `json:"is_active"`
	Waypoints   []waypointInput `json:"waypoints"`
}

func (in *routeInput) toModel() *model.TourRoute {
	rt := &model.TourRoute{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Duration:    in.Duration,
		Price:       in.Price,
		IsActive:    true,
	}
	if in.IsActive != nil {
		rt.IsActive = *in.IsActive
	}
	if l := strings.TrimSpace(in.Languages); l != "" {
		rt.Languages = &l
	}
	if ic := strings.TrimSpace(in.Icon); ic != "" {
		rt.Icon = &ic
	}
	return rt
}

func toWaypointModels(routeID uint64, in []waypointInput) []model.Waypoint {
	wps := make([]model.Waypoint, len(in))
	for i, w := range in {
		typ := strings.TrimSpace(w.Type)
		if typ == "" {
			typ = "navigation"
		}
		wps[i] = model.Waypoint{
			RouteID:       routeID,
			Name:          strings.TrimSpace(w.Name),
			Description:   strings.TrimSpace(w.Description),
			X:             w.X,
			Y:             w.Y,
			Z:             w.Z,
			SequenceOrder: uint32(i + 1),
			Type:          typ,
		}
	}
	return wps
}

// ListRoutes handles GET /api/admin/routes (inactive routes included).
func (h *AdminHandler) ListRoutes(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	routes, err := h.Routes.ListAll(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"routes": routeViews(routes)})
}

// CreateRoute handles POST /api/admin/routes. Waypoints may be supplied
// inline; they are renumbered 1..n in the given order.
func (h *AdminHandler) CreateRoute(c echo.Context) error {
	var in routeInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(in.Name) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	rt := in.toModel()
	if err := h.Routes.Create(ctx, rt); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create route failed"})
	}
	if len(in.Waypoints) > 0 {
		if err := h.Waypoints.ReplaceForRoute(ctx, rt.ID, toWaypointModels(rt.ID, in.Waypoints)); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save waypoints failed"})
		}
	}
	h.Notifier.Notify(queue.RouteCreated, map[string]any{"routeId": rt.ID, "name": rt.Name})
	return c.JSON(http.StatusCreated, echo.Map{"id": rt.ID, "name": rt.Name})
}

// UpdateRoute handles PUT /api/admin/routes/:id. When a waypoints array
// is present the route's waypoints are replaced wholesale.
func (h *AdminHandler) UpdateRoute(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid route id"})
	}
	var in routeInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(in.Name) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	rt := in.toModel()
	rt.ID = id
	if err := h.Routes.Update(ctx, rt); err != nil {
		switch {
		case errors.Is(err, repository.ErrRouteNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "route not found"})
		case errors.Is(err, repository.ErrNoChange):
			// Row exists, values identical. Still fall through so an
			// attached waypoints array is applied.
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update route failed"})
		}
	}
	if in.Waypoints != nil {
		if err := h.Waypoints.ReplaceForRoute(ctx, id, toWaypointModels(id, in.Waypoints)); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save waypoints failed"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// DeleteRoute handles DELETE /api/admin/routes/:id. Routes with active
// tour instances cannot be deleted.
func (h *AdminHandler) DeleteRoute(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid route id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Routes.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrRouteNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "route not found"})
		case errors.Is(err, repository.ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "route has active tours"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete route failed"})
		}
	}
	h.Notifier.Notify(queue.RouteDeleted, map[string]any{"routeId": id})
	return c.NoContent(http.StatusNoContent)
}

// RouteWaypoints handles GET /api/admin/routes/:id/waypoints.
func (h *AdminHandler) RouteWaypoints(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid route id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Routes.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrRouteNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "route not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	wps, err := h.Waypoints.ListByRoute(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	items := make([]echo.Map, len(wps))
	for i, w := range wps {
		items[i] = echo.Map{
			"id":             w.ID,
			"name":           w.Name,
			"description":    w.Description,
			"x":              w.X,
			"y":              w.Y,
			"z":              w.Z,
			"sequence_order": w.SequenceOrder,
			"type":           w.Type,
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"waypoints": items})
}

// ReplaceWaypoints handles PUT /api/admin/routes/:id/waypoints.
func (h *AdminHandler) ReplaceWaypoints(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid route id"})
	}
	var in struct {
		Waypoints []waypointInput `json:"waypoints"`
	}
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if _, err := h.Routes.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrRouteNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "route not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	if err := h.Waypoints.ReplaceForRoute(ctx, id, toWaypointModels(id, in.Waypoints)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save waypoints failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "count": len(in.Waypoints)})
}

// ListRobots handles GET /api/admin/robots.
func (h *AdminHandler) ListRobots(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	robots, err := h.Robots.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	items := make([]echo.Map, len(robots))
	for i, r := range robots {
		item := echo.Map{
			"id":              r.ID,
			"name":            r.Name,
			"status":          r.Status,
			"tours_completed": r.ToursCompleted,
		}
		if r.LastConnection != nil {
			item["last_connection"] = r.LastConnection.UTC().Format(time.RFC3339)
		}
		items[i] = item
	}
	return c.JSON(http.StatusOK, echo.Map{"robots": items})
}

type robotStatusReq struct {
	Status string `json:"status"`
}

// SetRobotStatus handles PUT /api/admin/robots/:id/status.
func (h *AdminHandler) SetRobotStatus(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid robot id"})
	}
	var req robotStatusReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	switch status {
	case model.RobotActive, model.RobotMaintenance, model.RobotOffline:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be active, maintenance or offline"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Robots.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrRobotNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "robot not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update robot failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "status": status})
}

type testNotificationReq struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TestNotification handles POST /api/admin/test-notification, pushing a
// synthetic event through the full queue pipeline.
func (h *AdminHandler) TestNotification(c echo.Context) error {
	var req testNotificationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	kind := strings.ToUpper(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = queue.SystemError
	}
	if !queue.KnownKind(kind) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown notification kind"})
	}
	h.Notifier.Notify(kind, map[string]any{
		"test":    true,
		"message": req.Message,
		"adminId": currentUserID(c),
	})
	return c.JSON(http.StatusOK, echo.Map{"success": true, "kind": kind})
}

// CommandLog handles GET /api/admin/commands: the recent robot-console
// audit trail.
func (h *AdminHandler) CommandLog(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	entries, err := h.Commands.ListRecent(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"commands": entries})
}
