package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/museovivo/robot-tour-server/internal/handler"    // import the handlers that implement business logic
	"github.com/museovivo/robot-tour-server/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication‑related routes and applies the
// necessary middleware.  Unauthenticated operations live under /v1/auth,
// while protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	// Create a route group under the /v1/auth prefix for operations that do
	// not require an existing session (register, login, refresh).  Each of
	// these handlers is responsible for generating or exchanging tokens.
	g := e.Group("/v1/auth")
	// Register a POST endpoint to handle user registration at /v1/auth/register.
	g.POST("/register", a.Register)
	// Register a POST endpoint to handle user login at /v1/auth/login.
	g.POST("/login", a.Login)
	// Register a POST endpoint to refresh access tokens at /v1/auth/refresh. This rotates the refresh token.
	g.POST("/refresh", a.Refresh)
	// Register a POST endpoint to issue a new access token without rotating the refresh token.
	g.POST("/refresh-access", a.RefreshAccess)
	// Register a POST endpoint to log out using a refresh token.  The handler
	// accepts a JSON body containing a `refresh_token` and will invalidate
	// that token; with a bearer token and no body it revokes all sessions.
	g.POST("/logout", a.Logout)

	// Create another group for routes that require a valid access token.  All
	// handlers registered on this group will execute the JWTAuth middleware
	// before being invoked.  Protected endpoints live under /v1.
	auth := e.Group("/v1")
	// Apply the JWTAuth middleware to the protected group using the provided secret.
	auth.Use(middleware.JWTAuth(jwtSecret))
	// Both roles may call the generic authenticated endpoints; the middleware
	// rejects requests with missing or unknown roles.
	auth.Use(middleware.RequireRole("ADMIN", "USER"))
	// Register a GET endpoint at /v1/me that returns the authenticated user's information.
	auth.GET("/me", a.Me)

	// Additionally map POST /v1/logout to the same handler so clients can
	// call either /v1/auth/logout or /v1/logout to terminate a session.
	e.POST("/v1/logout", a.Logout)
}

// RegisterRobot registers the robot-facing endpoints.  The robot client
// carries no JWT; a live PIN is its credential, and lookup misses come
// back as 200 envelopes with a validity flag.
func RegisterRobot(e *echo.Echo, r *handler.RobotHandler) {
	g := e.Group("/api/robot")
	// PIN verification: the robot's entry point into a pending tour.
	g.POST("/pin", r.VerifyPIN)
	// Explicit completion reported by the robot.
	g.POST("/tour/complete", r.CompleteTour)
	// Waypoint progression along the active route.
	g.GET("/tour/:tourId/waypoint/next/:currentSequence", r.NextWaypoint)
	g.POST("/waypoint/arrived", r.WaypointArrived)
	// Work-discovery poll for robots without a push channel.
	g.GET("/pending-tours/:robotId", r.PendingTours)
	// Admission availability of one robot by name.
	g.GET("/availability/:name", r.Availability)
}

// RegisterTours registers the visitor-facing tour endpoints under JWT
// protection, plus the authenticated robot console.
func RegisterTours(e *echo.Echo, t *handler.TourHandler, console *handler.ConsoleHandler, jwtSecret string) {
	api := e.Group("/api")
	api.Use(middleware.JWTAuth(jwtSecret))
	api.Use(middleware.RequireRole("ADMIN", "USER"))

	// Tour lifecycle from the visitor's side.
	api.POST("/start-tour", t.StartTour)
	api.POST("/tours/:tourId/complete", t.CompleteTour)
	api.POST("/tour/abandon", t.AbandonTour)
	api.POST("/tours/:tourId/rating", t.Rate)
	api.GET("/user/tours", t.UserTours)
	api.GET("/user/active-tour", t.ActiveTour)

	// Route browsing with narrated waypoints.
	api.GET("/tours", t.ListRoutes)
	api.GET("/tours/:id/waypoints", t.RouteWaypoints)

	// Robot console: link status and manual control.
	api.GET("/robot/status", console.Status)
	api.GET("/robot/topics", console.Topics)
	api.POST("/robot/command", console.Command)
	api.POST("/robot/speak", console.Speak)
}

// RegisterAdmin registers the staff console under JWT + ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/api/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("ADMIN"))

	// Route authoring.
	g.GET("/routes", a.ListRoutes)
	g.POST("/routes", a.CreateRoute)
	g.PUT("/routes/:id", a.UpdateRoute)
	g.DELETE("/routes/:id", a.DeleteRoute)
	g.GET("/routes/:id/waypoints", a.RouteWaypoints)
	g.PUT("/routes/:id/waypoints", a.ReplaceWaypoints)

	// Robot administration.
	g.GET("/robots", a.ListRobots)
	g.PUT("/robots/:id/status", a.SetRobotStatus)

	// Operational hooks.
	g.POST("/test-notification", a.TestNotification)
	g.GET("/commands", a.CommandLog)
}
