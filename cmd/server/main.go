package main // Entry point package

import (
	"context"   // context for graceful shutdown
	"log"       // Logging library
	"net/http"  // http.ErrServerClosed sentinel
	"os"        // signal channel plumbing
	"os/signal" // SIGINT/SIGTERM notification
	"syscall"   // syscall signal constants
	"time"      // shutdown grace period

	"github.com/joho/godotenv"    // .env loading for local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/museovivo/robot-tour-server/internal/config"     // Internal config loader
	"github.com/museovivo/robot-tour-server/internal/database"   // MySQL pool setup
	"github.com/museovivo/robot-tour-server/internal/handler"    // HTTP handlers
	"github.com/museovivo/robot-tour-server/internal/middleware" // response cache + rate limiting
	"github.com/museovivo/robot-tour-server/internal/narrator"   // waypoint narration
	"github.com/museovivo/robot-tour-server/internal/queue"      // notification consumer
	"github.com/museovivo/robot-tour-server/internal/repository" // DB repositories
	"github.com/museovivo/robot-tour-server/internal/rosbridge"  // robot transport link
	"github.com/museovivo/robot-tour-server/internal/router"     // Internal router setup
	"github.com/museovivo/robot-tour-server/internal/session"    // tour coordinator
	queue_publisher "github.com/museovivo/robot-tour-server/internal/service" // queue notifier
)

func main() {
	// Load a local .env when present; in containers the variables come
	// from the environment directly, so a missing file is fine.
	_ = godotenv.Load()

	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: without it the response cache and rate limiter
	// are skipped and narration caching falls back to process memory.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable, caching and rate limiting disabled")
	}

	// Repositories over the shared pool.
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	tours := repository.NewTourRepo(db)
	routes := repository.NewRouteRepo(db)
	waypoints := repository.NewWaypointRepo(db)
	robots := repository.NewRobotRepo(db)
	commands := repository.NewCommandLogRepo(db)

	// Notifications flow through RabbitMQ; the consumer drains them to
	// the notification log in the background.
	notifier := queue_publisher.NewNotifier()
	go func() {
		if err := queue.StartNotificationConsumer(); err != nil {
			log.Printf("notification consumer: %v", err)
		}
	}()

	// Robot transport link with its fixed-interval reconnect loop. The
	// first connect failing is normal when the robot is off.
	link := rosbridge.New(cfg.RosbridgeURL, notifier)
	if err := link.Connect(); err != nil {
		log.Printf("rosbridge: initial connect: %v", err)
	}
	go link.Run(cfg.RosbridgeReconnect)
	defer link.Close()

	// Narration with a Redis-backed cache when available.
	var narrationCache narrator.Cache
	if rdb != nil {
		narrationCache = narrator.NewRedisCache(rdb, cfg.NarrationCacheTTL)
	} else {
		narrationCache = narrator.NewMemoryCache()
	}
	narr := narrator.New(narrator.Config{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.GeminiModel,
		MuseumName: cfg.MuseumName,
	}, narrationCache)

	coord := session.NewCoordinator(db, tours, routes, waypoints, robots, notifier, link, cfg.AdmissionPolicy)
	log.Printf("admission policy: %s", coord.Policy())

	e := echo.New() // Create Echo instance
	e.HideBanner = true

	// Distributed rate limiting and response caching need Redis.
	if rdb != nil {
		if rlCfg := config.LoadRateLimitConfig(); rlCfg.Enabled {
			e.Use(middleware.NewTokenBucket(rlCfg, rdb))
		}
		if cCfg := config.LoadCacheConfig(); cCfg.Enabled {
			e.Use(middleware.NewRedisCache(cCfg, rdb))
		}
	}

	router.RegisterRoutes(e) // Register application routes
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens, notifier), cfg.JWTSecret)
	router.RegisterRobot(e, handler.NewRobotHandler(coord, tours, waypoints, robots, narr))
	router.RegisterTours(e,
		handler.NewTourHandler(coord, tours, routes, waypoints, narr),
		handler.NewConsoleHandler(link, commands),
		cfg.JWTSecret)
	router.RegisterAdmin(e, handler.NewAdminHandler(routes, waypoints, robots, commands, notifier), cfg.JWTSecret)

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal(err) // Log and exit if server fails
		}
	}()

	// Block until asked to stop, then drain in-flight requests and halt
	// the robot before exiting.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
