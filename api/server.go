package api

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/overkillpi/overkill/internal/fan"
	"github.com/overkillpi/overkill/internal/overclock"
	"github.com/overkillpi/overkill/internal/silicon"
	"github.com/overkillpi/overkill/internal/sysinfo"
	"github.com/overkillpi/overkill/internal/thermal"
)

// Components are the wired subsystems the server exposes
type Components struct {
	System    sysinfo.Reader
	Thermal   *thermal.Reader
	Overclock *overclock.Manager
	Profiles  *overclock.Store
	Tester    *silicon.Tester
	Grades    *silicon.GradeStore
	Fan       *fan.Controller
}

// testState tracks the in-flight silicon test for the progress endpoint
type testState struct {
	mu         sync.Mutex
	running    bool
	index      int
	total      int
	message    string
	last       *silicon.Grade
	lastResult *silicon.Result
	lastErr    string
}

// Server represents the API server
type Server struct {
	app  *fiber.App
	c    Components
	test testState
}

// NewServer creates a new API server over the wired components
func NewServer(c Components) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      120 * time.Second,
		DisableKeepalive: false,
		ServerHeader:     "overkill",
		AppName:          "OVERKILL v1.0",
	})

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:  "*",
		ExposeHeaders: "Content-Length,Content-Type",
		MaxAge:        86400, // 24 hours
	}))

	server := &Server{app: app, c: c}
	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.app.Group("/api")

	// System information endpoints
	api.Get("/system", s.getSystem)
	api.Get("/thermal", s.getThermal)

	// Overclock endpoints
	api.Get("/overclock/settings", s.getOverclockSettings)
	api.Get("/overclock/profiles", s.getProfiles)
	api.Post("/overclock/profiles", s.saveProfile)
	api.Delete("/overclock/profiles/:name", s.deleteProfile)
	api.Post("/overclock/apply", s.applyProfile)
	api.Post("/overclock/remove", s.removeOverclock)

	// Silicon quality testing endpoints
	api.Post("/silicon/test", s.startSiliconTest)
	api.Get("/silicon/test", s.getSiliconTestStatus)
	api.Post("/silicon/test/profile", s.testCustomProfile)
	api.Get("/silicon/grade", s.getSiliconGrade)

	// Fan control endpoints
	api.Get("/fan", s.getFan)
	api.Get("/fan/settings", s.getFanSettings)
	api.Post("/fan/settings", s.setFanSettings)

	// Health check
	api.Get("/health", s.healthCheck)
}

// Start starts the API server
func (s *Server) Start(address string) error {
	return s.app.Listen(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}
