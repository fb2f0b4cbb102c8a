package api

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/overkillpi/overkill/internal/fan"
	"github.com/overkillpi/overkill/internal/observability"
	"github.com/overkillpi/overkill/internal/overclock"
	"github.com/overkillpi/overkill/internal/platform"
	"github.com/overkillpi/overkill/internal/silicon"
)

// Health check endpoint
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"model":     platform.Model(),
		"timestamp": time.Now().Unix(),
	})
}

// System information endpoint
func (s *Server) getSystem(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := s.c.System.GetInfo(ctx)
	if err != nil {
		observability.CaptureError(err, map[string]string{
			"component": "api",
			"operation": "system_info",
		}, nil)
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(info)
}

// Thermal snapshot endpoint
func (s *Server) getThermal(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return c.JSON(s.c.Thermal.Snapshot(ctx))
}

// Current overclock settings endpoint
func (s *Server) getOverclockSettings(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	settings := s.c.Overclock.CurrentSettings(ctx)
	return c.JSON(fiber.Map{
		"settings":            settings,
		"estimated_power_w":   overclock.PowerEstimate(settings.ARMFreq, settings.OverVoltage),
		"cooling_requirement": overclock.CoolingRequirement(settings.ARMFreq, settings.OverVoltage).String(),
	})
}

// profileView annotates a profile with its power/cooling advisory
type profileView struct {
	overclock.Profile
	EstimatedPowerW    float64 `json:"estimated_power_w"`
	CoolingRequirement string  `json:"cooling_requirement"`
	Custom             bool    `json:"custom"`
}

func annotate(p overclock.Profile, custom bool) profileView {
	return profileView{
		Profile:            p,
		EstimatedPowerW:    overclock.PowerEstimate(p.ARMFreq, p.OverVoltage),
		CoolingRequirement: overclock.CoolingRequirement(p.ARMFreq, p.OverVoltage).String(),
		Custom:             custom,
	}
}

// Profile listing endpoint: the built-in ladder plus saved custom profiles
func (s *Server) getProfiles(c *fiber.Ctx) error {
	var views []profileView
	for _, p := range overclock.Ladder() {
		views = append(views, annotate(p, false))
	}
	for _, p := range s.c.Profiles.List() {
		views = append(views, annotate(p, true))
	}
	return c.JSON(views)
}

func (s *Server) saveProfile(c *fiber.Ctx) error {
	var profile overclock.Profile
	if err := c.BodyParser(&profile); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := s.c.Profiles.Save(profile); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"status": "success"})
}

func (s *Server) deleteProfile(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := s.c.Profiles.Delete(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c.Status(404).JSON(fiber.Map{"error": "profile not found"})
		}
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// resolveProfile turns an apply request into a concrete profile. A body with
// only a name set refers to a built-in or saved profile; a body with
// frequencies is used as-is.
func (s *Server) resolveProfile(p overclock.Profile) (overclock.Profile, bool) {
	if p.ARMFreq != 0 || p.GPUFreq != 0 {
		return p, true
	}
	for _, ladder := range overclock.Ladder() {
		if strings.EqualFold(ladder.Name, p.Name) {
			return ladder, true
		}
	}
	if saved, err := s.c.Profiles.Load(p.Name); err == nil {
		return saved, true
	}
	return p, false
}

func (s *Server) applyProfile(c *fiber.Ctx) error {
	var req overclock.Profile
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	profile, ok := s.resolveProfile(req)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "unknown profile: " + req.Name})
	}

	if s.c.Tester.Running() {
		return c.Status(409).JSON(fiber.Map{"error": "silicon test in progress"})
	}

	// Profiles past the safe sub-thresholds validate with a warning; those
	// need an explicit confirm before they touch the boot config.
	if valid, warning := overclock.Validate(profile); valid && warning != "" && c.Query("confirm") != "true" {
		return c.Status(409).JSON(fiber.Map{
			"warning":          warning,
			"confirm_required": true,
		})
	}

	result := s.c.Overclock.Apply(profile)
	if !result.Success {
		return c.Status(422).JSON(result)
	}
	return c.JSON(result)
}

func (s *Server) removeOverclock(c *fiber.Ctx) error {
	if s.c.Tester.Running() {
		return c.Status(409).JSON(fiber.Map{"error": "silicon test in progress"})
	}

	result := s.c.Overclock.Remove()
	if !result.Success {
		return c.Status(422).JSON(result)
	}
	return c.JSON(result)
}

// Silicon test endpoints. The ladder test runs for up to half an hour, so it
// runs in the background and the GET endpoint reports progress.
func (s *Server) startSiliconTest(c *fiber.Ctx) error {
	s.test.mu.Lock()
	if s.test.running {
		s.test.mu.Unlock()
		return c.Status(409).JSON(fiber.Map{"error": silicon.ErrTestInProgress.Error()})
	}
	s.test.running = true
	s.test.index = 0
	s.test.total = len(s.c.Tester.Profiles)
	s.test.message = "Starting silicon quality test..."
	s.test.lastErr = ""
	s.test.mu.Unlock()

	go s.runLadderTest()

	return c.Status(202).JSON(fiber.Map{
		"status":   "started",
		"profiles": len(s.c.Tester.Profiles),
	})
}

func (s *Server) runLadderTest() {
	grade, err := s.c.Tester.Run(context.Background(), func(index, total int, message string) {
		s.test.mu.Lock()
		s.test.index = index
		s.test.total = total
		s.test.message = message
		s.test.mu.Unlock()
	})

	s.test.mu.Lock()
	defer s.test.mu.Unlock()
	s.test.running = false
	s.test.message = "Test complete"
	if err != nil {
		s.test.lastErr = err.Error()
		log.Printf("api: silicon test: %v", err)
	}
	if grade != nil {
		s.test.last = grade
	}
}

func (s *Server) getSiliconTestStatus(c *fiber.Ctx) error {
	s.test.mu.Lock()
	defer s.test.mu.Unlock()

	resp := fiber.Map{
		"running": s.test.running,
		"index":   s.test.index,
		"total":   s.test.total,
		"message": s.test.message,
	}
	if s.test.last != nil {
		resp["grade"] = s.test.last
	}
	if s.test.lastResult != nil {
		resp["profile_result"] = s.test.lastResult
	}
	if s.test.lastErr != "" {
		resp["error"] = s.test.lastErr
	}
	return c.JSON(resp)
}

// testCustomProfile stress-tests one profile without grading. Advisory only:
// the persisted grade comes exclusively from full ladder runs. Like the
// ladder test it runs in the background; the result lands in the status
// endpoint.
func (s *Server) testCustomProfile(c *fiber.Ctx) error {
	var req overclock.Profile
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	profile, ok := s.resolveProfile(req)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "unknown profile: " + req.Name})
	}
	if valid, message := overclock.Validate(profile); !valid {
		return c.Status(400).JSON(fiber.Map{"error": message})
	}

	s.test.mu.Lock()
	if s.test.running {
		s.test.mu.Unlock()
		return c.Status(409).JSON(fiber.Map{"error": silicon.ErrTestInProgress.Error()})
	}
	s.test.running = true
	s.test.index = 0
	s.test.total = 1
	s.test.message = "Testing " + profile.Name + " profile..."
	s.test.lastErr = ""
	s.test.mu.Unlock()

	go func() {
		result, err := s.c.Tester.TestProfile(context.Background(), profile)

		s.test.mu.Lock()
		defer s.test.mu.Unlock()
		s.test.running = false
		s.test.message = "Test complete"
		if err != nil {
			s.test.lastErr = err.Error()
			log.Printf("api: profile test: %v", err)
			return
		}
		s.test.lastResult = &result
	}()

	return c.Status(202).JSON(fiber.Map{"status": "started", "profile": profile.Name})
}

func (s *Server) getSiliconGrade(c *fiber.Ctx) error {
	record, err := s.c.Grades.Load()
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "no silicon grade recorded, run a test first"})
	}
	return c.JSON(record)
}

// Fan endpoints
func (s *Server) getFan(c *fiber.Ctx) error {
	info, err := s.c.Fan.Status()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(info)
}

func (s *Server) getFanSettings(c *fiber.Ctx) error {
	return c.JSON(s.c.Fan.GetSettings())
}

func (s *Server) setFanSettings(c *fiber.Ctx) error {
	var settings fan.Settings
	if err := c.BodyParser(&settings); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := s.c.Fan.SetSettings(&settings); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"status": "success"})
}
