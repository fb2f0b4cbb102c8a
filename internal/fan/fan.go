// Package fan controls the Pi 5 cooling fan through the kernel cooling
// device, with an optional temperature-curve mode.
package fan

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mode represents different fan control modes
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeFixed Mode = "fixed"
	ModeCurve Mode = "curve"
)

// CurvePoint represents a point in a fan curve
type CurvePoint struct {
	Temperature int `json:"temperature_celsius"`
	FanSpeed    int `json:"fan_speed_percent"`
}

// Settings represents fan control settings
type Settings struct {
	Mode       Mode         `json:"mode"`
	FixedSpeed int          `json:"fixed_speed_percent,omitempty"`
	Curve      []CurvePoint `json:"curve,omitempty"`
}

// Info represents the current fan state
type Info struct {
	Percent  float64 `json:"speed_percent"`
	State    int     `json:"state"`
	MaxState int     `json:"max_state"`
	Mode     Mode    `json:"mode"`
}

// TempFunc supplies the CPU temperature for curve mode
type TempFunc func(ctx context.Context) float64

// Controller drives the cooling device. The Pi 5 fan exposes discrete states
// 0..max_state through /sys/class/thermal/cooling_device0.
type Controller struct {
	CoolingDeviceDir string
	Temp             TempFunc

	// CurveInterval is how often curve mode re-evaluates, default 2 s.
	CurveInterval time.Duration

	mu       sync.Mutex
	mode     Mode
	curve    []CurvePoint
	stopCh   chan struct{}
	curveRun bool
}

// NewController creates a controller over the standard cooling device
func NewController(temp TempFunc) *Controller {
	return &Controller{
		CoolingDeviceDir: "/sys/class/thermal/cooling_device0",
		Temp:             temp,
		CurveInterval:    2 * time.Second,
		mode:             ModeAuto,
	}
}

// Status returns the current fan state
func (c *Controller) Status() (*Info, error) {
	cur, err := c.readState("cur_state")
	if err != nil {
		return nil, fmt.Errorf("read fan state: %w", err)
	}
	max, err := c.readState("max_state")
	if err != nil {
		return nil, fmt.Errorf("read fan max state: %w", err)
	}

	info := &Info{State: cur, MaxState: max}
	if max > 0 {
		info.Percent = float64(cur) / float64(max) * 100
	}
	c.mu.Lock()
	info.Mode = c.mode
	c.mu.Unlock()
	return info, nil
}

// GetSettings returns the active control settings
func (c *Controller) GetSettings() *Settings {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Settings{Mode: c.mode}
	if c.mode == ModeCurve {
		s.Curve = append([]CurvePoint(nil), c.curve...)
	}
	if c.mode == ModeFixed {
		if cur, err := c.readState("cur_state"); err == nil {
			if max, err := c.readState("max_state"); err == nil && max > 0 {
				s.FixedSpeed = cur * 100 / max
			}
		}
	}
	return s
}

// SetSettings applies fan settings
func (c *Controller) SetSettings(s *Settings) error {
	switch s.Mode {
	case ModeFixed:
		if s.FixedSpeed < 0 || s.FixedSpeed > 100 {
			return fmt.Errorf("fan speed must be between 0%% and 100%%")
		}
		c.stopCurve()
		if err := c.setPercent(s.FixedSpeed); err != nil {
			return err
		}
		c.mu.Lock()
		c.mode = ModeFixed
		c.mu.Unlock()

	case ModeAuto:
		c.stopCurve()
		c.mu.Lock()
		c.mode = ModeAuto
		c.mu.Unlock()

	case ModeCurve:
		if len(s.Curve) < 2 {
			return fmt.Errorf("fan curve must have at least 2 points")
		}
		curve := append([]CurvePoint(nil), s.Curve...)
		sort.Slice(curve, func(i, j int) bool {
			return curve[i].Temperature < curve[j].Temperature
		})
		for _, point := range curve {
			if point.Temperature < 0 || point.Temperature > 100 {
				return fmt.Errorf("curve temperature must be between 0 and 100°C")
			}
			if point.FanSpeed < 0 || point.FanSpeed > 100 {
				return fmt.Errorf("curve fan speed must be between 0%% and 100%%")
			}
		}
		if c.Temp == nil {
			return fmt.Errorf("curve mode requires a temperature source")
		}
		c.stopCurve()
		c.startCurve(curve)

	default:
		return fmt.Errorf("unsupported fan mode: %s", s.Mode)
	}
	return nil
}

// startCurve runs the background loop that tracks temperature
func (c *Controller) startCurve(curve []CurvePoint) {
	c.mu.Lock()
	c.mode = ModeCurve
	c.curve = curve
	c.stopCh = make(chan struct{})
	c.curveRun = true
	stop := c.stopCh
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.CurveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.CurveInterval)
				temp := c.Temp(ctx)
				cancel()
				if temp <= 0 {
					continue
				}
				speed := InterpolateSpeed(curve, int(temp))
				if err := c.setPercent(speed); err != nil {
					log.Printf("fan: curve update: %v", err)
				}
			}
		}
	}()
}

func (c *Controller) stopCurve() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.curveRun {
		close(c.stopCh)
		c.curveRun = false
	}
}

// Close stops any background curve loop
func (c *Controller) Close() {
	c.stopCurve()
}

// InterpolateSpeed linearly interpolates the fan speed for a temperature
// from an ascending-sorted curve
func InterpolateSpeed(curve []CurvePoint, temp int) int {
	if temp <= curve[0].Temperature {
		return curve[0].FanSpeed
	}
	last := curve[len(curve)-1]
	if temp >= last.Temperature {
		return last.FanSpeed
	}
	for i := 0; i < len(curve)-1; i++ {
		if temp >= curve[i].Temperature && temp <= curve[i+1].Temperature {
			tempRange := curve[i+1].Temperature - curve[i].Temperature
			speedRange := curve[i+1].FanSpeed - curve[i].FanSpeed
			return curve[i].FanSpeed + speedRange*(temp-curve[i].Temperature)/tempRange
		}
	}
	return last.FanSpeed
}

// setPercent maps a percentage onto the cooling device's discrete states
func (c *Controller) setPercent(percent int) error {
	max, err := c.readState("max_state")
	if err != nil {
		return fmt.Errorf("read fan max state: %w", err)
	}
	state := (percent*max + 50) / 100
	if state > max {
		state = max
	}
	path := filepath.Join(c.CoolingDeviceDir, "cur_state")
	if err := os.WriteFile(path, []byte(strconv.Itoa(state)), 0644); err != nil {
		return fmt.Errorf("write fan state: %w", err)
	}
	return nil
}

func (c *Controller) readState(name string) (int, error) {
	data, err := os.ReadFile(filepath.Join(c.CoolingDeviceDir, name))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
