package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	WorldBoundaryR     int `yaml:"world_boundary_r"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	WatchRadiusMax     int `yaml:"watch_radius_max"`

	Cascade    Cascade    `yaml:"cascade"`
	RateLimits RateLimits `yaml:"rate_limits"`
}

// Cascade bounds the evaluations a single cascade may spend:
// max(VisitFactor*wires, MinBudget).
type Cascade struct {
	VisitFactor int `yaml:"visit_factor"`
	MinBudget   int `yaml:"min_budget"`
}

// RateLimits caps edit ops per client: at most EditMax within EditWindowTicks.
// Zero disables the limit.
type RateLimits struct {
	EditWindowTicks int `yaml:"edit_window_ticks"`
	EditMax         int `yaml:"edit_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         5,
		WorldBoundaryR:     512,
		SnapshotEveryTicks: 3000,
		WatchRadiusMax:     32,
		Cascade: Cascade{
			VisitFactor: 192,
			MinBudget:   1024,
		},
		RateLimits: RateLimits{
			EditWindowTicks: 5,
			EditMax:         128,
		},
	}
}

// Load overlays the YAML file on Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.ProtocolVersion == "":
		return errors.New("protocol_version is required")
	case t.TickRateHz <= 0 || t.TickRateHz > 1000:
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	case t.WorldBoundaryR < 0:
		return fmt.Errorf("world_boundary_r must be >= 0: %d", t.WorldBoundaryR)
	case t.SnapshotEveryTicks < 0:
		return fmt.Errorf("snapshot_every_ticks must be >= 0: %d", t.SnapshotEveryTicks)
	case t.WatchRadiusMax <= 0 || t.WatchRadiusMax > 256:
		return fmt.Errorf("watch_radius_max out of range: %d", t.WatchRadiusMax)
	case t.Cascade.VisitFactor < 1:
		return fmt.Errorf("cascade.visit_factor must be >= 1: %d", t.Cascade.VisitFactor)
	case t.Cascade.MinBudget < 1:
		return fmt.Errorf("cascade.min_budget must be >= 1: %d", t.Cascade.MinBudget)
	case t.RateLimits.EditWindowTicks < 0 || t.RateLimits.EditMax < 0:
		return fmt.Errorf("rate_limits must be >= 0: window=%d max=%d", t.RateLimits.EditWindowTicks, t.RateLimits.EditMax)
	}
	return nil
}
