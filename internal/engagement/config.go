package engagement

import (
	"time"

	"github.com/frepi/frepi-core/internal/model"
)

// Defaults.
const (
	DefaultTargetDepth   = 10
	DefaultSessionWindow = 30 * 24 * time.Hour
)

// Config tunes scoring.
type Config struct {
	// TargetDepth is the configured-product count at which the depth signal
	// saturates.
	TargetDepth int `mapstructure:"target_depth"`
	// SessionWindowDays is the look-back window for session frequency.
	SessionWindowDays int `mapstructure:"session_window_days"`
	// ConfiguredMinSource is the lowest preference source that makes a
	// product count as configured.
	ConfiguredMinSource string `mapstructure:"configured_min_source"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		TargetDepth:         DefaultTargetDepth,
		SessionWindowDays:   int(DefaultSessionWindow / (24 * time.Hour)),
		ConfiguredMinSource: model.SourceDrip.String(),
	}
}

// SessionWindow returns the look-back window as a duration.
func (c Config) SessionWindow() time.Duration {
	if c.SessionWindowDays <= 0 {
		return DefaultSessionWindow
	}
	return time.Duration(c.SessionWindowDays) * 24 * time.Hour
}

// MinSource parses ConfiguredMinSource, falling back to drip.
func (c Config) MinSource() model.Source {
	s, err := model.ParseSource(c.ConfiguredMinSource)
	if err != nil {
		return model.SourceDrip
	}
	return s
}
