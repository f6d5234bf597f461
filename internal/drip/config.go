package drip

import "github.com/frepi/frepi-core/internal/model"

// DefaultSeedFraction is the share of products queued after commit.
const DefaultSeedFraction = 0.20

// Config tunes the queue.
type Config struct {
	SeedFraction float64 `mapstructure:"seed_fraction"`
	// Dimensions are asked in this order; a dimension already held at drip
	// rank or above is skipped.
	Dimensions []string `mapstructure:"dimensions"`
}

// DefaultConfig returns the standard queue settings.
func DefaultConfig() Config {
	return Config{
		SeedFraction: DefaultSeedFraction,
		Dimensions:   []string{string(model.DimensionBrand), string(model.DimensionMaxPrice), string(model.DimensionQuality)},
	}
}

func (c Config) dimensions() ([]model.Dimension, error) {
	names := c.Dimensions
	if len(names) == 0 {
		names = DefaultConfig().Dimensions
	}
	out := make([]model.Dimension, 0, len(names))
	for _, n := range names {
		d, err := model.ParseDimension(n)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
