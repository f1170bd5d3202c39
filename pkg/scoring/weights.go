package scoring

import (
	"fmt"
	"math"
	"time"
)

// Weights are the composite weights of the six components. They must sum to 1.
type Weights struct {
	Media    float64 `yaml:"media" json:"media"`
	Social   float64 `yaml:"social" json:"social"`
	Retailer float64 `yaml:"retailer" json:"retailer"`
	Price    float64 `yaml:"price" json:"price"`
	Search   float64 `yaml:"search" json:"search"`
	Seasonal float64 `yaml:"seasonal" json:"seasonal"`
}

const weightTolerance = 1e-6

func DefaultWeights() Weights {
	return Weights{Media: 0.25, Social: 0.20, Retailer: 0.20, Price: 0.15, Search: 0.10, Seasonal: 0.10}
}

func (w Weights) Sum() float64 {
	return w.Media + w.Social + w.Retailer + w.Price + w.Search + w.Seasonal
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"media": w.Media, "social": w.Social, "retailer": w.Retailer,
		"price": w.Price, "search": w.Search, "seasonal": w.Seasonal,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative: %v", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights sum to %v, must sum to 1", sum)
	}
	return nil
}

// Config is the scoring policy. Zero values fall back to DefaultConfig.
type Config struct {
	Weights Weights

	SignalWindow time.Duration
	PriceWindow  time.Duration

	MediaHalfLife    time.Duration
	SocialHalfLife   time.Duration
	RetailerHalfLife time.Duration
	SearchHalfLife   time.Duration

	// Saturation points: the decayed amount that maps to a full 100.
	MediaSaturation    float64
	SocialSaturation   float64
	RetailerSaturation float64

	// PriceDropSaturation is the relative drop that earns the full drop bonus.
	PriceDropSaturation float64
	PriceRiseSaturation float64
	PriceCVSaturation   float64

	LockTTL     time.Duration
	LockWait    time.Duration
	Parallelism int
}

func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		SignalWindow:        7 * 24 * time.Hour,
		PriceWindow:         30 * 24 * time.Hour,
		MediaHalfLife:       3 * 24 * time.Hour,
		SocialHalfLife:      3 * 24 * time.Hour,
		RetailerHalfLife:    3 * 24 * time.Hour,
		SearchHalfLife:      3 * 24 * time.Hour,
		MediaSaturation:     50,
		SocialSaturation:    1000,
		RetailerSaturation:  10,
		PriceDropSaturation: 0.30,
		PriceRiseSaturation: 0.20,
		PriceCVSaturation:   0.20,
		LockTTL:             30 * time.Second,
		LockWait:            5 * time.Second,
		Parallelism:         8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	durations := []struct{ v, def *time.Duration }{
		{&c.SignalWindow, &d.SignalWindow},
		{&c.PriceWindow, &d.PriceWindow},
		{&c.MediaHalfLife, &d.MediaHalfLife},
		{&c.SocialHalfLife, &d.SocialHalfLife},
		{&c.RetailerHalfLife, &d.RetailerHalfLife},
		{&c.SearchHalfLife, &d.SearchHalfLife},
		{&c.LockTTL, &d.LockTTL},
		{&c.LockWait, &d.LockWait},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	floats := []struct{ v, def *float64 }{
		{&c.MediaSaturation, &d.MediaSaturation},
		{&c.SocialSaturation, &d.SocialSaturation},
		{&c.RetailerSaturation, &d.RetailerSaturation},
		{&c.PriceDropSaturation, &d.PriceDropSaturation},
		{&c.PriceRiseSaturation, &d.PriceRiseSaturation},
		{&c.PriceCVSaturation, &d.PriceCVSaturation},
	}
	for _, f := range floats {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	return c
}
