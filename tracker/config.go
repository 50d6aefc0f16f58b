package tracker

import (
	"fmt"
	"time"

	"github.com/hazyhaar/domtrack/shortid"
	"github.com/hazyhaar/domtrack/tracker/internal/fingerprint"
)

// Weights is the per-category hint weight table used by the scorer.
type Weights = fingerprint.Weights

// DefaultWeights returns the stock weight table.
func DefaultWeights() Weights { return fingerprint.DefaultWeights() }

// Config is the session configuration. Read once at session start,
// immutable thereafter.
type Config struct {
	// SessionID identifies the monitored page. Generated when empty.
	SessionID string `yaml:"session_id" json:"session_id"`
	// PageURL is recorded with the session for operators.
	PageURL string `yaml:"page_url" json:"page_url"`

	// Threshold is the minimum similarity score for a match. Default: 0.70.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// GracePeriod is how long an unmatched element stays matchable before
	// it is declared lost. Default: 5s.
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period"`
	// DebounceWindow coalesces bursts of batches into one matching pass.
	// Default: 250ms.
	DebounceWindow time.Duration `yaml:"debounce_window" json:"debounce_window"`
	// MaxBuffer forces an immediate pass when this many records pile up
	// inside one window. Default: 1000.
	MaxBuffer int `yaml:"max_buffer" json:"max_buffer"`
	// Capacity bounds the number of tracked elements per session.
	// Default: 500.
	Capacity int `yaml:"capacity" json:"capacity"`
	// ShortIDLength is the fixed length of short aliases. Default: 6.
	ShortIDLength int `yaml:"short_id_length" json:"short_id_length"`

	// Weights is the scorer's hint weight table. Zero value means defaults.
	Weights Weights `yaml:"weights" json:"weights"`
}

func (c *Config) defaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.70
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 250 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 1000
	}
	if c.Capacity <= 0 {
		c.Capacity = 500
	}
	if c.ShortIDLength <= 0 {
		c.ShortIDLength = shortid.DefaultLength
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
}

func (c *Config) validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("tracker: threshold %v out of [0,1]", c.Threshold)
	}
	return nil
}
