// Package config holds the tunable policy for batch exports.
//
// The readiness and empty-output cutoffs are empirically tuned for the
// supported documentation sites; they are loaded from config rather than
// hard-coded so new sites can be accommodated without a rebuild.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration for a batch export run.
type Config struct {
	// Readiness thresholds
	Readiness ReadinessConfig `yaml:"readiness"`

	// Empty-output retry policy
	EmptyOutput EmptyOutputConfig `yaml:"empty_output"`

	// Timeouts and pacing
	Timing TimingConfig `yaml:"timing"`

	// Project scope filtering
	Scope ScopeConfig `yaml:"scope"`

	// Output directory for saved archives. Empty means current directory.
	OutputDir string `yaml:"output_dir"`

	// Headless controls whether the driving browser runs without a window.
	Headless bool `yaml:"headless"`
}

// ReadinessConfig defines when a rendered page counts as ready to convert.
type ReadinessConfig struct {
	// MinTextVolume is the minimum visible text length (characters).
	MinTextVolume int `yaml:"min_text_volume"`

	// MinStructuralCount is the minimum number of structural elements
	// (headings, tables, code blocks, lists).
	MinStructuralCount int `yaml:"min_structural_count"`
}

// EmptyOutputConfig defines the suspicious-empty conversion heuristic.
type EmptyOutputConfig struct {
	// SuspicionThreshold is the trimmed output length below which a
	// conversion is a retry candidate.
	SuspicionThreshold int `yaml:"suspicion_threshold"`

	// HardFloor is the trimmed output length below which a conversion is
	// suspicious even without readiness metrics.
	HardFloor int `yaml:"hard_floor"`

	// RetryBackoff is the pause before the single re-probe and re-convert.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// TimingConfig defines timeouts and pacing for the run.
type TimingConfig struct {
	// NavigationTimeout bounds a single full navigation.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`

	// ReadinessTimeout bounds a single readiness probe loop.
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`

	// DeliveryTimeout bounds a queued agent request.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`

	// PollInterval is the spacing between readiness and address polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PagePause is the pause between pages to avoid overloading the target.
	PagePause time.Duration `yaml:"page_pause"`
}

// ScopeConfig restricts discovery to addresses within the project scope.
type ScopeConfig struct {
	// Include lists glob patterns an address must match (any of). Empty
	// means every address on the starting origin is in scope.
	Include []string `yaml:"include"`

	// Exclude lists glob patterns that remove an address from scope.
	Exclude []string `yaml:"exclude"`
}

// Default returns the configuration tuned for the supported sites.
func Default() *Config {
	return &Config{
		Readiness: ReadinessConfig{
			MinTextVolume:      160,
			MinStructuralCount: 6,
		},
		EmptyOutput: EmptyOutputConfig{
			SuspicionThreshold: 80,
			HardFloor:          20,
			RetryBackoff:       900 * time.Millisecond,
		},
		Timing: TimingConfig{
			NavigationTimeout: 30 * time.Second,
			ReadinessTimeout:  12 * time.Second,
			DeliveryTimeout:   30 * time.Second,
			PollInterval:      250 * time.Millisecond,
			PagePause:         250 * time.Millisecond,
		},
		Headless: true,
	}
}

// Load reads a YAML config file, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Readiness.MinTextVolume < 0 {
		return fmt.Errorf("readiness.min_text_volume must be non-negative")
	}
	if c.Readiness.MinStructuralCount < 0 {
		return fmt.Errorf("readiness.min_structural_count must be non-negative")
	}
	if c.EmptyOutput.HardFloor > c.EmptyOutput.SuspicionThreshold {
		return fmt.Errorf("empty_output.hard_floor must not exceed empty_output.suspicion_threshold")
	}
	if c.Timing.PollInterval <= 0 {
		return fmt.Errorf("timing.poll_interval must be positive")
	}
	if _, err := c.Scope.Matcher(); err != nil {
		return err
	}
	return nil
}

// Matcher compiles the scope globs into an address predicate.
func (s ScopeConfig) Matcher() (func(address string) bool, error) {
	include := make([]glob.Glob, 0, len(s.Include))
	for _, pattern := range s.Include {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid scope.include pattern %q: %w", pattern, err)
		}
		include = append(include, g)
	}

	exclude := make([]glob.Glob, 0, len(s.Exclude))
	for _, pattern := range s.Exclude {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid scope.exclude pattern %q: %w", pattern, err)
		}
		exclude = append(exclude, g)
	}

	return func(address string) bool {
		for _, g := range exclude {
			if g.Match(address) {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, g := range include {
			if g.Match(address) {
				return true
			}
		}
		return false
	}, nil
}
