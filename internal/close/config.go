package close

import "time"

// ReopenLimit caps how many reopens may happen inside a trailing window.
// A zero Window means the limit applies to the lifetime of the close.
type ReopenLimit struct {
	Window time.Duration
	Max    int
	Label  string
}

// Config holds the tunable thresholds of the close workflow.
type Config struct {
	MaxLockAge                time.Duration
	MinLockScore              int
	MinCompletionScore        int
	RequireFinalValidation    bool
	LockSkipValidationOnError bool
	ReopenMinAge              time.Duration
	TransitionLockTTL         time.Duration

	// ReopenWindows maps a role to the longest reopen window it may request.
	ReopenWindows       map[string]time.Duration
	DefaultReopenWindow time.Duration
	ReopenLimits        []ReopenLimit
	ReopenReasonMin     int
	ReopenReasonMax     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	const day = 24 * time.Hour
	return Config{
		MaxLockAge:                72 * time.Hour,
		MinLockScore:              80,
		MinCompletionScore:        90,
		RequireFinalValidation:    true,
		LockSkipValidationOnError: true,
		ReopenMinAge:              24 * time.Hour,
		TransitionLockTTL:         30 * time.Second,
		ReopenWindows: map[string]time.Duration{
			"cfo":        90 * day,
			"controller": 30 * day,
			"accountant": 7 * day,
		},
		DefaultReopenWindow: 7 * day,
		ReopenLimits: []ReopenLimit{
			{Window: 30 * day, Max: 3, Label: "30 days"},
			{Window: 90 * day, Max: 5, Label: "90 days"},
			{Window: 365 * day, Max: 10, Label: "365 days"},
			{Max: 10, Label: "lifetime"},
		},
		ReopenReasonMin: 10,
		ReopenReasonMax: 500,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxLockAge <= 0 {
		c.MaxLockAge = def.MaxLockAge
	}
	if c.MinLockScore <= 0 {
		c.MinLockScore = def.MinLockScore
	}
	if c.MinCompletionScore <= 0 {
		c.MinCompletionScore = def.MinCompletionScore
	}
	if c.ReopenMinAge <= 0 {
		c.ReopenMinAge = def.ReopenMinAge
	}
	if c.TransitionLockTTL <= 0 {
		c.TransitionLockTTL = def.TransitionLockTTL
	}
	if len(c.ReopenWindows) == 0 {
		c.ReopenWindows = def.ReopenWindows
	}
	if c.DefaultReopenWindow <= 0 {
		c.DefaultReopenWindow = def.DefaultReopenWindow
	}
	if len(c.ReopenLimits) == 0 {
		c.ReopenLimits = def.ReopenLimits
	}
	if c.ReopenReasonMin <= 0 {
		c.ReopenReasonMin = def.ReopenReasonMin
	}
	if c.ReopenReasonMax <= 0 {
		c.ReopenReasonMax = def.ReopenReasonMax
	}
	return c
}

// ReopenWindow returns the longest window the role may request.
func (c Config) ReopenWindow(role string) time.Duration {
	if window, ok := c.ReopenWindows[role]; ok {
		return window
	}
	return c.DefaultReopenWindow
}
