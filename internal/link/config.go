package link

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger replaces the package logger.
func SetLogger(l *logrus.Logger) {
	log = l
}

// Config holds the engine timings and limits.
type Config struct {
	ConnectTimeout  time.Duration
	AutomationDelay time.Duration

	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	DelayMultiplier float64

	MinUpdateInterval   time.Duration
	RSSIThreshold       int
	ScanRestartInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      10 * time.Second,
		AutomationDelay:     time.Second,
		MaxAttempts:         5,
		InitialDelay:        2 * time.Second,
		MaxDelay:            30 * time.Second,
		DelayMultiplier:     1.5,
		MinUpdateInterval:   2 * time.Second,
		RSSIThreshold:       3,
		ScanRestartInterval: 30 * time.Second,
	}
}

// Validate checks the config for values that would stall or spin the engine.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts can't be negative, got %d", c.MaxAttempts)
	}
	if c.InitialDelay <= 0 || c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("invalid retry delays: initial %s, max %s", c.InitialDelay, c.MaxDelay)
	}
	if c.DelayMultiplier < 1 {
		return fmt.Errorf("delay multiplier must be at least 1, got %v", c.DelayMultiplier)
	}
	if c.ScanRestartInterval <= 0 {
		return fmt.Errorf("scan restart interval must be positive, got %s", c.ScanRestartInterval)
	}
	return nil
}
