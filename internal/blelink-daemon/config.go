package daemon

import (
	"time"

	"github.com/TheCacophonyProject/blelink/internal/link"
	"github.com/TheCacophonyProject/blelink/internal/prefs"
	"github.com/TheCacophonyProject/go-config"
)

const configKey = "ble-link"

type Config struct {
	Adapter           string        `mapstructure:"adapter"`
	StorePath         string        `mapstructure:"store-path"`
	HooksDir          string        `mapstructure:"hooks-dir"`
	AutomationName    string        `mapstructure:"automation-name"`
	AutomationTimeout time.Duration `mapstructure:"automation-timeout"`
	AutomationDelay   time.Duration `mapstructure:"automation-delay"`
	LEDPin            string        `mapstructure:"led-pin"`
	ReportEvents      bool          `mapstructure:"report-events"`

	ConnectTimeout  time.Duration `mapstructure:"connect-timeout"`
	MaxAttempts     int           `mapstructure:"max-attempts"`
	InitialDelay    time.Duration `mapstructure:"initial-delay"`
	MaxDelay        time.Duration `mapstructure:"max-delay"`
	DelayMultiplier float64       `mapstructure:"delay-multiplier"`

	UpdateInterval      time.Duration `mapstructure:"update-interval"`
	RSSIThreshold       int           `mapstructure:"rssi-threshold"`
	ScanRestartInterval time.Duration `mapstructure:"scan-restart-interval"`

	// Outside of the foreground window the engine runs as if backgrounded.
	// Both empty means no window.
	ForegroundStart string `mapstructure:"foreground-start"`
	ForegroundEnd   string `mapstructure:"foreground-end"`

	Latitude  float32 `mapstructure:"-"`
	Longitude float32 `mapstructure:"-"`
}

func DefaultConfig() Config {
	lc := link.DefaultConfig()
	return Config{
		Adapter:             "hci0",
		StorePath:           prefs.DefaultPath,
		HooksDir:            "/etc/blelink/hooks",
		AutomationName:      "on-connect",
		AutomationTimeout:   30 * time.Second,
		AutomationDelay:     lc.AutomationDelay,
		ReportEvents:        true,
		ConnectTimeout:      lc.ConnectTimeout,
		MaxAttempts:         lc.MaxAttempts,
		InitialDelay:        lc.InitialDelay,
		MaxDelay:            lc.MaxDelay,
		DelayMultiplier:     lc.DelayMultiplier,
		UpdateInterval:      lc.MinUpdateInterval,
		RSSIThreshold:       lc.RSSIThreshold,
		ScanRestartInterval: lc.ScanRestartInterval,
	}
}

func ParseConfig(configDir string) (*Config, error) {
	conf, err := config.New(configDir)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	if err := conf.Unmarshal(configKey, &c); err != nil {
		return nil, err
	}

	location := config.Location{}
	if err := conf.Unmarshal(config.LocationKey, &location); err != nil {
		return nil, err
	}
	c.Latitude = location.Latitude
	c.Longitude = location.Longitude

	if err := c.linkConfig().Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) linkConfig() link.Config {
	return link.Config{
		ConnectTimeout:      c.ConnectTimeout,
		AutomationDelay:     c.AutomationDelay,
		MaxAttempts:         c.MaxAttempts,
		InitialDelay:        c.InitialDelay,
		MaxDelay:            c.MaxDelay,
		DelayMultiplier:     c.DelayMultiplier,
		MinUpdateInterval:   c.UpdateInterval,
		RSSIThreshold:       c.RSSIThreshold,
		ScanRestartInterval: c.ScanRestartInterval,
	}
}

func (c *Config) hasForegroundWindow() bool {
	return c.ForegroundStart != "" || c.ForegroundEnd != ""
}
