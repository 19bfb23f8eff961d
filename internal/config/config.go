// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. FORMPILOT_BROWSER_ENGINE.
const EnvPrefix = "FORMPILOT"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Locator() LocatorConfig
	Injector() InjectorConfig
	Matcher() MatcherConfig
	Sequencer() SequencerConfig

	// Setters used by CLI flag overrides.
	SetBrowserHeadless(bool)
	SetBrowserEngine(string)
	SetBrowserRemoteURL(string)
	SetInjectorFramework(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	LocatorCfg   LocatorConfig   `mapstructure:"locator" yaml:"locator"`
	InjectorCfg  InjectorConfig  `mapstructure:"injector" yaml:"injector"`
	MatcherCfg   MatcherConfig   `mapstructure:"matcher" yaml:"matcher"`
	SequencerCfg SequencerConfig `mapstructure:"sequencer" yaml:"sequencer"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Locator() LocatorConfig     { return c.LocatorCfg }
func (c *Config) Injector() InjectorConfig   { return c.InjectorCfg }
func (c *Config) Matcher() MatcherConfig     { return c.MatcherCfg }
func (c *Config) Sequencer() SequencerConfig { return c.SequencerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)     { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserEngine(e string)     { c.BrowserCfg.Engine = e }
func (c *Config) SetBrowserRemoteURL(u string)  { c.BrowserCfg.RemoteURL = u }
func (c *Config) SetInjectorFramework(f string) { c.InjectorCfg.Framework = f }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Browser engines.
const (
	EngineChromedp   = "chromedp"
	EnginePlaywright = "playwright"
)

// BrowserConfig selects and configures the live page engine.
type BrowserConfig struct {
	// Engine is "chromedp" or "playwright".
	Engine   string `mapstructure:"engine" yaml:"engine"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	// BrowserType applies to playwright only: "chromium" or "firefox".
	BrowserType string `mapstructure:"browser_type" yaml:"browser_type"`
	// RemoteURL attaches chromedp to an already running Chrome (its
	// DevTools websocket or http://host:port) instead of launching one.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	// TargetURLContains picks the tab to drive when attaching.
	TargetURLContains string        `mapstructure:"target_url_contains" yaml:"target_url_contains"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// Install downloads the playwright driver and browsers when missing.
	Install bool `mapstructure:"install" yaml:"install"`
}

// LocatorConfig tunes element resolution.
type LocatorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
}

// Framework bridges.
const (
	FrameworkReact  = "react"
	FrameworkVue    = "vue"
	FrameworkNative = "native"
)

// InjectorConfig tunes value injection.
type InjectorConfig struct {
	Framework     string        `mapstructure:"framework" yaml:"framework"`
	HandlerSettle time.Duration `mapstructure:"handler_settle" yaml:"handler_settle"`
	BlurDelay     time.Duration `mapstructure:"blur_delay" yaml:"blur_delay"`
	KeystrokeMin  time.Duration `mapstructure:"keystroke_min" yaml:"keystroke_min"`
	KeystrokeMax  time.Duration `mapstructure:"keystroke_max" yaml:"keystroke_max"`
}

// MatcherConfig tunes dropdown option selection.
type MatcherConfig struct {
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ListTimeout  time.Duration `mapstructure:"list_timeout" yaml:"list_timeout"`
	OptionSettle time.Duration `mapstructure:"option_settle" yaml:"option_settle"`
	// Synonyms are groups of interchangeable option labels.
	Synonyms [][]string `mapstructure:"synonyms" yaml:"synonyms"`
}

// SequencerConfig tunes step sequencing.
type SequencerConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff" yaml:"backoff"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ClickSettle time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
}

// DefaultSynonyms are the degree-level groups used when none are configured.
func DefaultSynonyms() [][]string {
	return [][]string{
		{"master", "masters", "master's", "m.s.", "ms", "m.a.", "ma", "msc"},
		{"bachelor", "bachelors", "bachelor's", "b.s.", "bs", "b.a.", "ba", "bsc"},
		{"doctor", "doctorate", "doctoral", "phd", "ph.d."},
		{"associate", "associates", "associate's"},
		{"high school", "secondary", "ged"},
	}
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.browser_type", "chromium")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.target_url_contains", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.install", false)

	// -- Locator --
	v.SetDefault("locator.poll_interval", "100ms")
	v.SetDefault("locator.default_timeout", "5s")

	// -- Injector --
	v.SetDefault("injector.framework", FrameworkReact)
	v.SetDefault("injector.handler_settle", "50ms")
	v.SetDefault("injector.blur_delay", "300ms")
	v.SetDefault("injector.keystroke_min", "30ms")
	v.SetDefault("injector.keystroke_max", "60ms")

	// -- Matcher --
	v.SetDefault("matcher.settle_delay", "1s")
	v.SetDefault("matcher.list_timeout", "2s")
	v.SetDefault("matcher.option_settle", "500ms")
	v.SetDefault("matcher.synonyms", DefaultSynonyms())

	// -- Sequencer --
	v.SetDefault("sequencer.max_attempts", 3)
	v.SetDefault("sequencer.backoff", "1s")
	v.SetDefault("sequencer.settle_delay", "500ms")
	v.SetDefault("sequencer.click_settle", "1s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about during Unmarshal
	// when they have defaults; bind the ones operators most often override.
	_ = v.BindEnv("browser.remote_url")
	_ = v.BindEnv("browser.engine")
	_ = v.BindEnv("injector.framework")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LoggerCfg.LogFile != "" {
		expanded, err := homedir.Expand(cfg.LoggerCfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand logger.log_file: %w", err)
		}
		cfg.LoggerCfg.LogFile = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return err
	}
	if c.LocatorCfg.PollInterval <= 0 {
		return fmt.Errorf("locator.poll_interval must be a positive duration")
	}
	if c.LocatorCfg.DefaultTimeout < 0 {
		return fmt.Errorf("locator.default_timeout must not be negative")
	}
	if err := c.InjectorCfg.Validate(); err != nil {
		return err
	}
	if c.MatcherCfg.SettleDelay < 0 || c.MatcherCfg.ListTimeout < 0 || c.MatcherCfg.OptionSettle < 0 {
		return fmt.Errorf("matcher delays must not be negative")
	}
	for i, group := range c.MatcherCfg.Synonyms {
		if len(group) < 2 {
			return fmt.Errorf("matcher.synonyms[%d] must list at least two labels", i)
		}
	}
	if c.SequencerCfg.MaxAttempts <= 0 {
		return fmt.Errorf("sequencer.max_attempts must be a positive integer")
	}
	if c.SequencerCfg.Backoff < 0 || c.SequencerCfg.SettleDelay < 0 || c.SequencerCfg.ClickSettle < 0 {
		return fmt.Errorf("sequencer delays must not be negative")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch b.Engine {
	case EngineChromedp:
	case EnginePlaywright:
		if b.RemoteURL != "" {
			return fmt.Errorf("browser.remote_url is only supported by the %s engine", EngineChromedp)
		}
		switch b.BrowserType {
		case "chromium", "firefox":
		default:
			return fmt.Errorf("browser.browser_type must be chromium or firefox, got %q", b.BrowserType)
		}
	default:
		return fmt.Errorf("browser.engine must be %s or %s, got %q", EngineChromedp, EnginePlaywright, b.Engine)
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the injector settings.
func (i *InjectorConfig) Validate() error {
	switch i.Framework {
	case FrameworkReact, FrameworkVue, FrameworkNative:
	default:
		return fmt.Errorf("injector.framework must be one of react, vue, native, got %q", i.Framework)
	}
	if i.KeystrokeMin < 0 || i.KeystrokeMax < i.KeystrokeMin {
		return fmt.Errorf("injector.keystroke_max must be at least injector.keystroke_min")
	}
	if i.HandlerSettle < 0 || i.BlurDelay < 0 {
		return fmt.Errorf("injector delays must not be negative")
	}
	return nil
}
