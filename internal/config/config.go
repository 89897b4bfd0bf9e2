package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Grid       GridConfig       `yaml:"grid" json:"grid"`
	Fetch      FetchConfig      `yaml:"fetch" json:"fetch"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Visibility VisibilityConfig `yaml:"visibility" json:"visibility"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	WebServer  WebServerConfig  `yaml:"web_server" json:"web_server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// Breakpoint maps a minimum viewport width to a column count
type Breakpoint struct {
	MinWidth float64 `yaml:"min_width" json:"min_width"`
	Columns  int     `yaml:"columns" json:"columns"`
}

// GridConfig contains layout and windowing settings
type GridConfig struct {
	Gap             float64       `yaml:"gap" json:"gap"`                           // Pixels between items, both axes
	DefaultHeight   float64       `yaml:"default_height" json:"default_height"`     // Placeholder height when nothing better is known
	MaxAspect       float64       `yaml:"max_aspect" json:"max_aspect"`             // Height/width ratio above which an item is clamped
	AspectTolerance float64       `yaml:"aspect_tolerance" json:"aspect_tolerance"` // Relative decoded-vs-declared delta that triggers relayout
	Breakpoints     []Breakpoint  `yaml:"breakpoints" json:"breakpoints"`
	WindowThreshold int           `yaml:"window_threshold" json:"window_threshold"` // Item count above which only a window is rendered
	BufferRows      int           `yaml:"buffer_rows" json:"buffer_rows"`           // Rows kept above and below the viewport in windowed mode
	FrameInterval   time.Duration `yaml:"frame_interval" json:"frame_interval"`     // Deferral for batched relayout passes
	LayoutMemoTTL   time.Duration `yaml:"layout_memo_ttl" json:"layout_memo_ttl"`   // Lifetime of memoized layouts
}

// FetchConfig contains the thumbnail retry policy
type FetchConfig struct {
	FastRetryLimit int           `yaml:"fast_retry_limit" json:"fast_retry_limit"`
	FastBase       time.Duration `yaml:"fast_base" json:"fast_base"`
	FastStep       time.Duration `yaml:"fast_step" json:"fast_step"`
	FastCap        time.Duration `yaml:"fast_cap" json:"fast_cap"`
	SlowRetryLimit int           `yaml:"slow_retry_limit" json:"slow_retry_limit"`
	SlowInterval   time.Duration `yaml:"slow_interval" json:"slow_interval"`
	NotFoundLimit  int           `yaml:"not_found_limit" json:"not_found_limit"`
	NotFoundStep   time.Duration `yaml:"not_found_step" json:"not_found_step"`
	NetworkLimit   int           `yaml:"network_limit" json:"network_limit"`
	NetworkStep    time.Duration `yaml:"network_step" json:"network_step"`
	RateLimitMin   time.Duration `yaml:"rate_limit_min" json:"rate_limit_min"`
	RateLimitMax   time.Duration `yaml:"rate_limit_max" json:"rate_limit_max"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"` // Per-request HTTP timeout
}

// QueueConfig contains concurrency throttle settings
type QueueConfig struct {
	BaseConcurrency int           `yaml:"base_concurrency" json:"base_concurrency"`
	MaxConcurrency  int           `yaml:"max_concurrency" json:"max_concurrency"`
	BaseSpacing     time.Duration `yaml:"base_spacing" json:"base_spacing"`
	MinSpacing      time.Duration `yaml:"min_spacing" json:"min_spacing"`
	FastVelocity    float64       `yaml:"fast_velocity" json:"fast_velocity"`     // Pixels per second treated as full speed
	VelocityWindow  time.Duration `yaml:"velocity_window" json:"velocity_window"` // Scroll samples older than this are ignored
}

// VisibilityConfig contains viewport observation settings
type VisibilityConfig struct {
	Margin    float64 `yaml:"margin" json:"margin"`       // Pre-fetch distance around the viewport
	Threshold float64 `yaml:"threshold" json:"threshold"` // Fraction of a node that must intersect
}

// CacheConfig contains resource cache settings
type CacheConfig struct {
	MaxAge        time.Duration `yaml:"max_age" json:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// WebServerConfig contains gallery server settings
type WebServerConfig struct {
	Host       string  `yaml:"host" json:"host"`
	Port       int     `yaml:"port" json:"port"`
	BaseURL    string  `yaml:"base_url" json:"base_url"`       // Used by clients (render) to reach the server
	RateLimit  float64 `yaml:"rate_limit" json:"rate_limit"`   // Thumbnail requests per second before 429
	RateBurst  int     `yaml:"rate_burst" json:"rate_burst"`   // Burst allowance for the limiter
	PageSize   int     `yaml:"page_size" json:"page_size"`     // Default item page size
	MediaRoot  string  `yaml:"media_root" json:"media_root"`   // Directory thumbnails and previews are served from
	MaxPreview int     `yaml:"max_preview" json:"max_preview"` // Longest edge of generated previews

	// ReportTokenHash is a bcrypt hash of the bearer token the thumbnail
	// pipeline must present when posting status reports. Empty disables the check.
	ReportTokenHash string `yaml:"report_token_hash,omitempty" json:"-"`
}

// DatabaseConfig contains SQLite catalog settings
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig contains logrus settings
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text or json
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Grid.Gap < 0 {
		return fmt.Errorf("grid.gap must not be negative")
	}
	if c.Grid.DefaultHeight <= 0 {
		return fmt.Errorf("grid.default_height must be positive")
	}
	if len(c.Grid.Breakpoints) == 0 {
		return fmt.Errorf("grid.breakpoints must not be empty")
	}
	for i, bp := range c.Grid.Breakpoints {
		if bp.Columns < 1 {
			return fmt.Errorf("grid.breakpoints[%d].columns must be at least 1", i)
		}
	}
	if c.Fetch.FastRetryLimit < 0 || c.Fetch.SlowRetryLimit < 0 {
		return fmt.Errorf("fetch retry limits must not be negative")
	}
	if c.Fetch.RateLimitMax < c.Fetch.RateLimitMin {
		return fmt.Errorf("fetch.rate_limit_max must not be below fetch.rate_limit_min")
	}
	if c.Queue.BaseConcurrency < 1 {
		return fmt.Errorf("queue.base_concurrency must be at least 1")
	}
	if c.Queue.MaxConcurrency < c.Queue.BaseConcurrency {
		return fmt.Errorf("queue.max_concurrency must not be below queue.base_concurrency")
	}
	if c.Queue.MinSpacing > c.Queue.BaseSpacing {
		return fmt.Errorf("queue.min_spacing must not exceed queue.base_spacing")
	}
	if c.Visibility.Threshold < 0 || c.Visibility.Threshold > 1 {
		return fmt.Errorf("visibility.threshold must be between 0 and 1")
	}
	if h := c.WebServer.ReportTokenHash; h != "" && !strings.HasPrefix(h, "$2") {
		return fmt.Errorf("web_server.report_token_hash must be a bcrypt hash")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}
	return nil
}

// SetDefaults sets default values for optional configuration fields
func (c *Config) SetDefaults() {
	// Grid defaults
	if c.Grid.Gap == 0 {
		c.Grid.Gap = 8
	}
	if c.Grid.DefaultHeight == 0 {
		c.Grid.DefaultHeight = 240
	}
	if c.Grid.MaxAspect == 0 {
		c.Grid.MaxAspect = 10
	}
	if c.Grid.AspectTolerance == 0 {
		c.Grid.AspectTolerance = 0.02
	}
	if len(c.Grid.Breakpoints) == 0 {
		c.Grid.Breakpoints = []Breakpoint{
			{MinWidth: 0, Columns: 2},
			{MinWidth: 600, Columns: 3},
			{MinWidth: 900, Columns: 4},
			{MinWidth: 1200, Columns: 5},
			{MinWidth: 1600, Columns: 6},
		}
	}
	c.Grid.Breakpoints = normalizeBreakpoints(c.Grid.Breakpoints)
	if c.Grid.WindowThreshold == 0 {
		c.Grid.WindowThreshold = 500
	}
	if c.Grid.BufferRows == 0 {
		c.Grid.BufferRows = 3
	}
	if c.Grid.FrameInterval == 0 {
		c.Grid.FrameInterval = 16 * time.Millisecond
	}
	if c.Grid.LayoutMemoTTL == 0 {
		c.Grid.LayoutMemoTTL = 30 * time.Second
	}

	// Fetch defaults
	if c.Fetch.FastRetryLimit == 0 {
		c.Fetch.FastRetryLimit = 15
	}
	if c.Fetch.FastBase == 0 {
		c.Fetch.FastBase = 2 * time.Second
	}
	if c.Fetch.FastStep == 0 {
		c.Fetch.FastStep = time.Second
	}
	if c.Fetch.FastCap == 0 {
		c.Fetch.FastCap = 15 * time.Second
	}
	if c.Fetch.SlowRetryLimit == 0 {
		c.Fetch.SlowRetryLimit = 5
	}
	if c.Fetch.SlowInterval == 0 {
		c.Fetch.SlowInterval = time.Minute
	}
	if c.Fetch.NotFoundLimit == 0 {
		c.Fetch.NotFoundLimit = 3
	}
	if c.Fetch.NotFoundStep == 0 {
		c.Fetch.NotFoundStep = time.Second
	}
	if c.Fetch.NetworkLimit == 0 {
		c.Fetch.NetworkLimit = 2
	}
	if c.Fetch.NetworkStep == 0 {
		c.Fetch.NetworkStep = time.Second
	}
	if c.Fetch.RateLimitMin == 0 {
		c.Fetch.RateLimitMin = 500 * time.Millisecond
	}
	if c.Fetch.RateLimitMax == 0 {
		c.Fetch.RateLimitMax = 2 * time.Second
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}

	// Queue defaults
	if c.Queue.BaseConcurrency == 0 {
		c.Queue.BaseConcurrency = 4
	}
	if c.Queue.MaxConcurrency == 0 {
		c.Queue.MaxConcurrency = 12
	}
	if c.Queue.BaseSpacing == 0 {
		c.Queue.BaseSpacing = 40 * time.Millisecond
	}
	if c.Queue.FastVelocity == 0 {
		c.Queue.FastVelocity = 3000
	}
	if c.Queue.VelocityWindow == 0 {
		c.Queue.VelocityWindow = 250 * time.Millisecond
	}

	// Visibility defaults
	if c.Visibility.Margin == 0 {
		c.Visibility.Margin = 600
	}
	if c.Visibility.Threshold == 0 {
		c.Visibility.Threshold = 0.01
	}

	// Cache defaults
	if c.Cache.MaxAge == 0 {
		c.Cache.MaxAge = 10 * time.Minute
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = 30 * time.Second
	}

	// Web server defaults
	if c.WebServer.Port == 0 {
		c.WebServer.Port = 8080
	}
	if c.WebServer.Host == "" {
		c.WebServer.Host = "localhost"
	}
	if c.WebServer.BaseURL == "" {
		c.WebServer.BaseURL = fmt.Sprintf("http://%s:%d", c.WebServer.Host, c.WebServer.Port)
	}
	c.WebServer.BaseURL = strings.TrimSuffix(c.WebServer.BaseURL, "/")
	if c.WebServer.RateLimit == 0 {
		c.WebServer.RateLimit = 50
	}
	if c.WebServer.RateBurst == 0 {
		c.WebServer.RateBurst = 20
	}
	if c.WebServer.PageSize == 0 {
		c.WebServer.PageSize = 100
	}
	if c.WebServer.MediaRoot == "" {
		c.WebServer.MediaRoot = "./media"
	}
	if c.WebServer.MaxPreview == 0 {
		c.WebServer.MaxPreview = 64
	}

	if c.Database.Path == "" {
		c.Database.Path = "./gallery.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeLogFormat(c.Logging.Format)
}

// normalizeBreakpoints orders breakpoints by ascending minimum width
func normalizeBreakpoints(bps []Breakpoint) []Breakpoint {
	out := append([]Breakpoint(nil), bps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinWidth < out[j].MinWidth })
	return out
}

// normalizeLogFormat maps user-friendly format names to text or json
func normalizeLogFormat(format string) string {
	formatMap := map[string]string{
		"":        "text",
		"text":    "text",
		"Text":    "text",
		"console": "text",
		"json":    "json",
		"JSON":    "json",
	}

	if normalized, ok := formatMap[format]; ok {
		return normalized
	}
	return format
}
