package config

import (
	"encoding/json"
	"math"
	"os"
	"sync"
	"time"

	"linecount/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type SourceType string

const (
	SourceLocal  SourceType = "Local"
	SourceWebcam SourceType = "Web-Camera"
	SourceStream SourceType = "Stream"

	DefaultConfigPath  string = "config.json"
	DefaultDetectorURL string = "ws://localhost:8080/ws"
)

var SourcesList = [...]string{
	string(SourceLocal),
	string(SourceWebcam),
	string(SourceStream),
}

var ErrInvalidConfig = errors.New("invalid config")

type LocalConfig struct {
	Path string `json:"path"`
}

type WebcamConfig struct {
	DeviceID string `json:"device_id"`
}

type StreamConfig struct {
	URL string `json:"url"`
}

type DetectorConfig struct {
	URL       string   `json:"url"`
	Classes   []string `json:"classes"`
	TimeoutMs int      `json:"timeout_ms"`
}

type LineConfig struct {
	Points []models.Point `json:"points"`
	// InvertDirection swaps which side change counts as an entry.
	InvertDirection bool `json:"invert_direction"`
	Bounded         bool `json:"bounded"`
}

type CountingConfig struct {
	EvictAfterFrames int      `json:"evict_after_frames"`
	EntryClasses     []string `json:"entry_classes"`
	TrailLength      int      `json:"trail_length"`
}

type DisplayConfig struct {
	TickMs      int `json:"tick_ms"`
	ThumbWidth  int `json:"thumb_width"`
	ThumbHeight int `json:"thumb_height"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type Config struct {
	mu sync.RWMutex
	// path is where the config was loaded from and where SaveByDefault writes.
	path string

	ActiveSource SourceType `json:"active_source"`
	TargetFPS    uint       `json:"target_fps"`
	ScaledWidth  int        `json:"scaled_width"`
	ScaledHeight int        `json:"scaled_height"`
	LogLevel     string     `json:"log_level"`

	Local  LocalConfig  `json:"local"`
	Webcam WebcamConfig `json:"webcam"`
	Stream StreamConfig `json:"stream"`

	Detector DetectorConfig `json:"detector"`
	Line     LineConfig     `json:"line"`
	Counting CountingConfig `json:"counting"`
	Display  DisplayConfig  `json:"display"`
	Store    StoreConfig    `json:"store"`
	HTTP     HTTPConfig     `json:"http"`
}

func (c *Config) GetFPS() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TargetFPS
}

func (c *Config) SetFPS(fps uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TargetFPS = fps
}

func (c *Config) GetWidth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ScaledWidth
}

func (c *Config) SetWidth(width int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScaledWidth = width
}

func (c *Config) GetHeight() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ScaledHeight
}

func (c *Config) SetHeight(height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScaledHeight = height
}

func (c *Config) GetSource() SourceType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ActiveSource
}

func (c *Config) SetSource(s SourceType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ActiveSource = s
}

// TickPeriod is the consuming stage's polling period.
func (c *Config) TickPeriod() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Display.TickMs) * time.Millisecond
}

func (c *Config) SetTickMs(ms int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Display.TickMs = ms
}

func (c *Config) DetectorTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Detector.TimeoutMs) * time.Millisecond
}

// LinePoints returns a copy of the crossing line.
func (c *Config) LinePoints() []models.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Point(nil), c.Line.Points...)
}

// Validate checks the settings the counting core depends on.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.Line.Points) < 2 {
		return errors.Wrapf(ErrInvalidConfig, "line needs at least 2 points, got %d", len(c.Line.Points))
	}
	for i, p := range c.Line.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return errors.Wrapf(ErrInvalidConfig, "line point %d is not finite", i)
		}
	}
	if c.Display.TickMs <= 0 {
		return errors.Wrap(ErrInvalidConfig, "display.tick_ms must be positive")
	}
	if c.Counting.EvictAfterFrames <= 0 {
		return errors.Wrap(ErrInvalidConfig, "counting.evict_after_frames must be positive")
	}
	if c.ScaledWidth <= 0 || c.ScaledHeight <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "bad frame size %dx%d", c.ScaledWidth, c.ScaledHeight)
	}

	return nil
}

func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}

	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	return errors.Wrap(enc.Encode(c), "encode config")
}

func (c *Config) SaveByDefault() {
	path := c.path
	if path == "" {
		path = DefaultConfigPath
	}

	if err := c.Save(path); err != nil {
		logrus.WithError(err).Warn("config not saved")
	}
}

// LoadConfigFile reads path over the defaults. A missing or broken file
// leaves the defaults in place.
func LoadConfigFile(path string) *Config {
	var cfg *Config = NewDefaultConfig()
	cfg.path = path

	if _, err := os.Stat(path); err == nil {
		f, err := os.Open(path)

		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("config unreadable, using defaults")
			return cfg
		}
		defer f.Close()

		dec := json.NewDecoder(f)
		err = dec.Decode(cfg)

		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("config malformed, using defaults")
			cfg = NewDefaultConfig()
			cfg.path = path
			return cfg
		}
	}

	return cfg
}

func NewDefaultConfig() *Config {
	return &Config{
		ActiveSource: SourceStream,
		Local:        LocalConfig{Path: "..."},
		Webcam:       WebcamConfig{DeviceID: "0"},
		Stream:       StreamConfig{URL: "rtsp://127.0.0.1:554"},
		TargetFPS:    24,
		ScaledWidth:  1280,
		ScaledHeight: 720,
		LogLevel:     "info",
		Detector: DetectorConfig{
			URL:       DefaultDetectorURL,
			Classes:   []string{"person", "car"},
			TimeoutMs: 2000,
		},
		Line: LineConfig{
			Points: []models.Point{{X: 260, Y: 300}, {X: 1100, Y: 250}},
		},
		Counting: CountingConfig{
			EvictAfterFrames: 30,
			EntryClasses:     []string{"car"},
			TrailLength:      30,
		},
		Display: DisplayConfig{
			TickMs:      30,
			ThumbWidth:  1000,
			ThumbHeight: 800,
		},
		Store: StoreConfig{Path: "counts.db"},
		HTTP:  HTTPConfig{Addr: ":8090"},
	}
}

// SetupLogging applies log_level to the standard logrus logger.
func (c *Config) SetupLogging() {
	c.mu.RLock()
	level := c.LogLevel
	c.mu.RUnlock()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("log_level", level).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
