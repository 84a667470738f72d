package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/abihf/camrec/protocol"
)

const DefaultPath = "/etc/camrec/config.json"

type Config struct {
	Device      string  `json:"device"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Framerate   float64 `json:"framerate"`
	PixelFormat string  `json:"pixel_format"`

	// SkipDarkFrames drops badly exposed frames at the source.
	SkipDarkFrames bool `json:"skip_dark_frames"`

	// SettingsFile holds named camera settings, Setting picks one. Zoom,
	// Pan, Tilt and Controls override values from the setting.
	SettingsFile string           `json:"settings_file"`
	Setting      string           `json:"setting"`
	Controls     map[string]int32 `json:"controls"`
	Zoom         *int32           `json:"zoom"`
	Pan          *int32           `json:"pan"`
	Tilt         *int32           `json:"tilt"`

	// CaptureCore pins the capture loop to a CPU core, -1 disables pinning.
	CaptureCore int `json:"capture_core"`

	WriterThreads   int    `json:"writer_threads"`
	WriterQueueSize int    `json:"writer_queue_size"`
	OutputDir       string `json:"output_dir"`
	PathTemplate    string `json:"path_template"`

	// SingleShotTimeout is in seconds.
	SingleShotTimeout int `json:"single_shot_timeout"`

	Socket      string `json:"socket"`
	PidFile     string `json:"pid_file"`
	MetricsAddr string `json:"metrics_addr"`
	LogLevel    string `json:"log_level"`
}

// Load reads the config file named by CAMREC_CONFIG, or DefaultPath, and
// fills in defaults. It panics when no device is configured.
func Load() *Config {
	return LoadFile(filePath())
}

func filePath() string {
	if path := os.Getenv("CAMREC_CONFIG"); path != "" {
		return path
	}
	return DefaultPath
}

// SocketPath returns the daemon socket without requiring a complete config:
// CAMREC_SOCKET, then the socket of the config file, then the default.
func SocketPath() string {
	if os.Getenv("CAMREC_SOCKET") == "" {
		if conf, err := loadFromFile(filePath()); err == nil && conf.Socket != "" {
			return conf.Socket
		}
	}
	return protocol.GetSockAddress()
}

func LoadFile(path string) *Config {
	conf, err := loadFromFile(path)
	if err != nil {
		slog.Warn("Failed to load config file", "path", path, "error", err)
	}
	if conf == nil {
		conf = &Config{CaptureCore: -1}
	}
	if conf.Device == "" {
		panic("Device not set")
	}
	conf.applyDefaults()
	return conf
}

func (c *Config) applyDefaults() {
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.Framerate == 0 {
		c.Framerate = 20
	}
	if c.PixelFormat == "" {
		c.PixelFormat = "MJPG"
	}
	if c.WriterThreads == 0 {
		c.WriterThreads = 2
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.PathTemplate == "" {
		c.PathTemplate = "picture-{}.png"
	}
	if !filepath.IsAbs(c.PathTemplate) {
		c.PathTemplate = filepath.Join(c.OutputDir, c.PathTemplate)
	}
	if c.SingleShotTimeout == 0 {
		c.SingleShotTimeout = 5
	}
	if c.Socket == "" || os.Getenv("CAMREC_SOCKET") != "" {
		c.Socket = protocol.GetSockAddress()
	}
	if c.Setting == "" {
		c.Setting = "standard"
	}
	if c.PidFile == "" {
		c.PidFile = "/var/run/camrec.pid"
	}
}

func (c *Config) SingleShotTimeoutDuration() time.Duration {
	return time.Duration(c.SingleShotTimeout) * time.Second
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func loadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := &Config{CaptureCore: -1}
	err = json.NewDecoder(file).Decode(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
