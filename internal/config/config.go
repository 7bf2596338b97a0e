package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceConfig describes the host-side device.
type DeviceConfig struct {
	Name           string `yaml:"name"`             // device name shown on every property
	Simulate       bool   `yaml:"simulate"`         // use the in-memory simulation camera
	PollIntervalMs int    `yaml:"poll_interval_ms"` // exposure polling cadence (ms)
}

// CameraConfig describes how to reach the camera through gphoto2.
type CameraConfig struct {
	Gphoto2Path      string `yaml:"gphoto2_path"`       // gphoto2 binary, default "gphoto2"
	Port             string `yaml:"port"`               // gphoto2 --port value; "serial" means the port is chosen at runtime
	DownloadDir      string `yaml:"download_dir"`       // where gphoto2 drops captured files
	TransferTimeoutS int    `yaml:"transfer_timeout_s"` // bound on the image download wait
	MirrorLockS      int    `yaml:"mirror_lock_s"`      // initial mirror-lock delay (0-10 s)
	BulbThresholdS   int    `yaml:"bulb_threshold_s"`   // exposures >= this use bulb mode
}

// RemoteReleaseConfig describes an optional GPIO remote release cable.
// GND is physically connected to the Raspberry Pi ground.
type RemoteReleaseConfig struct {
	Enabled    bool `yaml:"enabled"`
	FocusPin   int  `yaml:"focus_pin"`   // GPIO pin for FOCUS line
	ShutterPin int  `yaml:"shutter_pin"` // GPIO pin for SHUTTER line
	PressMs    int  `yaml:"press_ms"`    // mirror-up press duration (ms)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// ChipConfig holds the default frame geometry of the primary chip.
type ChipConfig struct {
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	BPP         int     `yaml:"bpp"`
	PixelSizeUm float64 `yaml:"pixel_size_um"`
}

// OutputConfig controls where finished frames and property values go.
type OutputConfig struct {
	Dir            string `yaml:"dir"`             // FITS output directory
	PropertiesFile string `yaml:"properties_file"` // persisted property values
	Upload         bool   `yaml:"upload"`          // upload FITS to MinIO (credentials from env)
}

// MQTTConfig enables event publishing. Broker credentials come from the environment.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseTopic string `yaml:"base_topic"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	WebPort    int `yaml:"web_port"`    // 0 = web server disabled
}

// Config aggregates all application configuration.
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	Camera        CameraConfig        `yaml:"camera"`
	RemoteRelease RemoteReleaseConfig `yaml:"remote_release"`
	Chip          ChipConfig          `yaml:"chip"`
	Output        OutputConfig        `yaml:"output"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Defaults      DefaultsConfig      `yaml:"defaults"`
}

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Load reads a YAML file and returns the configuration. Unknown fields are ignored.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfigPath rejects paths that escape the working directory or are not .yaml files.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path must end in .yaml, got %q", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path must not contain '..': %q", path)
		}
	}
	return nil
}

func (cfg *Config) normalize() error {
	if cfg.Device.Name == "" {
		cfg.Device.Name = "GPhoto CCD"
	}
	if cfg.Device.PollIntervalMs <= 0 {
		cfg.Device.PollIntervalMs = 500
	}

	if cfg.Camera.Gphoto2Path == "" {
		cfg.Camera.Gphoto2Path = "gphoto2"
	}
	if cfg.Camera.DownloadDir == "" {
		cfg.Camera.DownloadDir = os.TempDir()
	}
	if cfg.Camera.TransferTimeoutS <= 0 {
		cfg.Camera.TransferTimeoutS = 30
	}
	if cfg.Camera.MirrorLockS < 0 || cfg.Camera.MirrorLockS > 10 {
		return fmt.Errorf("camera.mirror_lock_s must be between 0 and 10, got %d", cfg.Camera.MirrorLockS)
	}
	if cfg.Camera.BulbThresholdS <= 0 {
		cfg.Camera.BulbThresholdS = 30
	}

	if cfg.RemoteRelease.Enabled {
		if cfg.RemoteRelease.FocusPin <= 0 || cfg.RemoteRelease.ShutterPin <= 0 {
			return fmt.Errorf("remote_release pins must be > 0 when enabled")
		}
		if cfg.RemoteRelease.FocusPin == cfg.RemoteRelease.ShutterPin {
			return fmt.Errorf("remote_release focus_pin and shutter_pin must differ")
		}
	}
	if cfg.RemoteRelease.PressMs <= 0 {
		cfg.RemoteRelease.PressMs = 200 // 200ms mirror-up press
	}

	if cfg.Chip.Width <= 0 {
		cfg.Chip.Width = 1280
	}
	if cfg.Chip.Height <= 0 {
		cfg.Chip.Height = 1024
	}
	if cfg.Chip.BPP == 0 {
		cfg.Chip.BPP = 8
	}
	if cfg.Chip.BPP != 8 && cfg.Chip.BPP != 16 {
		return fmt.Errorf("chip.bpp must be 8 or 16, got %d", cfg.Chip.BPP)
	}
	if cfg.Chip.PixelSizeUm <= 0 {
		cfg.Chip.PixelSizeUm = 5.4
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "captures"
	}
	if cfg.MQTT.BaseTopic == "" {
		cfg.MQTT.BaseTopic = "gphotoccd"
	}
	cfg.MQTT.BaseTopic = strings.TrimSuffix(cfg.MQTT.BaseTopic, "/")

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	if cfg.Defaults.WebPort < 0 || cfg.Defaults.WebPort > 65535 {
		return fmt.Errorf("web_port must be 0-65535, got %d", cfg.Defaults.WebPort)
	}
	return nil
}

// ApplyEnv overrides selected values from GPHOTOCCD_* environment variables
// (typically loaded from a .env file first).
func (cfg *Config) ApplyEnv() error {
	if v := os.Getenv("GPHOTOCCD_SIMULATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GPHOTOCCD_SIMULATE: %w", err)
		}
		cfg.Device.Simulate = b
	}
	if v := os.Getenv("GPHOTOCCD_DEBUG_LEVEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GPHOTOCCD_DEBUG_LEVEL: %w", err)
		}
		cfg.Defaults.DebugLevel = n
	}
	if v := os.Getenv("GPHOTOCCD_PORT"); v != "" {
		cfg.Camera.Port = v
	}
	if v := os.Getenv("GPHOTOCCD_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	return cfg.normalize()
}

// PollInterval returns the exposure polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Device.PollIntervalMs) * time.Millisecond
}

// TransferTimeout returns the bound on the image download wait.
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Camera.TransferTimeoutS) * time.Second
}

// MirrorLock returns the initial mirror-lock delay.
func (c *Config) MirrorLock() time.Duration {
	return time.Duration(c.Camera.MirrorLockS) * time.Second
}

// BulbThreshold returns the exposure length from which bulb mode is used.
func (c *Config) BulbThreshold() time.Duration {
	return time.Duration(c.Camera.BulbThresholdS) * time.Second
}

// PressDuration returns the remote release mirror-up press duration.
func (c *Config) PressDuration() time.Duration {
	return time.Duration(c.RemoteRelease.PressMs) * time.Millisecond
}
