// Package config loads the machine description and builds the machine
// backend it selects
package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"millstep/host/mcu"
	"millstep/host/serial"
)

// Backends a configuration can select
const (
	BackendSimulated = "simulated"
	BackendStepper   = "stepper"
	BackendSerial    = "serial"
)

// GPIO drivers for the stepper backend
const (
	GPIOSysfs = "sysfs"
	GPIODummy = "dummy"
)

// EnvPrefix prefixes environment overrides, e.g. MILLSTEP_SERIAL_DEVICE
const EnvPrefix = "MILLSTEP"

// AxisConfig describes one axis: its mechanics and, for the stepper
// backend, the pins driving it
type AxisConfig struct {
	StepPin            uint32        `mapstructure:"step_pin"`
	DirPin             uint32        `mapstructure:"dir_pin"`
	InvertDir          bool          `mapstructure:"invert_dir"`
	Backlash           float64       `mapstructure:"backlash"`
	MMPerRevolution    float64       `mapstructure:"mm_per_revolution"`
	StepsPerRevolution float64       `mapstructure:"steps_per_revolution"`
	StepTime           time.Duration `mapstructure:"step_time"`
}

// StepsPerMM returns the steps covering one millimeter
func (a AxisConfig) StepsPerMM() float64 {
	return a.StepsPerRevolution / a.MMPerRevolution
}

// AxesConfig holds the three axes
type AxesConfig struct {
	X AxisConfig `mapstructure:"x"`
	Y AxisConfig `mapstructure:"y"`
	Z AxisConfig `mapstructure:"z"`
}

// All returns the axes in X, Y, Z order
func (a AxesConfig) All() [3]AxisConfig {
	return [3]AxisConfig{a.X, a.Y, a.Z}
}

// SerialConfig locates a remote controller
type SerialConfig struct {
	Device       string        `mapstructure:"device"`
	Baud         int           `mapstructure:"baud"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// GPIOConfig selects how the stepper backend reaches its pins
type GPIOConfig struct {
	Driver    string `mapstructure:"driver"`
	SysfsRoot string `mapstructure:"sysfs_root"`
}

// MachineConfig is the complete machine description
type MachineConfig struct {
	Backend           string        `mapstructure:"backend"`
	DefaultFeedRate   float64       `mapstructure:"default_feed_rate"`
	RapidMoveFeedRate float64       `mapstructure:"rapid_move_feed_rate"`
	MaxPulseWidth     time.Duration `mapstructure:"max_pulse_width"`
	NegligibleWait    time.Duration `mapstructure:"negligible_wait"`
	Axes              AxesConfig    `mapstructure:"axes"`
	Serial            SerialConfig  `mapstructure:"serial"`
	GPIO              GPIOConfig    `mapstructure:"gpio"`
}

// defaults describe a three-axis mill on 3mm lead screws driven at
// 200 full steps with 32x microstepping
var defaults = map[string]any{
	"backend":              BackendSimulated,
	"default_feed_rate":    200.0,
	"rapid_move_feed_rate": 1000.0,
	"max_pulse_width":      time.Millisecond,
	"negligible_wait":      time.Microsecond,

	"axes.x.step_pin": 37,
	"axes.x.dir_pin":  35,
	"axes.x.backlash": 0.5,
	"axes.y.step_pin": 31,
	"axes.y.dir_pin":  33,
	"axes.y.backlash": 0.25,
	"axes.z.step_pin": 38,
	"axes.z.dir_pin":  36,
	"axes.z.backlash": 0.25,

	"serial.baud":          serial.DefaultBaud,
	"serial.read_timeout":  serial.DefaultReadTimeout,
	"serial.ping_interval": mcu.DefaultPingInterval,

	"gpio.driver":     GPIOSysfs,
	"gpio.sysfs_root": "/sys/class/gpio",
}

func init() {
	for _, axis := range []string{"x", "y", "z"} {
		defaults["axes."+axis+".mm_per_revolution"] = 3.0
		defaults["axes."+axis+".steps_per_revolution"] = 200.0 * 32.0
		defaults["axes."+axis+".step_time"] = 3 * time.Microsecond
		defaults["axes."+axis+".invert_dir"] = false
	}
	defaults["serial.device"] = ""
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration, environment overrides applied
func Default() (*MachineConfig, error) {
	return decode(newViper())
}

// Load reads the configuration file at path. The format follows the file
// extension (json, yaml, toml). A missing file is an error.
func Load(path string) (*MachineConfig, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return decode(v)
}

// LoadConfig parses configuration data in the given format
func LoadConfig(data []byte, format string) (*MachineConfig, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*MachineConfig, error) {
	var cfg MachineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the backends cannot work with
func (c *MachineConfig) Validate() error {
	switch c.Backend {
	case BackendSimulated, BackendStepper, BackendSerial:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.DefaultFeedRate <= 0 || c.RapidMoveFeedRate <= 0 {
		return errors.New("feed rates must be positive")
	}
	for i, axis := range c.Axes.All() {
		name := string("XYZ"[i])
		if axis.MMPerRevolution <= 0 || axis.StepsPerRevolution <= 0 {
			return fmt.Errorf("axis %s: mm_per_revolution and steps_per_revolution must be positive", name)
		}
		if axis.Backlash < 0 {
			return fmt.Errorf("axis %s: backlash must not be negative", name)
		}
		if c.Backend == BackendStepper && c.GPIO.Driver == GPIOSysfs && axis.StepPin == axis.DirPin {
			return fmt.Errorf("axis %s: step and dir pins must differ", name)
		}
	}
	switch c.Backend {
	case BackendStepper:
		if c.GPIO.Driver != GPIOSysfs && c.GPIO.Driver != GPIODummy {
			return fmt.Errorf("unknown gpio driver %q", c.GPIO.Driver)
		}
	case BackendSerial:
		if c.Serial.Device == "" {
			return errors.New("serial backend needs serial.device")
		}
	}
	return nil
}
