// Package config loads runtime parameters from PMS_* environment variables.
// Every parameter has a default matching the library defaults, so the
// binary runs unconfigured. No configuration file is read.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rubiojr/go-pms5003-onoff/cycle"
	"github.com/rubiojr/go-pms5003-onoff/pms5003"
)

// EnvPrefix is prepended to every variable, e.g. PMS_SERIAL_DEVICE.
const EnvPrefix = "PMS"

type SerialConfig struct {
	Device          string        `mapstructure:"device"`
	Baud            uint          `mapstructure:"baud"`
	Driver          string        `mapstructure:"driver"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ReopenOnTimeout bool          `mapstructure:"reopen_on_timeout"`
}

type SensorConfig struct {
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	ReadInterval   time.Duration `mapstructure:"read_interval"`
	VerifyChecksum bool          `mapstructure:"verify_checksum"`
	EnablePin      string        `mapstructure:"enable_pin"`
	ResetPin       string        `mapstructure:"reset_pin"`
}

type CycleConfig struct {
	Readings      int           `mapstructure:"readings"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	FaultCooldown time.Duration `mapstructure:"fault_cooldown"`
	Cycles        int           `mapstructure:"cycles"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig enables the HTTP status endpoint when Addr is set.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Sensor  SensorConfig  `mapstructure:"sensor"`
	Cycle   CycleConfig   `mapstructure:"cycle"`
	Logging LoggingConfig `mapstructure:"logging"`
	Status  StatusConfig  `mapstructure:"status"`
}

// Load reads the environment on top of the defaults and validates the result.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	dev := pms5003.DefaultOpts
	v.SetDefault("serial.device", dev.SerialPort)
	v.SetDefault("serial.baud", dev.BaudRate)
	v.SetDefault("serial.driver", dev.Driver)
	v.SetDefault("serial.read_timeout", dev.ReadTimeout)
	v.SetDefault("serial.reopen_on_timeout", dev.ReopenOnTimeout)

	v.SetDefault("sensor.settle_delay", dev.SettleDelay)
	v.SetDefault("sensor.read_interval", dev.ReadInterval)
	v.SetDefault("sensor.verify_checksum", dev.VerifyChecksum)
	v.SetDefault("sensor.enable_pin", dev.EnablePin)
	v.SetDefault("sensor.reset_pin", dev.ResetPin)

	cyc := cycle.DefaultOpts
	v.SetDefault("cycle.readings", cyc.ReadingsPerCycle)
	v.SetDefault("cycle.cooldown", cyc.Cooldown)
	v.SetDefault("cycle.fault_cooldown", cyc.FaultCooldown)
	v.SetDefault("cycle.cycles", cyc.Cycles)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("status.addr", "")
}

// Validate rejects values the scheduler or the serial drivers cannot use.
func (c *Config) Validate() error {
	switch {
	case c.Serial.Device == "":
		return fmt.Errorf("serial.device must be set")
	case c.Serial.Baud == 0:
		return fmt.Errorf("serial.baud must be positive")
	case c.Serial.Driver != pms5003.DriverJacobsa && c.Serial.Driver != pms5003.DriverBugst:
		return fmt.Errorf("serial.driver must be %q or %q, got %q", pms5003.DriverJacobsa, pms5003.DriverBugst, c.Serial.Driver)
	case c.Serial.ReadTimeout <= 0:
		return fmt.Errorf("serial.read_timeout must be positive")
	case c.Sensor.SettleDelay < 0, c.Sensor.ReadInterval < 0:
		return fmt.Errorf("sensor delays must not be negative")
	case c.Cycle.Readings <= 0:
		return fmt.Errorf("cycle.readings must be positive")
	case c.Cycle.Cooldown < 0, c.Cycle.FaultCooldown < 0:
		return fmt.Errorf("cycle cooldowns must not be negative")
	case c.Cycle.Cycles < 0:
		return fmt.Errorf("cycle.cycles must not be negative")
	case c.Logging.Format != "console" && c.Logging.Format != "json":
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) DeviceOpts() pms5003.Opts {
	return pms5003.Opts{
		SerialPort:      c.Serial.Device,
		BaudRate:        c.Serial.Baud,
		Driver:          c.Serial.Driver,
		ReadTimeout:     c.Serial.ReadTimeout,
		SettleDelay:     c.Sensor.SettleDelay,
		ReadInterval:    c.Sensor.ReadInterval,
		VerifyChecksum:  c.Sensor.VerifyChecksum,
		ReopenOnTimeout: c.Serial.ReopenOnTimeout,
		EnablePin:       c.Sensor.EnablePin,
		ResetPin:        c.Sensor.ResetPin,
	}
}

func (c *Config) CycleOpts() cycle.Opts {
	return cycle.Opts{
		ReadingsPerCycle: c.Cycle.Readings,
		Cooldown:         c.Cycle.Cooldown,
		FaultCooldown:    c.Cycle.FaultCooldown,
		Cycles:           c.Cycle.Cycles,
	}
}

// MaxDataAge is how long the status endpoint tolerates no new reading: two
// full cycles of attempts plus cooldowns.
func (c *Config) MaxDataAge() time.Duration {
	attempt := c.Sensor.ReadInterval + c.Serial.ReadTimeout
	period := c.Sensor.SettleDelay + time.Duration(c.Cycle.Readings)*attempt + c.Cycle.Cooldown
	return 2 * period
}
