package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

const (
	MonitorSourceMQTT   = "mqtt"
	MonitorSourceModbus = "modbus"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig   `mapstructure:"mqtt"`
	Modbus   ModbusConfig `mapstructure:"modbus"`

	MonitorConfig  MonitorConfig  `mapstructure:"monitor"`
	OverrideConfig OverrideConfig `mapstructure:"override"`
	Port           uint           `mapstructure:"port"`
	HttpLog        bool           `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host                  string
	Port                  int
	Username              string
	Password              string
	PortalId              string `mapstructure:"portal_id"`
	BaseTopic             string `mapstructure:"base_topic"`
	KeepaliveIntervalSecs uint32 `mapstructure:"keepalive_interval_secs"`
}

type ModbusConfig struct {
	Host               string
	Port               uint
	UnitId             uint   `mapstructure:"unit_id"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type MonitorConfig struct {
	Source string `mapstructure:"source"`
}

// OverrideConfig holds the relay decision thresholds. Defaults match the
// original Venus AC-Out2 deployment: the relay may close while discharging
// beyond 250 W with SOC above 50 %, or whenever SOC stays above 60 %.
type OverrideConfig struct {
	MaxDCPower          float64 `mapstructure:"max_dc_power"`
	MaxDCPowerSOC       float64 `mapstructure:"max_dc_power_soc"`
	DCPowerPeriodCount  int     `mapstructure:"dc_power_period_count"`
	MinSOC              float64 `mapstructure:"min_soc"`
	SOCHysteresis       float64 `mapstructure:"soc_hysteresis"`
	DCPowerHysteresis   float64 `mapstructure:"dc_power_hysteresis"`
	InvertingSourceCode int     `mapstructure:"inverting_source_code"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
