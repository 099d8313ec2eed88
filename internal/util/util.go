package util

import (
	"github.com/rsmithsa/venus-acout2-relay-control/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:                  "localhost",
			Port:                  1883,
			PortalId:              "0a1b2c3d4e5f",
			BaseTopic:             "acout2",
			KeepaliveIntervalSecs: 30,
		},
		Modbus: config.ModbusConfig{
			Host:               "-.-.-.-",
			Port:               502,
			UnitId:             100,
			PollIntervalMillis: 1000,
		},
		MonitorConfig: config.MonitorConfig{
			Source: config.MonitorSourceMQTT,
		},
		OverrideConfig: config.OverrideConfig{
			MaxDCPower:          -250,
			MaxDCPowerSOC:       50,
			DCPowerPeriodCount:  180,
			MinSOC:              60,
			SOCHysteresis:       3,
			DCPowerHysteresis:   1000,
			InvertingSourceCode: 240,
		},
		Port: 8080,
	}
}
