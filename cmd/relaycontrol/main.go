package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/rsmithsa/venus-acout2-relay-control/internal/adapter/actor"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/config"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/actor"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/metrics"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/server"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/util/actorutil"
	"github.com/rsmithsa/venus-acout2-relay-control/pkg/venus_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	slog.Info("venus-acout2-relay-control", "version", versioninfo.Short())

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// init Modbus actor provider, only needed for the modbus monitor
	var modbusProv actor.ModbusActorProvider
	if cfg.MonitorConfig.Source == config.MonitorSourceModbus {
		modbusProv, err = modbusActorProvider(cfg, logger)
		if err != nil {
			panic(err)
		}
	}

	promMetrics := metrics.NewMetrics()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterControlActor(*cfg, mqttActorProvider(cfg, logger), modbusProv, promMetrics, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, promMetrics)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	// stopping the master forces the relay open before the system goes down
	ctx.StopFuture(pid).Wait()
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => ACOUT2_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("ACOUT2_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("acout2")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check monitor source
	switch cfg.MonitorConfig.Source {
	case config.MonitorSourceMQTT, config.MonitorSourceModbus:
	default:
		return nil, errors.New("config param monitor.source should be mqtt or modbus")
	}

	if cfg.MonitorConfig.Source == config.MonitorSourceMQTT && cfg.MQTT.PortalId == "" {
		return nil, errors.New("config param mqtt.portal_id is required for the mqtt monitor")
	}

	// check bounds
	if cfg.OverrideConfig.DCPowerPeriodCount < 1 {
		return nil, errors.New("config param override.dc_power_period_count should be >= 1")
	}
	if cfg.OverrideConfig.SOCHysteresis < 0 {
		return nil, errors.New("config param override.soc_hysteresis should be >= 0")
	}
	if cfg.OverrideConfig.DCPowerHysteresis < 0 {
		return nil, errors.New("config param override.dc_power_hysteresis should be >= 0")
	}
	if cfg.Modbus.PollIntervalMillis < 500 {
		return nil, errors.New("config param modbus.poll_interval_millis should be >= 500")
	}

	return &cfg, nil
}

func modbusActorProvider(cfg *config.Config, logger *zap.Logger) (actor.ModbusActorProvider, error) {

	reader, err := venus_modbus.CreateVenusSystemModbusReader(cfg.Modbus.Host,
		cfg.Modbus.Port, uint8(cfg.Modbus.UnitId), 1*time.Second)

	if err != nil {
		return nil, err
	}

	return func() *adactor.VenusModbusActor {
		return adactor.NewVenusModbusActor(cfg, reader, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func() *adactor.VenusMQTTActor {
		return adactor.NewVenusMQTTActor(cfg, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "acout2")
	viper.SetDefault("mqtt.keepalive_interval_secs", 30)
	viper.SetDefault("monitor.source", "mqtt")
	viper.SetDefault("modbus.port", 502)
	viper.SetDefault("modbus.unit_id", 100)
	viper.SetDefault("modbus.poll_interval_millis", 1000)
	viper.SetDefault("override.max_dc_power", -250)
	viper.SetDefault("override.max_dc_power_soc", 50)
	viper.SetDefault("override.dc_power_period_count", 180)
	viper.SetDefault("override.min_soc", 60)
	viper.SetDefault("override.soc_hysteresis", 3)
	viper.SetDefault("override.dc_power_hysteresis", 1000)
	viper.SetDefault("override.inverting_source_code", 240)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
