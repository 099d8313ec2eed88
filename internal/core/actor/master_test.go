package actor

import (
	"fmt"
	"testing"
	"time"

	adactor "github.com/rsmithsa/venus-acout2-relay-control/internal/adapter/actor"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/config"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/metrics"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/util"
	"github.com/rsmithsa/venus-acout2-relay-control/pkg/venus_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	pid, err := context.SpawnNamed(masterProps(cfg, logger), "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.NotNil(t, healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	context.Stop(pid)

	as.Shutdown()
}

func TestMasterActorStatusFlow(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	pid, err := context.SpawnNamed(masterProps(cfg, logger), "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(1 * time.Second)

	// SOC above min_soc plus hysteresis closes the relay
	context.Send(pid, domain.BatterySOCUpdate{SOC: 65})
	time.Sleep(500 * time.Millisecond)

	status := requestStatus(t, context, pid)
	assert.Equal(t, "on", status.RelayState, "relay should be closed")
	assert.Equal(t, 65.0, status.BatterySOC)
	assert.False(t, status.Loadshedding)

	// losing AC-In keeps the relay closed while SOC holds, but flags loadshedding
	context.Send(pid, domain.ACSourceUpdate{Source: cfg.OverrideConfig.InvertingSourceCode})
	time.Sleep(500 * time.Millisecond)

	status = requestStatus(t, context, pid)
	assert.Equal(t, "on", status.RelayState)
	assert.True(t, status.Loadshedding)
	assert.Equal(t, cfg.OverrideConfig.InvertingSourceCode, status.ACSource)

	// SOC below min_soc opens the relay again
	context.Send(pid, domain.BatterySOCUpdate{SOC: 55})
	time.Sleep(500 * time.Millisecond)

	status = requestStatus(t, context, pid)
	assert.Equal(t, "off", status.RelayState, "relay should be open")

	context.Stop(pid)

	as.Shutdown()
}

func TestMasterActorModbusMonitor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.Source = config.MonitorSourceModbus
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	reader := venus_modbus.CreateTestSystemReader()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterControlActor(cfg, func() *adactor.VenusMQTTActor {
			return adactor.NewTestVenusMQTTActor(&cfg, logger)
		}, func() *adactor.VenusModbusActor {
			return adactor.NewVenusModbusActor(&cfg, reader, logger)
		}, metrics.NewMetrics(), logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	// reader defaults: SOC 65, discharging 400 W, grid present
	time.Sleep(3 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")

	status := requestStatus(t, context, pid)
	assert.Equal(t, "on", status.RelayState, "relay should be closed")

	closed, err := reader.GetRelayState()
	assert.NoError(t, err)
	assert.True(t, closed, "relay register should be written")

	context.Stop(pid)

	as.Shutdown()
}

func masterProps(cfg config.Config, logger *zap.Logger) *actor.Props {
	return actor.PropsFromProducer(func() actor.Actor {
		return NewMasterControlActor(cfg, func() *adactor.VenusMQTTActor {
			return adactor.NewTestVenusMQTTActor(&cfg, logger)
		}, func() *adactor.VenusModbusActor {
			return adactor.NewVenusModbusActor(&cfg, venus_modbus.CreateTestSystemReader(), logger)
		}, metrics.NewMetrics(), logger)
	})
}

func requestStatus(t *testing.T, ctx *actor.RootContext, pid *actor.PID) domain.GetStatusResponse {
	res, err := ctx.RequestFuture(pid, domain.GetStatusRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	status, ok := res.(domain.GetStatusResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", res)
	}
	return status
}
