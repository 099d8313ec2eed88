package actor

import (
	"errors"
	"testing"
	"time"

	adactor "github.com/rsmithsa/venus-acout2-relay-control/internal/adapter/actor"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/metrics"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/util"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRelayOverrideFlow(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	cfg := util.LoadTestConfig()

	// actuator actor
	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestVenusMQTTActor(&cfg, logger)
	})
	mqttActorPID := context.Spawn(mqttProps)

	// relay override actor
	overrideProps := actor.PropsFromProducer(func() actor.Actor {
		return NewRelayOverrideActor(&cfg, mqttActorPID, &eventstream.EventStream{}, metrics.NewMetrics(), logger)
	})
	ovActorPID := context.Spawn(overrideProps)

	time.Sleep(1 * time.Second)

	// relay starts open
	hcr, err := healthCheck(context, ovActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(t, hcr.Healthy, "actor should be healthy")
	assert.Equal(t, "off", hcr.State, "relay should start open")

	// SOC above min_soc plus hysteresis closes the relay
	context.Send(ovActorPID, domain.BatterySOCUpdate{SOC: 65})
	time.Sleep(200 * time.Millisecond)

	hcr, err = healthCheck(context, ovActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, "on", hcr.State, "relay should be closed")

	// losing AC-In does not open an already closed relay
	context.Send(ovActorPID, domain.ACSourceUpdate{Source: cfg.OverrideConfig.InvertingSourceCode})
	time.Sleep(200 * time.Millisecond)

	hcr, err = healthCheck(context, ovActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, "on", hcr.State, "relay should stay closed")

	// SOC below min_soc opens the relay
	context.Send(ovActorPID, domain.BatterySOCUpdate{SOC: 55})
	time.Sleep(200 * time.Millisecond)

	hcr, err = healthCheck(context, ovActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, "off", hcr.State, "relay should be open")

	// with AC-In lost, recovering SOC may not close the relay again
	context.Send(ovActorPID, domain.BatterySOCUpdate{SOC: 70})
	time.Sleep(200 * time.Millisecond)

	hcr, err = healthCheck(context, ovActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, "off", hcr.State, "relay should stay open without AC-In")

	// AC-In back, relay closes again
	context.Send(ovActorPID, domain.ACSourceUpdate{Source: 1})
	time.Sleep(200 * time.Millisecond)

	hcr, err = healthCheck(context, ovActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, "on", hcr.State, "relay should close on grid return")
}

func healthCheck(ctx *actor.RootContext, pid *actor.PID) (*domain.ActorHealthResponse, error) {
	resp, err := ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		return nil, err
	}
	hcr, ok := resp.(domain.ActorHealthResponse)
	if !ok {
		return nil, errors.New("unexpected response type")
	}
	return &hcr, nil
}
