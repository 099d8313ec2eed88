package actor

import (
	"testing"
	"time"

	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/util"
	"github.com/rsmithsa/venus-acout2-relay-control/internal/util/actorutil"
	"github.com/rsmithsa/venus-acout2-relay-control/pkg/venus_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestVenusModbusActorRelayWrite(t *testing.T) {

	assert := assert.New(t)

	reader := venus_modbus.CreateTestSystemReader()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	cfg := util.LoadTestConfig()
	// keep the poll timer out of the way, this test only exercises writes
	cfg.Modbus.PollIntervalMillis = 60000

	props := actor.PropsFromProducer(func() actor.Actor { return NewVenusModbusActor(&cfg, reader, logger) })
	pid := context.Spawn(props)

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.SetRelayStateRequest{Closed: true}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.SetRelayStateResponse)
	assert.True(ok)
	assert.False(resp.HasResponseError())
	assert.True(resp.Closed, "relay should be closed")

	closed, err := reader.GetRelayState()
	assert.NoError(err)
	assert.True(closed, "relay register should be 1")

	result, err = context.RequestFuture(pid, domain.SetRelayStateRequest{Closed: false}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok = result.(domain.SetRelayStateResponse)
	assert.True(ok)
	assert.False(resp.Closed, "relay should be open")

	closed, err = reader.GetRelayState()
	assert.NoError(err)
	assert.False(closed, "relay register should be 0")

	context.Stop(pid)

	as.Shutdown()
}
