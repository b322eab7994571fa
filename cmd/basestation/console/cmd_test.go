package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/internal/state"
)

func TestExecutor(t *testing.T) {
	t.Parallel()

	ctx, g, mock, mockHTTP := state.NewTestContext(t, "test", `nodes = ["4C:11:AE:70:47:AC"]`)
	exec := NewExecutor(ctx)
	a := node.MustParseId("4C:11:AE:70:47:AC")
	c := node.MustParseId("08:A6:F7:0C:04:1C")

	exec("help")
	exec("bogus")
	exec("add 08-a6-f7-0c-04-1c")
	exec("add nonsense")
	exec("nodes")
	assert.Equal(t, []node.Id{a, c}, g.Gateway.Registry().Ids())

	exec("trigger 08A6F70C041C")
	assert.Equal(t, c, <-mock.Triggers)
	assert.Equal(t, uint64(1), g.Gateway.Stat().TriggersSent.Load())

	exec(`report 08A6F70C041C {"value":5,"deviceId":"08A6F70C041C"}`)
	exec(`report 08A6F70C041C {"value":"x"}`)
	assert.Equal(t, uint64(1), g.Gateway.Stat().Reports.Load())
	assert.Equal(t, uint64(1), g.Gateway.Stat().DecodeErrors.Load())

	exec(`decode {"value":1,"deviceId":"X"}`)
	assert.Equal(t, uint64(1), g.Gateway.Stat().Reports.Load(), "decode never queues")

	exec("tick 0")
	exec("tick")
	assert.Equal(t, a, <-mock.Triggers)
	reqs := mockHTTP.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, `[{"value":5,"deviceId":"08A6F70C041C"}]`, string(reqs[0].Body))

	exec("remove 4C11AE7047AC")
	assert.Equal(t, []node.Id{c}, g.Gateway.Registry().Ids())
	exec("stat")
	require.NoError(t, g.Gateway.Close())
}
