package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/guard"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
	"github.com/vaquinet/basestation/transport"
	"github.com/vaquinet/basestation/transport/mqtt"
	"github.com/vaquinet/basestation/transport/serial"
)

func TestNewTestContext(t *testing.T) {
	t.Parallel()

	ctx, g, mock, mockHTTP := NewTestContext(t, "test", `nodes = ["4C:11:AE:70:47:AC"]`)
	assert.Equal(t, g, GetGlobal(ctx))
	require.NotNil(t, g.Gateway)
	id := node.MustParseId("4C:11:AE:70:47:AC")
	assert.Equal(t, []node.Id{id}, g.Gateway.Registry().Ids())

	now := time.Now()
	g.Gateway.Tick(ctx, now)
	assert.Equal(t, id, <-mock.Triggers)
	mock.Report(id, []byte(`{"value":42,"deviceId":"4C11AE7047AC"}`))
	g.Gateway.Tick(ctx, now.Add(100*time.Millisecond))

	reqs := mockHTTP.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "http://collector.test/esp/data", reqs[0].URL)
	assert.Equal(t, `[{"value":42,"deviceId":"4C11AE7047AC"}]`, string(reqs[0].Body))
	assert.Equal(t, "basestation/test", reqs[0].Header.Get("User-Agent"))
	assert.Equal(t, int64(len(reqs[0].Body)), g.BytesOut.Value())
	assert.Equal(t, uint64(1), g.Gateway.Stat().BatchesDelivered.Load())
	require.NoError(t, g.Gateway.Close())
}

func TestGetGlobalPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { GetGlobal(context.Background()) })
	ctx := context.WithValue(context.Background(), ContextKey, "junk")
	assert.Panics(t, func() { GetGlobal(ctx) })
}

func TestInitErrors(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	cfg := &config.Config{}
	cfg.Relay.URL = "http://collector.test/"
	cfg.Relay.TlsCaFile = "/nonexistent/ca.pem"
	cfg.Guard.Prober = config.ProberRuntime
	cfg.Transport.Kind = config.TransportNoop
	ctx, g := NewContext(log)
	err := g.Init(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay")
	assert.Contains(t, err.Error(), "guard")
	assert.Nil(t, g.Gateway)
}

func TestNewTransport(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		kind   string
		device string
		check  func(t testing.TB, tr transport.Transporter)
		expect string
	}{
		{"default", "", "", func(t testing.TB, tr transport.Transporter) { assert.IsType(t, &mqtt.Transport{}, tr) }, ""},
		{"mqtt", config.TransportMqtt, "", func(t testing.TB, tr transport.Transporter) {
			pl, ok := tr.(transport.PeerLimiter)
			require.True(t, ok)
			assert.Equal(t, 14, pl.PeerLimit())
		}, ""},
		{"serial", config.TransportSerial, "/dev/ttyUSB0", func(t testing.TB, tr transport.Transporter) { assert.IsType(t, &serial.Transport{}, tr) }, ""},
		{"noop", config.TransportNoop, "", func(t testing.TB, tr transport.Transporter) { assert.Equal(t, transport.Noop{}, tr) }, ""},
		{"invalid", "lora", "", nil, "transport.kind=lora not valid"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			cfg.Transport.Kind = c.kind
			cfg.Transport.Serial.Device = c.device
			cfg.Transport.Mqtt.PeerLimit = 14
			tr, err := NewTransport(cfg)
			if c.expect != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expect)
				return
			}
			require.NoError(t, err)
			c.check(t, tr)
		})
	}
}

func TestNewProber(t *testing.T) {
	t.Parallel()

	p, err := NewProber(&config.GuardConfig{})
	require.NoError(t, err)
	assert.IsType(t, guard.SysinfoProber{}, p)

	p, err = NewProber(&config.GuardConfig{Prober: config.ProberRuntime, HeapLimitMb: 64})
	require.NoError(t, err)
	assert.Equal(t, guard.RuntimeProber{Limit: 64 << 20}, p)

	_, err = NewProber(&config.GuardConfig{Prober: config.ProberRuntime})
	assert.Error(t, err)
	_, err = NewProber(&config.GuardConfig{Prober: "psi"})
	assert.Error(t, err)
}
