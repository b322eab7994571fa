package config

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
)

const minimal = "relay { url = \"https://collector.local/esp/data\" }\n"

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"defaults", minimal, func(t testing.TB, c *Config) {
			assert.Equal(t, 50*time.Millisecond, c.TickInterval())
			assert.Equal(t, 60*time.Second, c.StatInterval())
			assert.Equal(t, 5*time.Second, c.Poll.TriggerInterval())
			assert.Equal(t, 500*time.Millisecond, c.Poll.ResponseTimeout())
			assert.Equal(t, time.Duration(0), c.Relay.Interval())
			assert.Equal(t, 15*time.Second, c.Relay.Timeout())
			assert.False(t, c.Relay.RetainOnFailure)
			assert.Equal(t, 60*time.Second, c.Guard.Interval())
			assert.Equal(t, uint64(20<<10), c.Guard.LowWater())
			assert.True(t, c.Guard.ReseedEnabled())
			assert.Equal(t, TransportMqtt, c.TransportKind())
			assert.Equal(t, "tcp://127.0.0.1:1883", c.Transport.Mqtt.BrokerURL())
			assert.Equal(t, "radio", c.Transport.Mqtt.TopicPrefix())
			assert.Equal(t, 115200, c.Transport.Serial.BaudRate())
			assert.Equal(t, "/dev/gpiochip0", c.Led.ChipPath())
		}, ""},

		{"full", `
log_debug = true
tick_ms = 20
nodes = ["4C:11:AE:70:47:AC", "4c11ae657648"]
registry { capacity = 20 }
queue { capacity = 3 inbox = 8 }
poll { trigger_interval_ms = 1000 response_timeout_ms = 200 burst = true }
relay {
	url = "https://collector.local/esp/data"
	interval_ms = 1000
	retain_on_failure = true
	max_attempts = 3
}
guard { low_water_kb = 64 prober = "runtime" heap_limit_mb = 32 reseed = false }
transport {
	kind = "serial"
	serial { device = "/dev/ttyS1" baud = 9600 }
}
led { enable = true pin = 17 pulse_ms = 40 }
`, func(t testing.TB, c *Config) {
			assert.True(t, c.LogDebug)
			assert.Equal(t, 20*time.Millisecond, c.TickInterval())
			ids, err := c.NodeIds()
			require.NoError(t, err)
			assert.Equal(t, []node.Id{node.MustParseId("4C11AE7047AC"), node.MustParseId("4C11AE657648")}, ids)
			assert.Equal(t, 20, c.Registry.Capacity)
			assert.Equal(t, 3, c.Queue.Capacity)
			assert.Equal(t, 8, c.Queue.Inbox)
			assert.Equal(t, time.Second, c.Poll.TriggerInterval())
			assert.True(t, c.Poll.Burst)
			assert.Equal(t, time.Second, c.Relay.Interval())
			assert.True(t, c.Relay.RetainOnFailure)
			assert.Equal(t, 3, c.Relay.MaxAttempts)
			assert.Equal(t, uint64(64<<10), c.Guard.LowWater())
			assert.Equal(t, uint64(32<<20), c.Guard.HeapLimit())
			assert.False(t, c.Guard.ReseedEnabled())
			assert.Equal(t, TransportSerial, c.TransportKind())
			assert.Equal(t, 9600, c.Transport.Serial.BaudRate())
			assert.True(t, c.Led.Enable)
			assert.Equal(t, 17, c.Led.Pin)
			assert.Equal(t, 40*time.Millisecond, c.Led.Pulse())
		}, ""},

		{"include-optional", `
include "relay" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "https://collector.local/esp/data", c.Relay.URL)
			}, ""},

		{"include-overwrites", minimal + `
queue { capacity = 1 }
include "queue-7" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 7, c.Queue.Capacity)
			}, ""},

		{"include-yaml", `include "local.yaml" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "https://yaml.local/data", c.Relay.URL)
				assert.Equal(t, TransportNoop, c.TransportKind())
				assert.Equal(t, []string{"08:A6:F7:0C:04:1C"}, c.Nodes)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", minimal + `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-no-url", `tick_ms = 1`, nil, "config relay.url empty"},
		{"error-url-scheme", `relay { url = "ftp://x" }`, nil, "config relay.url=ftp://x scheme"},
		{"error-node", minimal + `nodes = ["4C:11:AE"]`, nil, `node id="4C:11:AE" length`},
		{"error-transport", minimal + `transport { kind = "zigbee" }`, nil, "config transport.kind=zigbee"},
		{"error-serial-device", minimal + `transport { kind = "serial" }`, nil, "config transport.serial.device empty"},
		{"error-runtime-prober", minimal + `guard { prober = "runtime" }`, nil, "requires heap_limit_mb"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"relay":        minimal,
				"queue-7":      "queue{capacity=7}",
				"include-loop": `include "include-loop" {}`,
				"local.yaml": `
relay:
  url: https://yaml.local/data
transport:
  kind: noop
nodes:
  - "08:A6:F7:0C:04:1C"
`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestFoldedErrors(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	fs := NewMockFullReader(map[string]string{
		"x": `nodes = ["zz", "4C:11:AE:70:47:AC"] transport { kind = "serial" }`,
	})
	_, err := ReadConfig(log, fs, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `node id="zz" length`)
	assert.Contains(t, err.Error(), "config relay.url empty")
	assert.Contains(t, err.Error(), "config transport.serial.device empty")
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../../basestation.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	c := MustReadConfig(log, NewOsFullReader(), "../../basestation.hcl")
	ids, err := c.NodeIds()
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}
