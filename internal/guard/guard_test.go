package guard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaquinet/basestation/log2"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCheck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		headroom uint64
		err      error
		expect   bool
	}{
		{"plenty", 1 << 20, nil, false},
		{"at-mark", 20 << 10, nil, false},
		{"below", 20<<10 - 1, nil, true},
		{"zero", 0, nil, true},
		{"probe-error", 0, fmt.Errorf("ENOSYS"), false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			g := New(ProberFunc(func() (uint64, error) { return c.headroom, c.err }), log, Config{})
			assert.Equal(t, c.expect, g.Check(t0))
		})
	}
}

func TestCheckInterval(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	probes := 0
	g := New(ProberFunc(func() (uint64, error) { probes++; return 1, nil }), log, Config{})

	assert.True(t, g.Check(t0))
	for d := time.Second; d < DefaultInterval; d += time.Second {
		assert.False(t, g.Check(t0.Add(d)))
	}
	assert.Equal(t, 1, probes)
	assert.True(t, g.Check(t0.Add(DefaultInterval)))
	assert.Equal(t, 2, probes)
	assert.Equal(t, uint64(2), g.Sheds())
}

func TestSysinfoProber(t *testing.T) {
	t.Parallel()
	h, err := SysinfoProber{}.Headroom()
	require.NoError(t, err)
	assert.NotZero(t, h)
}

func TestRuntimeProber(t *testing.T) {
	t.Parallel()
	h, err := RuntimeProber{Limit: 1 << 40}.Headroom()
	require.NoError(t, err)
	assert.True(t, h > 0 && h < 1<<40)

	h, err = RuntimeProber{Limit: 1}.Headroom()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	_, err = RuntimeProber{}.Headroom()
	require.Error(t, err)
}
