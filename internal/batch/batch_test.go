package batch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaquinet/basestation/internal/ingest"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		input  []ingest.Report
		expect string
	}{
		{"empty", nil, `[]`},
		{"arrival-order", []ingest.Report{
			{Value: 10, DeviceId: "A"},
			{Value: 99, DeviceId: "C"},
		}, `[{"value":10,"deviceId":"A"},{"value":99,"deviceId":"C"}]`},
		{"negative-and-escape", []ingest.Report{
			{Value: -3, DeviceId: `q"<x>`},
		}, `[{"value":-3,"deviceId":"q\"<x>"}]`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			b := Build(c.input)
			assert.Equal(t, c.expect, string(b.Payload))
			assert.Equal(t, len(c.input), b.Count)
			assert.Equal(t, len(c.input) == 0, b.IsEmpty())
		})
	}
}

func TestBuildIds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Empty().Id)
	assert.Equal(t, "batch(empty)", Empty().String())
	var nilBatch *Batch
	assert.True(t, nilBatch.IsEmpty())

	reports := []ingest.Report{{Value: 1, DeviceId: "A"}}
	b1, b2 := Build(reports), Build(reports)
	_, err := uuid.Parse(b1.Id)
	require.NoError(t, err)
	assert.NotEqual(t, b1.Id, b2.Id)
	assert.Equal(t, b1.Payload, b2.Payload)
}
