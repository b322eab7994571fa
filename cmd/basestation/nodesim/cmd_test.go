package nodesim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/node"
)

func TestNodes(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Nodes: []string{"4C:11:AE:70:47:AC"}}
	ids, err := Nodes(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []node.Id{node.MustParseId("4C:11:AE:70:47:AC")}, ids)

	ids, err = Nodes(cfg, []string{"300"})
	require.NoError(t, err)
	require.Len(t, ids, 300)
	assert.Equal(t, "02:00:00:00:01:2B", ids[299].String())

	_, err = Nodes(&config.Config{}, nil)
	assert.Error(t, err)
	_, err = Nodes(cfg, []string{"0"})
	assert.Error(t, err)
	_, err = Nodes(cfg, []string{"many"})
	assert.Error(t, err)
}
