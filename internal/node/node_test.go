package node

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseId(t *testing.T) {
	t.Parallel()

	expect := Id{0x4c, 0x11, 0xae, 0x70, 0x47, 0xac}
	for _, s := range []string{"4C:11:AE:70:47:AC", "4c-11-ae-70-47-ac", "4C11AE7047AC", " 4c11ae7047ac "} {
		s := s
		t.Run(s, func(t *testing.T) {
			id, err := ParseId(s)
			require.NoError(t, err)
			assert.Equal(t, expect, id)
		})
	}
	assert.Equal(t, "4C:11:AE:70:47:AC", expect.String())
	assert.Equal(t, "4C11AE7047AC", expect.Hex())

	for _, s := range []string{"", "4C:11:AE", "ZZ11AE7047AC", "4C:11:AE:70:47:AC:00"} {
		_, err := ParseId(s)
		assert.True(t, errors.IsNotValid(err), "input=%q err=%v", s, err)
	}
}

func testId(i int) Id { return Id{0, 0, 0, 0, byte(i >> 8), byte(i)} }

func TestRegistryAdd(t *testing.T) {
	t.Parallel()

	r := NewRegistry(3)
	a, b, c, d := testId(1), testId(2), testId(3), testId(4)
	for _, id := range []Id{a, b, a, c, b} {
		_, evicted := r.Add(id)
		assert.False(t, evicted)
	}
	assert.Equal(t, []Id{a, b, c}, r.Ids())

	old, evicted := r.Add(d)
	assert.True(t, evicted)
	assert.Equal(t, a, old)
	assert.Equal(t, []Id{b, c, d}, r.Ids())
	assert.Equal(t, 3, r.Size())
	assert.Equal(t, d, r.At(2))
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	assert.Equal(t, DefaultCapacity, r.Cap())
	for i := 1; i <= 4; i++ {
		r.Add(testId(i))
	}
	r.Remove(testId(2))
	r.Remove(testId(99))
	assert.Equal(t, []Id{testId(1), testId(3), testId(4)}, r.Ids())
	assert.False(t, r.Contains(testId(2)))

	seen := ""
	r.Each(func(i int, id Id) { seen += fmt.Sprintf("%d=%s ", i, id.Hex()) })
	assert.Equal(t, "0=000000000001 1=000000000003 2=000000000004 ", seen)

	r.Clear()
	assert.Equal(t, 0, r.Size())
}

func TestRegistryNoDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry(10)
	for i := 0; i < 100; i++ {
		r.Add(testId(i % 13))
		ids := r.Ids()
		seen := make(map[Id]struct{}, len(ids))
		for _, id := range ids {
			_, dup := seen[id]
			require.False(t, dup, "duplicate id=%s after add #%d", id, i)
			seen[id] = struct{}{}
		}
		require.LessOrEqual(t, len(ids), r.Cap())
	}
}
