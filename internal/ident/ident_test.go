package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadNode(t *testing.T) {
	_, err := New(-1)
	assert.Error(t, err)

	_, err = New(1024)
	assert.Error(t, err)
}

func TestNextIDUnique(t *testing.T) {
	gen, err := New(1)
	require.NoError(t, err)

	seen := make(map[int64]struct{})
	for i := 0; i < 10000; i++ {
		id := gen.NextID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d after %d generations", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestNextIDMonotonic(t *testing.T) {
	gen, err := New(1)
	require.NoError(t, err)

	prev := gen.NextID()
	for i := 0; i < 1000; i++ {
		id := gen.NextID()
		assert.Greater(t, id, prev)
		prev = id
	}
}
