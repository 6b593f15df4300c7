package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"bob", "alice", "carol"}, Unique([]string{"bob", "alice", "bob", "carol", "alice"}))
	assert.Empty(t, Unique([]int(nil)))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains([]string{"a", "b"}, "c"))
	assert.False(t, Contains(nil, 1))
}
