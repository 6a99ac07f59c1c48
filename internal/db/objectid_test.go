package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewObjectID(t *testing.T) {
	id := NewObjectID()
	assert.Len(t, id, 24)
	assert.True(t, IsValidObjectID(id))

	// Ids are unique across calls.
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		next := NewObjectID()
		assert.False(t, seen[next])
		seen[next] = true
	}
}

func TestIsValidObjectID(t *testing.T) {
	assert.False(t, IsValidObjectID(""))
	assert.False(t, IsValidObjectID("guest_12345"))
	assert.False(t, IsValidObjectID("zzzzzzzzzzzzzzzzzzzzzzzz"))
	assert.False(t, IsValidObjectID("abc123"))
	assert.True(t, IsValidObjectID("65f1c0ffee00112233445566"))
}
