package queues

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFamilyIndicesComplete(t *testing.T) {
	var f FamilyIndices
	assert.False(t, f.IsComplete(false))

	f.Graphics.Set(0)
	assert.True(t, f.IsComplete(false))
	assert.False(t, f.IsComplete(true))

	f.Present.Set(0)
	assert.True(t, f.IsComplete(true))
}

func TestFamilyIndicesUnique(t *testing.T) {
	var f FamilyIndices
	f.Graphics.Set(1)
	f.Present.Set(1)

	assert.False(t, f.Shared())
	assert.Equal(t, []uint32{1}, f.Unique())

	f.Present.Set(2)
	assert.True(t, f.Shared())
	assert.Equal(t, []uint32{1, 2}, f.Unique())
}
