package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceNames_Increments(t *testing.T) {
	gen := NewSequenceNames("store")

	assert.Equal(t, "store-1", gen.Generate())
	assert.Equal(t, "store-2", gen.Generate())
	assert.Equal(t, "store-3", gen.Generate())
}

func TestSequenceNames_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequenceNames("")
	assert.Equal(t, "anon-1", gen.Generate())
}
