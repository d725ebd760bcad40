package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	a := HashKey("sid-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey("sid-1"))
	assert.NotEqual(t, a, HashKey("sid-2"))
	assert.NotEqual(t, HashKey("ab", "c"), HashKey("a", "bc"))
	assert.Equal(t, a[:12], ShortKey("sid-1"))
}
