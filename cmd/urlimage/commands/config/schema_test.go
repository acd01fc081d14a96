package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema(t *testing.T) {
	schema := Schema()

	cache, ok := schema.Properties.Get("cache")
	require.True(t, ok)

	size, ok := cache.Properties.Get("size")
	require.True(t, ok)
	assert.Len(t, size.OneOf, 2)

	typ, ok := cache.Properties.Get("type")
	require.True(t, ok)
	assert.Equal(t, "string", typ.Type)

	shutdown, ok := schema.Properties.Get("shutdown_timeout")
	require.True(t, ok)
	assert.Equal(t, "string", shutdown.Type)
}
