package lock

import (
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOwnerID(t *testing.T) {
	t.Run("custom", func(t *testing.T) {
		config := DefaultConfig()
		WithOwnerID("  worker-1 ").Apply(&config)
		assert.Equal(t, "worker-1", newOwnerID(config))
	})

	t.Run("host", func(t *testing.T) {
		host, err := os.Hostname()
		if err != nil || host == "" {
			t.Skip("hostname unavailable")
		}
		config := DefaultConfig()
		config.OwnerStrategy = OwnerHost
		assert.Equal(t, host, newOwnerID(config))
	})

	t.Run("random", func(t *testing.T) {
		config := DefaultConfig()
		a, b := newOwnerID(config), newOwnerID(config)
		assert.Len(t, a, 32)
		assert.NotEqual(t, a, b)
	})
}

func TestNewValue(t *testing.T) {
	before := time.Now().UnixNano()
	value := newValue("worker-1")

	parts := strings.Split(value, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "worker-1", parts[0])
	assert.Len(t, parts[1], 32)
	assert.NotContains(t, parts[1], "-")

	nanos, err := strconv.ParseInt(parts[2], 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, nanos, before)

	seen := make(map[string]struct{})
	for range 1000 {
		v := newValue("worker-1")
		_, dup := seen[v]
		require.False(t, dup, "duplicate lock value %s", v)
		seen[v] = struct{}{}
	}
}
