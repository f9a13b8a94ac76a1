package idgen

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNanoID_Format(t *testing.T) {
	gen, err := New(FormatNanoID, 10)
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^[0-9a-f]{10}$`)
	for i := 0; i < 100; i++ {
		assert.Regexp(t, pattern, gen())
	}
}

func TestNanoID_Uniqueness(t *testing.T) {
	gen := NanoID(HexAlphabet, 12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q at iteration %d", id, i)
		seen[id] = struct{}{}
	}
}

func TestNew_DefaultsLength(t *testing.T) {
	gen, err := New("", 0)
	require.NoError(t, err)
	assert.Len(t, gen(), 10)
}

func TestNew_UUID(t *testing.T) {
	gen, err := New(FormatUUID, 0)
	require.NoError(t, err)

	_, err = uuid.Parse(gen())
	assert.NoError(t, err)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New("snowflake", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown id format")
}
