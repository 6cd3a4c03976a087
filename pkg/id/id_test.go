package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	prev := New()
	assert.Len(t, prev, 26)
	for range 100 {
		next := New()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestTime(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 6, 1, 12, 30, 0, 123_000_000, time.UTC)
	got, err := Time(NewAt(at))
	require.NoError(t, err)
	assert.Equal(t, at, got)

	_, err = Time("not-an-id")
	assert.Error(t, err)
}
