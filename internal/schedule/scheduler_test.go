package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpress/quill/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("accepts valid schedules", func(t *testing.T) {
		s, err := New(nil, []config.Source{
			{URL: "https://example.com/a", Schedule: "0 * * * *"},
			{URL: "https://example.com/b", Schedule: "@hourly"},
			{URL: "https://example.com/manual"}, // no schedule, manual only
		})
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Len(t, s.cron.Entries(), 2)
	})

	t.Run("rejects invalid cron expressions at startup", func(t *testing.T) {
		_, err := New(nil, []config.Source{
			{URL: "https://example.com/a", Schedule: "not a cron line"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid schedule")
		assert.Contains(t, err.Error(), "https://example.com/a")
	})

	t.Run("no sources is fine", func(t *testing.T) {
		s, err := New(nil, nil)
		require.NoError(t, err)
		assert.Empty(t, s.cron.Entries())
	})
}

func TestStartStop(t *testing.T) {
	s, err := New(nil, nil)
	require.NoError(t, err)

	s.Start()
	s.Stop()
}
