package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{" trace ", zerolog.TraceLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitDebugOverridesLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "error", Format: FormatJSON, Debug: true}))
	t.Cleanup(func() { _ = Init(Config{}) })

	assert.True(t, IsDebugEnabled())
	assert.False(t, IsTraceEnabled())
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	assert.Error(t, Init(Config{Format: "xml"}))
}

func TestLevelFiltering(t *testing.T) {
	require.NoError(t, Init(Config{Level: "warn", Format: FormatJSON}))
	t.Cleanup(func() { _ = Init(Config{}) })

	var buf bytes.Buffer
	SetOutput(&buf)

	LogInfo("hidden %d", 1)
	assert.Empty(t, buf.String())

	LogWarn("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")

	buf.Reset()
	LogStartup("always %s", "visible")
	assert.Contains(t, buf.String(), "always visible")
}

func TestMockLoggerRecordsFormattedMessages(t *testing.T) {
	m := NewMockLogger()
	m.LogWarn("device %s failed", "ez1")
	m.LogError("boom")

	assert.True(t, m.HasWarnContaining("ez1 failed"))
	assert.True(t, m.HasErrorMessage())

	m.Reset()
	assert.Empty(t, m.Warnings())
}
