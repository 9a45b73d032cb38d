package logging_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frobware/go-psabpf/logging"
)

func TestLevel_SlogAndString(t *testing.T) {
	tests := []struct {
		level logging.Level
		slog  slog.Level
		name  string
	}{
		{logging.LevelTrace, slog.LevelDebug - 4, "trace"},
		{logging.LevelDebug, slog.LevelDebug, "debug"},
		{logging.LevelInfo, slog.LevelInfo, "info"},
		{logging.LevelWarn, slog.LevelWarn, "warn"},
		{logging.LevelError, slog.LevelError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.slog, tt.level.ToSlog())
			assert.Equal(t, tt.name, tt.level.String())
		})
	}
}
