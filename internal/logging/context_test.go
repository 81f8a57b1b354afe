package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlabs/cabinetd/internal/config"
)

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = ContextWithCabinetID(ctx, 42)
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithRunID(ctx, "run-1")

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)

	id, ok := CabinetIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{"json info", config.LoggingConfig{Level: "info", Format: "json"}, false},
		{"console debug", config.LoggingConfig{Level: "debug", Format: "console"}, false},
		{"empty defaults", config.LoggingConfig{}, false},
		{"bad level", config.LoggingConfig{Level: "verbose", Format: "json"}, true},
		{"bad format", config.LoggingConfig{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			logger.Info(context.Background(), "test message")
		})
	}
}
