package observability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/edumarket/chatsync/internal/config"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw      string
		host     string
		path     string
		insecure bool
	}{
		{"localhost:4318", "localhost:4318", "", true},
		{"10.0.0.7:4318", "10.0.0.7:4318", "", true},
		{"http://collector:4318", "collector:4318", "", true},
		{"https://otel.example.com/ingest", "otel.example.com", "/ingest", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			target, err := parseEndpoint(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.host, target.host)
			assert.Equal(t, tt.path, target.path)
			assert.Equal(t, tt.insecure, target.insecure)
		})
	}
}

func TestSetup_WithoutExporter(t *testing.T) {
	cfg := &config.Config{
		ServiceName:      "chatsync",
		Environment:      "test",
		UserID:           "10",
		UserRole:         "student",
		TraceSampleRatio: 1,
	}

	shutdown, err := Setup(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
}
