package telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitOTELDisabledUsesNoopProviders(t *testing.T) {
	tracer, meter, log, shutdown, err := InitOTEL(Config{
		ServiceName: "data-builder",
		Exporter:    "none",
		LogFile:     filepath.Join(t.TempDir(), "build.log"),
		LogLevel:    "debug",
	})
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	counter, err := meter.Int64Counter("noop.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	log.Infow("hello", "k", "v")
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitOTELStdout(t *testing.T) {
	tracer, meter, log, shutdown, err := InitOTEL(Config{
		Enabled:     true,
		ServiceName: "data-builder",
		Exporter:    "stdout",
		LogLevel:    "info",
	})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NotNil(t, meter)
	require.NotNil(t, log)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitOTELRejectsBadSettings(t *testing.T) {
	_, _, _, _, err := InitOTEL(Config{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)

	_, _, _, _, err = InitOTEL(Config{Enabled: true, Exporter: "otlp"})
	assert.Error(t, err)

	_, _, _, _, err = InitOTEL(Config{Enabled: true, Exporter: "otlp", Endpoint: "localhost:4317", Protocol: "udp"})
	assert.Error(t, err)
}
