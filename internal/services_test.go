package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
)

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		API: config.API{
			BaseURL:       baseURL,
			UniqueIDField: "187",
		},
		Output: config.Output{Directory: t.TempDir()},
		Build:  config.Build{Concurrency: 1, MemoryLimit: 100},
	}
}

func TestInitServicesWithoutAPIIsReadOnly(t *testing.T) {
	s, err := InitServices(
		testConfig(t, ""),
		tracenoop.NewTracerProvider().Tracer("test"),
		zaptest.NewLogger(t).Sugar(),
		metricnoop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)
	assert.Nil(t, s.Builder)
	require.NotNil(t, s.Explorer)

	_, err = s.Explorer.Archives()
	assert.NoError(t, err)
}

func TestInitServicesWithAPI(t *testing.T) {
	s, err := InitServices(
		testConfig(t, "https://example.fotoware.cloud"),
		tracenoop.NewTracerProvider().Tracer("test"),
		zaptest.NewLogger(t).Sugar(),
		metricnoop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)
	assert.NotNil(t, s.Builder)
	assert.NotNil(t, s.Explorer)
}
