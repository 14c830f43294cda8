package internal

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/build"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/explorer"
)

// Services holds the long-lived components the commands run. Builder is nil when no API
// base URL is configured, since the read-only commands work without one.
type Services struct {
	Builder  BuilderInterface
	Explorer ExplorerInterface
}

func InitServices(
	cfg config.Config,
	tracer trace.Tracer,
	logger *zap.SugaredLogger,
	meter metric.Meter,
) (*Services, error) {
	s := &Services{
		Explorer: explorer.NewExplorer(cfg, logger),
	}
	if cfg.RequireAPI() != nil {
		return s, nil
	}
	b, err := build.NewBuilder(cfg, tracer, logger, meter)
	if err != nil {
		return nil, err
	}
	s.Builder = b
	return s, nil
}
