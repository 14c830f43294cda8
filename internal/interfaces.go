package internal

import (
	"context"

	"github.com/IBM/fp-go/v2/ioeither"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/build"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/explorer"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
)

type BuilderInterface interface {
	Run(ctx context.Context) ioeither.IOEither[error, build.Report]
}

type ExplorerInterface interface {
	Archive(archiveID string) (models.ArchiveDetail, error)
	Archives() ([]explorer.Archive, error)
	ArchiveAssets(archiveID string) ([]explorer.AssetView, error)
	Asset(key string) (explorer.AssetView, error)
	Index() (models.Index, error)
	Stats() (explorer.Stats, error)
	Search(term string) ([]explorer.Archive, error)
}
