package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	ET "github.com/IBM/fp-go/v2/either"
	IOE "github.com/IBM/fp-go/v2/ioeither"
	"github.com/IBM/fp-go/v2/option"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/dedup"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/fetch"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/index"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/store"
)

// progressLogInterval is how often, in assets, per-archive progress is logged.
const progressLogInterval = 50

type Fetcher interface {
	FetchArchives(ctx context.Context) IOE.IOEither[error, []models.ArchiveSummary]
	FetchArchiveDetails(ctx context.Context, archiveID string) IOE.IOEither[error, models.ArchiveDetail]
	FetchAsset(
		ctx context.Context,
		archiveID string,
		ref models.AssetRef,
	) IOE.IOEither[error, option.Option[*models.Asset]]
}

// Report summarises a build run.
type Report struct {
	BuildID         string
	ArchivesTotal   int
	ArchivesBuilt   int
	ArchivesFailed  int
	AssetsUnique    int
	AssetsMissing   int
	AssetsDiscarded int
	WriteFailures   int
	OutputBytes     int64
	Duration        time.Duration
	Cancelled       bool
}

func (r Report) String() string {
	return fmt.Sprintf(
		"build %s: %d/%d archives built (%d failed), %d unique assets, %d missing, %d discarded, %d write failures, %s written in %s",
		r.BuildID,
		r.ArchivesBuilt, r.ArchivesTotal, r.ArchivesFailed,
		r.AssetsUnique, r.AssetsMissing, r.AssetsDiscarded, r.WriteFailures,
		units.HumanSize(float64(r.OutputBytes)),
		units.HumanDuration(r.Duration),
	)
}

type Builder struct {
	Cfg     config.Config
	Logger  *zap.SugaredLogger
	Tracer  trace.Tracer
	Meter   metric.Meter
	Fetcher Fetcher
	Store   *store.Store
	// Out receives progress bars; nil disables them.
	Out io.Writer

	buildDuration     metric.Int64Histogram
	archivesProcessed metric.Int64Counter
	assetsProcessed   metric.Int64Counter
}

func NewBuilder(
	cfg config.Config,
	tracer trace.Tracer,
	logger *zap.SugaredLogger,
	meter metric.Meter,
) (*Builder, error) {
	f, err := fetch.NewFetcher(cfg, tracer, logger, meter)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		Cfg:     cfg,
		Logger:  logger,
		Tracer:  tracer,
		Meter:   meter,
		Fetcher: f,
		Store:   store.New(cfg.Output.Directory),
	}
	if cfg.Build.Progress {
		b.Out = os.Stdout
	}

	b.buildDuration, err = meter.Int64Histogram(
		"build.duration",
		metric.WithDescription("Duration of a full data build"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	b.archivesProcessed, err = meter.Int64Counter(
		"build.archives.processed",
		metric.WithDescription("Archives processed, by status"),
	)
	if err != nil {
		return nil, err
	}
	b.assetsProcessed, err = meter.Int64Counter(
		"build.assets.processed",
		metric.WithDescription("Asset references processed, by outcome"),
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Run fetches every archive, merges its assets by unique ID and writes the archive, asset
// and index files. Only a failure to list archives fails the run; every other failure is
// logged and counted in the report.
func (b *Builder) Run(ctx context.Context) IOE.IOEither[error, Report] {
	return IOE.TryCatchError(func() (Report, error) {
		startTime := time.Now()
		report := Report{BuildID: uuid.NewString()}
		ctx, span := b.Tracer.Start(ctx, "build.run", trace.WithAttributes(
			attribute.String("build.id", report.BuildID),
			attribute.String("output.directory", b.Store.Dir),
		))
		defer span.End()
		logger := b.Logger.With("buildId", report.BuildID)
		logger.Infow("Starting data build",
			"output", b.Store.Dir,
			"concurrency", b.Cfg.Build.Concurrency,
			"memoryLimit", b.Cfg.Build.MemoryLimit,
		)

		archives, err := ET.UnwrapError(b.Fetcher.FetchArchives(ctx)())
		if err != nil {
			span.RecordError(err)
			logger.Errorw("Error building data", "error", err)
			return report, fmt.Errorf("list archives: %w", err)
		}
		report.ArchivesTotal = len(archives)
		logger.Infow("Found archives", "count", len(archives))

		idx := index.NewBuilder(b.Store, nil)
		if err := idx.Enumerate(len(archives)); err != nil {
			return report, err
		}
		cache := dedup.NewCache(b.Store, b.Cfg.API.UniqueIDField, b.Cfg.Build.MemoryLimit, logger)

		for _, archive := range archives {
			if ctx.Err() != nil {
				report.Cancelled = true
				logger.Warnw("Build cancelled, finishing with archives processed so far", "error", ctx.Err())
				break
			}
			b.processArchive(ctx, logger, archive, idx, cache, &report)
		}

		logger.Infow("Writing remaining unique asset files", "count", cache.InMemory())
		if _, err := cache.FlushAll(); err != nil {
			report.WriteFailures += cache.InMemory()
			logger.Errorw("Error writing asset files", "error", err)
		}
		report.AssetsUnique = cache.Len()

		if err := idx.Finalise(cache.Len()); err != nil {
			report.WriteFailures++
			logger.Errorw("Error writing final index", "error", err)
		}

		report.Duration = time.Since(startTime)
		report.OutputBytes, _ = b.Store.DiskUsage()
		b.buildDuration.Record(ctx, report.Duration.Milliseconds(), metric.WithAttributes(
			attribute.Bool("cancelled", report.Cancelled),
		))
		span.SetAttributes(
			attribute.Int("archives.built", report.ArchivesBuilt),
			attribute.Int("archives.failed", report.ArchivesFailed),
			attribute.Int("assets.unique", report.AssetsUnique),
		)
		snapshot := idx.Snapshot()
		logger.Infow("Build completed",
			"totalArchives", snapshot.Metadata.TotalArchives,
			"totalAssets", snapshot.Metadata.TotalAssets,
			"lastUpdated", snapshot.Metadata.LastUpdated,
			"buildTime", units.HumanDuration(report.Duration),
			"missing", report.AssetsMissing,
			"discarded", report.AssetsDiscarded,
			"writeFailures", report.WriteFailures,
		)
		return report, nil
	})
}

func (b *Builder) processArchive(
	ctx context.Context,
	logger *zap.SugaredLogger,
	archive models.ArchiveSummary,
	idx *index.Builder,
	cache *dedup.Cache,
	report *Report,
) {
	ctx, span := b.Tracer.Start(ctx, "build.archive", trace.WithAttributes(
		attribute.String("archive.id", archive.ID),
		attribute.String("archive.name", archive.Name),
	))
	defer span.End()
	logger = logger.With("archive", archive.ID)
	logger.Infow("Processing archive", "name", archive.Name)

	detail, err := ET.UnwrapError(b.Fetcher.FetchArchiveDetails(ctx, archive.ID)())
	if err != nil {
		span.RecordError(err)
		report.ArchivesFailed++
		b.archivesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "failed")))
		logger.Errorw("Error processing archive", "name", archive.Name, "error", err)
		return
	}

	refs := detail.Refs()
	if err := idx.BeginArchive(archive, len(refs)); err != nil {
		report.ArchivesFailed++
		logger.Errorw("Error processing archive", "name", archive.Name, "error", err)
		return
	}
	if _, err := ET.UnwrapError(b.Store.WriteArchive(archive.ID, detail.Raw)()); err != nil {
		report.WriteFailures++
		logger.Errorw("Error writing archive file", "file", b.Store.ArchivePath(archive.ID), "error", err)
	} else {
		logger.Debugw("Wrote archive data", "file", b.Store.ArchivePath(archive.ID))
	}

	if len(refs) == 0 {
		logger.Warnw("No assets found in archive")
	} else {
		logger.Infow("Found assets in archive", "count", len(refs))
	}

	abandoned := b.processAssets(ctx, logger, archive, refs, idx, cache, report)

	if err := idx.CompleteArchive(archive.ID, cache.Len()); err != nil {
		report.WriteFailures++
		logger.Errorw("Error writing index", "error", err)
	}
	status := "built"
	if abandoned {
		status = "partial"
		report.ArchivesFailed++
	} else {
		report.ArchivesBuilt++
	}
	b.archivesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	logger.Infow("Updated index with archive data", "name", archive.Name, "assetCount", len(refs), "status", status)
}

type assetResult struct {
	asset option.Option[*models.Asset]
	err   error
}

// processAssets fetches the referenced assets, at most build.concurrency at a time, and
// merges them strictly in listing order. A hard fetch error cancels the outstanding
// fetches and abandons the rest of the archive; the return value reports that.
func (b *Builder) processAssets(
	ctx context.Context,
	logger *zap.SugaredLogger,
	archive models.ArchiveSummary,
	refs []models.AssetRef,
	idx *index.Builder,
	cache *dedup.Cache,
	report *Report,
) bool {
	if len(refs) == 0 {
		return false
	}
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan assetResult, len(refs))
	for i := range results {
		results[i] = make(chan assetResult, 1)
	}
	concurrency := int64(max(b.Cfg.Build.Concurrency, 1))
	sem := semaphore.NewWeighted(concurrency)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, ref := range refs {
			if err := sem.Acquire(ctx, 1); err != nil {
				for j := i; j < len(refs); j++ {
					results[j] <- assetResult{err: err}
				}
				return
			}
			wg.Add(1)
			go func(i int, ref models.AssetRef) {
				defer wg.Done()
				defer sem.Release(1)
				asset, err := ET.UnwrapError(b.Fetcher.FetchAsset(ctx, archive.ID, ref)())
				results[i] <- assetResult{asset: asset, err: err}
			}(i, ref)
		}
	}()

	bar := b.newProgress(archive, len(refs))
	defer func() {
		if bar != nil {
			_ = bar.Finish()
		}
	}()

	for i, ref := range refs {
		res := <-results[i]
		if res.err != nil {
			cancel()
			b.assetsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
			logger.Errorw("Error processing asset in archive, abandoning archive",
				"filename", ref.Filename,
				"processed", i,
				"total", len(refs),
				"error", res.err,
			)
			return true
		}
		b.mergeAsset(ctx, logger, archive.ID, ref, res.asset, idx, cache, report)
		if bar != nil {
			_ = bar.Add(1)
		}
		if processed := i + 1; processed%progressLogInterval == 0 {
			logger.Infow("Processed assets in archive", "processed", processed, "total", len(refs))
		}
	}
	return false
}

func (b *Builder) mergeAsset(
	ctx context.Context,
	logger *zap.SugaredLogger,
	archiveID string,
	ref models.AssetRef,
	fetched option.Option[*models.Asset],
	idx *index.Builder,
	cache *dedup.Cache,
	report *Report,
) {
	asset := option.MonadGetOrElse(fetched, func() *models.Asset { return nil })
	if asset == nil {
		report.AssetsMissing++
		b.assetsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "missing")))
		return
	}
	uid, outcome, err := cache.Merge(archiveID, ref, asset)
	switch {
	case errors.Is(err, dedup.ErrNoUniqueID):
		report.AssetsDiscarded++
		b.assetsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "discarded")))
		logger.Warnw("No unique identifier found for asset",
			"filename", ref.Filename,
			"assetMetadata", ref.Metadata,
			"responseMetadata", asset.Metadata,
		)
		return
	case err != nil:
		report.WriteFailures++
		b.assetsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		logger.Errorw("Error merging asset", "filename", ref.Filename, "uniqueId", uid, "error", err)
		return
	}
	if err := idx.AddAsset(archiveID, uid); err != nil {
		logger.Errorw("Error indexing asset", "uniqueId", uid, "error", err)
		return
	}
	b.assetsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
}

func (b *Builder) newProgress(archive models.ArchiveSummary, total int) *progressbar.ProgressBar {
	if b.Out == nil {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.Out),
		progressbar.OptionSetWidth(60),
		progressbar.OptionSetDescription("["+strconv.Itoa(total)+" assets] "+archive.Name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionUseANSICodes(true),
	)
}
