package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ET "github.com/IBM/fp-go/v2/either"
	"github.com/IBM/fp-go/v2/function"
	IOE "github.com/IBM/fp-go/v2/ioeither"
	Http "github.com/IBM/fp-go/v2/ioeither/http"
	"github.com/IBM/fp-go/v2/option"
	"github.com/IBM/fp-go/v2/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
	T "github.com/Qubut/fotoware-explorer/packages/data_builder/internal/typing"
)

// ErrNotFound matches a *StatusError carrying HTTP 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from the FotoWare API.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %d %s (%s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Fetcher struct {
	Cfg             config.Config
	Logger          *zap.SugaredLogger
	Tracer          trace.Tracer
	Meter           metric.Meter
	root            string
	client          Http.Client
	requestsTotal   metric.Int64Counter
	requestsFailed  metric.Int64Counter
	requestDuration metric.Int64Histogram
}

func NewFetcher(
	cfg config.Config,
	tracer trace.Tracer,
	logger *zap.SugaredLogger,
	meter metric.Meter,
) (*Fetcher, error) {
	if err := cfg.RequireAPI(); err != nil {
		return nil, err
	}
	timeout := cfg.API.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	f := &Fetcher{
		Cfg:    cfg,
		Logger: logger,
		Tracer: tracer,
		Meter:  meter,
		root:   cfg.API.Root(),
		client: Http.MakeClient(&http.Client{
			Timeout:   timeout,
			Transport: &jsonTransport{base: http.DefaultTransport, token: cfg.API.Token},
		}),
	}

	var err error
	f.requestsTotal, err = meter.Int64Counter(
		"fetch.requests.total",
		metric.WithDescription("Total number of API requests issued"),
	)
	if err != nil {
		return nil, err
	}
	f.requestsFailed, err = meter.Int64Counter(
		"fetch.requests.failed",
		metric.WithDescription("Number of API requests that failed after retries"),
	)
	if err != nil {
		return nil, err
	}
	f.requestDuration, err = meter.Int64Histogram(
		"fetch.request.duration",
		metric.WithDescription("Duration of individual API requests"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// jsonTransport sets the JSON headers (and bearer token, when configured) on every request.
type jsonTransport struct {
	base  http.RoundTripper
	token string
}

func (t *jsonTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// Root is the normalised API root, ending in /fotoweb.
func (f *Fetcher) Root() string {
	return f.root
}

// URL resolves an API href against the root. Hrefs returned by FotoWare already carry the
// /fotoweb prefix, which the root ends with, so it is dropped once.
func (f *Fetcher) URL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/fotoweb/") {
		href = strings.TrimPrefix(href, "/fotoweb")
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return f.root + href
}

func (f *Fetcher) FetchArchives(ctx context.Context) IOE.IOEither[error, []models.ArchiveSummary] {
	return IOE.TryCatchError(func() ([]models.ArchiveSummary, error) {
		ctx, span := f.Tracer.Start(ctx, "fetch.archives")
		defer span.End()

		archives := []models.ArchiveSummary{}
		visited := map[string]bool{}
		for next := f.root + "/archives/"; next != "" && !visited[next]; {
			visited[next] = true
			page, err := ET.UnwrapError(function.Pipe1(
				f.get(ctx, next),
				IOE.Chain(decodeJSON[models.ArchiveList]),
			)())
			if err != nil {
				span.RecordError(err)
				f.logFailure("Error fetching archives", err)
				return nil, fmt.Errorf("fetch archives: %w", err)
			}
			archives = append(archives, page.Data...)
			next = f.nextPage(page.Paging)
		}
		span.SetAttributes(attribute.Int("archives", len(archives)))
		return archives, nil
	})
}

// FetchArchiveDetails fetches an archive with its asset listing. Further listing pages are
// appended to the first; Raw is then re-encoded with the complete listing.
func (f *Fetcher) FetchArchiveDetails(
	ctx context.Context,
	archiveID string,
) IOE.IOEither[error, models.ArchiveDetail] {
	return IOE.TryCatchError(func() (models.ArchiveDetail, error) {
		ctx, span := f.Tracer.Start(ctx, "fetch.archive", trace.WithAttributes(
			attribute.String("archive.id", archiveID),
		))
		defer span.End()

		u := fmt.Sprintf("%s/archives/%s/", f.root, url.PathEscape(archiveID))
		raw, err := ET.UnwrapError(f.get(ctx, u)())
		if err != nil {
			span.RecordError(err)
			f.logFailure("Error fetching archive details", err, "archive", archiveID)
			return models.ArchiveDetail{}, fmt.Errorf("fetch archive %s: %w", archiveID, err)
		}
		var detail models.ArchiveDetail
		if err := json.Unmarshal(raw, &detail); err != nil {
			return models.ArchiveDetail{}, fmt.Errorf("decode archive %s: %w", archiveID, err)
		}
		detail.Raw = raw
		if detail.ID == "" {
			detail.ID = archiveID
		}
		if detail.Assets == nil || f.nextPage(detail.Assets.Paging) == "" {
			return detail, nil
		}

		items, err := rawPageItems(raw)
		if err != nil {
			return models.ArchiveDetail{}, fmt.Errorf("decode archive %s: %w", archiveID, err)
		}
		visited := map[string]bool{u: true}
		for next := f.nextPage(detail.Assets.Paging); next != "" && !visited[next]; {
			visited[next] = true
			body, err := ET.UnwrapError(f.get(ctx, next)())
			if err != nil {
				span.RecordError(err)
				f.logFailure("Error fetching asset page", err, "archive", archiveID)
				return models.ArchiveDetail{}, fmt.Errorf("fetch archive %s assets: %w", archiveID, err)
			}
			var page models.AssetPage
			if err := json.Unmarshal(body, &page); err != nil {
				return models.ArchiveDetail{}, fmt.Errorf("decode archive %s assets: %w", archiveID, err)
			}
			var rawPage struct {
				Data []json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(body, &rawPage); err != nil {
				return models.ArchiveDetail{}, fmt.Errorf("decode archive %s assets: %w", archiveID, err)
			}
			detail.Assets.Data = append(detail.Assets.Data, page.Data...)
			items = append(items, rawPage.Data...)
			next = f.nextPage(page.Paging)
		}
		detail.Assets.Paging = nil
		if detail.Raw, err = replacePageItems(raw, items); err != nil {
			return models.ArchiveDetail{}, fmt.Errorf("encode archive %s: %w", archiveID, err)
		}
		span.SetAttributes(attribute.Int("assets", len(detail.Assets.Data)))
		return detail, nil
	})
}

// FetchAsset fetches the asset behind a listing reference. A 404 is a soft miss and yields None.
func (f *Fetcher) FetchAsset(
	ctx context.Context,
	archiveID string,
	ref models.AssetRef,
) IOE.IOEither[error, option.Option[*models.Asset]] {
	return IOE.TryCatchError(func() (option.Option[*models.Asset], error) {
		u := f.URL(ref.Href)
		ctx, span := f.Tracer.Start(ctx, "fetch.asset", trace.WithAttributes(
			attribute.String("archive.id", archiveID),
			attribute.String("asset.filename", ref.Filename),
			attribute.String("asset.url", u),
		))
		defer span.End()

		body, err := ET.UnwrapError(f.get(ctx, u)())
		if errors.Is(err, ErrNotFound) {
			span.AddEvent("asset_not_found")
			f.Logger.Warnw("Asset not found in archive",
				"filename", ref.Filename,
				"archive", archiveID,
				"url", u,
			)
			return option.None[*models.Asset](), nil
		}
		if err != nil {
			span.RecordError(err)
			f.logFailure("Error fetching asset", err, "filename", ref.Filename, "archive", archiveID)
			return option.None[*models.Asset](), fmt.Errorf("fetch asset %s: %w", ref.Filename, err)
		}
		var asset models.Asset
		if err := json.Unmarshal(body, &asset); err != nil {
			span.RecordError(err)
			return option.None[*models.Asset](), fmt.Errorf("decode asset %s: %w", ref.Filename, err)
		}
		return option.Some(&asset), nil
	})
}

// get issues a GET and returns the body of a 2xx response. Other statuses become *StatusError.
// Retries follow api.max_retries and never apply to 4xx responses.
func (f *Fetcher) get(ctx context.Context, u string) IOE.IOEither[error, []byte] {
	startTime := time.Now()
	policy := retry.Monoid.Concat(
		retry.LimitRetries(uint(f.Cfg.API.MaxRetries)),
		retry.ExponentialBackoff(50*time.Millisecond),
	)
	action := func(_ retry.RetryStatus) IOE.IOEither[error, []byte] {
		select {
		case <-ctx.Done():
			return IOE.Left[[]byte](ctx.Err())
		default:
			f.requestsTotal.Add(ctx, 1)
			return IOE.Bracket(
				f.client.Do(Http.MakeGetRequest(u)),
				func(resp *http.Response) IOE.IOEither[error, []byte] {
					return IOE.TryCatchError(func() ([]byte, error) {
						body, err := io.ReadAll(resp.Body)
						if err != nil {
							return nil, err
						}
						if resp.StatusCode < 200 || resp.StatusCode > 299 {
							return nil, &StatusError{URL: u, StatusCode: resp.StatusCode, Body: string(body)}
						}
						return body, nil
					})
				},
				func(resp *http.Response, _ ET.Either[error, []byte]) IOE.IOEither[error, any] {
					return IOE.TryCatchError(func() (any, error) { return nil, resp.Body.Close() })
				},
			)
		}
	}
	return function.Pipe2(
		IOE.Retrying(policy, action, ET.Fold(
			retryable,
			function.Constant1[[]byte](false),
		)),
		IOE.Tap(func(_ []byte) IOE.IOEither[error, T.Unit] {
			f.requestDuration.Record(ctx, time.Since(startTime).Milliseconds(),
				metric.WithAttributes(attribute.String("status", "success")),
			)
			return IOE.Of[error](T.Unit{})
		}),
		IOE.TapLeft[[]byte](func(err error) IOE.IOEither[error, T.Unit] {
			status := "failed"
			if errors.Is(err, ErrNotFound) {
				status = "not_found"
			}
			f.requestsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
			f.requestDuration.Record(ctx, time.Since(startTime).Milliseconds(),
				metric.WithAttributes(attribute.String("status", status)),
			)
			return IOE.Of[error](T.Unit{})
		}),
	)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return true
}

func (f *Fetcher) nextPage(p *models.Paging) string {
	if p == nil {
		return ""
	}
	return f.URL(p.Next)
}

func (f *Fetcher) logFailure(msg string, err error, keysAndValues ...any) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		keysAndValues = append(keysAndValues,
			"url", statusErr.URL,
			"status", statusErr.StatusCode,
			"body", statusErr.Body,
		)
	}
	f.Logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

func decodeJSON[A any](data []byte) IOE.IOEither[error, A] {
	return IOE.TryCatchError(func() (A, error) {
		var out A
		err := json.Unmarshal(data, &out)
		return out, err
	})
}

func rawPageItems(archive []byte) ([]json.RawMessage, error) {
	var doc struct {
		Assets struct {
			Data []json.RawMessage `json:"data"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(archive, &doc); err != nil {
		return nil, err
	}
	return doc.Assets.Data, nil
}

func replacePageItems(archive []byte, items []json.RawMessage) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(archive, &doc); err != nil {
		return nil, err
	}
	var assets map[string]json.RawMessage
	if err := json.Unmarshal(doc["assets"], &assets); err != nil {
		return nil, err
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	assets["data"] = data
	delete(assets, "paging")
	if doc["assets"], err = json.Marshal(assets); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
