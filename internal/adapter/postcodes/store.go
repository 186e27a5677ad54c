// Package postcodes builds, caches, and serves the postcode index.
package postcodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/resilient"
	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
)

const loadKey = "postcode-index"

// Options configures a Store.
type Options struct {
	DatasetURL string
	CachePath  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Backoff    resilient.Backoff
}

// Store holds the process-wide postcode index. The first load downloads and
// filters the public dataset into a cache file; later loads read the file.
// Concurrent first loads share one download.
type Store struct {
	client     *resilient.Client
	datasetURL string
	cachePath  string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu    sync.RWMutex
	index domain.PostcodeIndex
	group singleflight.Group
}

// NewStore creates an empty Store. Nothing is loaded until Load or Resolve.
func NewStore(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Store {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		client:     resilient.New("postcode-dataset", httpClient, opts.Backoff, logger),
		datasetURL: opts.DatasetURL,
		cachePath:  opts.CachePath,
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
	}
}

// Index returns the loaded index, which is empty until a load succeeds.
func (s *Store) Index() domain.PostcodeIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Load returns the index, loading it on first use. A failed load leaves the
// index empty so the next call tries again.
func (s *Store) Load(ctx context.Context) (domain.PostcodeIndex, error) {
	if idx := s.Index(); len(idx) > 0 {
		return idx, nil
	}

	ch := s.group.DoChan(loadKey, func() (interface{}, error) {
		if idx := s.Index(); len(idx) > 0 {
			return idx, nil
		}
		// Detached so one caller giving up does not fail the others.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		idx, err := s.load(loadCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.index = idx
		s.mu.Unlock()
		s.metrics.PostcodeIndexSize.Set(float64(len(idx)))
		s.logger.Info("postcode index loaded", "postcodes", len(idx), "path", s.cachePath)
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(domain.PostcodeIndex), nil
	}
}

// Resolve turns a validated postcode into a location, loading the index first
// if it is empty. A corrupt or missing cache keeps its own message; other load
// failures report that the index is not loaded.
func (s *Store) Resolve(ctx context.Context, postcode string) (domain.ResolvedLocation, error) {
	idx := s.Index()
	if len(idx) == 0 {
		loaded, err := s.Load(ctx)
		if errors.Is(err, domain.ErrDataCorrupt) || errors.Is(err, domain.ErrDataMissing) {
			return domain.ResolvedLocation{}, err
		}
		if err != nil {
			return domain.ResolvedLocation{}, domain.NewUserError(domain.ErrDataUnavailable, domain.MsgIndexNotLoaded, err)
		}
		idx = loaded
	}
	return idx.Resolve(postcode)
}

// CheckReadiness reports ready once the index holds at least one postcode.
func (s *Store) CheckReadiness(_ context.Context) error {
	if len(s.Index()) == 0 {
		return errors.New("postcode index not loaded")
	}
	return nil
}

func (s *Store) load(ctx context.Context) (domain.PostcodeIndex, error) {
	downloaded := false
	if _, err := os.Stat(s.cachePath); errors.Is(err, fs.ErrNotExist) {
		if err := s.refresh(ctx); err != nil {
			s.metrics.PostcodeLoads.WithLabelValues("download_error").Inc()
			s.logger.Error("postcode dataset download failed", "url", s.datasetURL, "error", err)
			return nil, domain.NewUserError(domain.ErrDataUnavailable, domain.MsgDownloadFailed, err)
		}
		downloaded = true
	}

	idx, err := readCache(s.cachePath)
	if err != nil {
		outcome, kind, msg := classifyReadError(err)
		s.metrics.PostcodeLoads.WithLabelValues(outcome).Inc()
		s.logger.Error("postcode cache read failed", "path", s.cachePath, "error", err)
		return nil, domain.NewUserError(kind, msg, err)
	}

	if downloaded {
		s.metrics.PostcodeLoads.WithLabelValues("downloaded").Inc()
	} else {
		s.metrics.PostcodeLoads.WithLabelValues("cached").Inc()
	}
	return idx, nil
}

// refresh downloads the dataset, filters it, and writes the cache file.
func (s *Store) refresh(ctx context.Context) error {
	resp, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, s.datasetURL, nil)
	})
	if err != nil {
		return fmt.Errorf("download postcode dataset: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read postcode dataset: %w", err)
	}

	idx, err := parseDataset(data)
	if err != nil {
		return err
	}
	s.logger.Info("postcode dataset filtered", "postcodes", len(idx))
	return writeCache(s.cachePath, idx)
}

func readCache(path string) (domain.PostcodeIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx domain.PostcodeIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return idx, nil
}

// writeCache replaces the cache file atomically.
func writeCache(path string, idx domain.PostcodeIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode postcode cache: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".postcodes-*.json")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

func classifyReadError(err error) (outcome string, kind error, msg string) {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "missing", domain.ErrDataMissing, domain.MsgDataMissing
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return "corrupt", domain.ErrDataCorrupt, domain.MsgDataCorrupt
	default:
		return "read_error", domain.ErrDataUnavailable, domain.MsgDataReadFailed
	}
}
