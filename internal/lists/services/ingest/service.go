// Package ingest runs the list pipeline: conditional fetch, integrity check,
// parse and atomic persist, ETag bookkeeping and rule compilation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/domain"
	"github.com/haukened/rr-lists/internal/lists/repos/statedb"
)

// Error message constants for consistent error handling
const (
	errUnknownList   = "unknown list %q"
	errFetchManifest = "fetch %s manifest: %w"
	errFetchList     = "fetch %s list: %w"
	errIngestList    = "ingest %s list: %w"
)

// maxFetchAttempts bounds re-downloads of a payload that arrived corrupt.
const maxFetchAttempts = 2

// Outcome describes what a refresh did.
type Outcome uint8

const (
	// Updated: a new payload was verified and persisted.
	Updated Outcome = iota
	// NotModified: the server answered 304 for the cached ETag.
	NotModified
	// Unchanged: the manifest matched the last accepted one, download skipped.
	Unchanged
	// Skipped: the list has no upstream URL configured.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case NotModified:
		return "not-modified"
	case Unchanged:
		return "unchanged"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

// Result reports one list refresh.
type Result struct {
	List    domain.ListKey
	Outcome Outcome
	Entries int
}

// Options configures a Service.
type Options struct {
	Lists     map[domain.ListKey]List
	Fetcher   Fetcher
	ETags     statedb.ETagCache
	Manifests statedb.ManifestStore
	// Trackers, when set, has its rules compiled to RulesPath on every change.
	Trackers    TrackerStore
	RulesPath   string
	Unprotected []string
	Logger      log.Logger
}

// Service is the ingestion pipeline.
type Service struct {
	lists       map[domain.ListKey]List
	fetcher     Fetcher
	etags       statedb.ETagCache
	manifests   statedb.ManifestStore
	trackers    TrackerStore
	rulesPath   string
	unprotected []string
	logger      log.Logger
	group       singleflight.Group
	inflight    sync.WaitGroup
}

// NewService creates a Service. Missing ETag or manifest stores default to
// in-memory ones.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	if opts.ETags == nil {
		opts.ETags = statedb.NewMemoryETagCache()
	}
	if opts.Manifests == nil {
		opts.Manifests = statedb.NewMemoryManifestStore()
	}
	s := &Service{
		lists:       opts.Lists,
		fetcher:     opts.Fetcher,
		etags:       opts.ETags,
		manifests:   opts.Manifests,
		trackers:    opts.Trackers,
		rulesPath:   opts.RulesPath,
		unprotected: opts.Unprotected,
		logger:      log.With(opts.Logger, map[string]any{"component": "ingest"}),
	}
	if s.trackers != nil && s.rulesPath != "" {
		s.trackers.OnChange(s.onTrackersChanged)
	}
	return s
}

// Refresh fetches list key if it changed upstream and installs it.
// Concurrent refreshes of the same key share one execution. The shared work
// does not stop when the caller that started it goes away; each caller
// returns early on its own cancellation. On any error the previously stored
// list and its ETag are kept.
func (s *Service) Refresh(ctx context.Context, key domain.ListKey) (Result, error) {
	s.inflight.Add(1)
	ch := s.group.DoChan(key.String(), func() (any, error) {
		work, cancel := detach(ctx)
		defer cancel()
		return s.refresh(work, key)
	})
	select {
	case r := <-ch:
		s.inflight.Done()
		if r.Shared {
			s.logger.Debug(map[string]any{"list": key.String()}, "joined in-flight refresh")
		}
		res, _ := r.Val.(Result)
		return res, r.Err
	case <-ctx.Done():
		go func() {
			<-ch
			s.inflight.Done()
		}()
		return Result{List: key}, ctx.Err()
	}
}

// Wait blocks until no refresh is running.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// detach returns a context that keeps ctx's values and deadline but is not
// cancelled with it.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	work := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(work, deadline)
	}
	return context.WithCancel(work)
}

// RefreshAll refreshes every configured list in a stable order and combines
// their errors.
func (s *Service) RefreshAll(ctx context.Context) ([]Result, error) {
	var (
		results []Result
		errs    error
	)
	for _, key := range domain.AllLists {
		if _, ok := s.lists[key]; !ok {
			continue
		}
		res, err := s.Refresh(ctx, key)
		if err != nil {
			s.logger.Warn(map[string]any{"list": key.String(), "error": err}, "list refresh failed, keeping current data")
			errs = multierr.Append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// Ingest installs a payload that did not come from the upstream, e.g. a local
// file. It verifies data against manifest (when non-nil) and persists it. The
// cached ETag is dropped so the next refresh downloads in full, and the
// accepted manifest becomes manifest, or none. It returns the number of
// stored entries.
func (s *Service) Ingest(key domain.ListKey, data []byte, manifest *domain.IntegritySpec) (int, error) {
	l, ok := s.lists[key]
	if !ok {
		return 0, fmt.Errorf(errUnknownList, key)
	}
	n, err := s.install(key, l, data, manifest)
	if err != nil {
		return 0, err
	}
	if err := s.etags.Set(key, ""); err != nil {
		s.logger.Warn(map[string]any{"list": key.String(), "error": err}, "failed to clear etag")
	}
	s.recordManifest(key, manifest)
	return n, nil
}

// install verifies and persists data without touching ETag or manifest state.
func (s *Service) install(key domain.ListKey, l List, data []byte, manifest *domain.IntegritySpec) (int, error) {
	if manifest != nil {
		computed, err := l.Codec.Measure(data)
		if err != nil {
			return 0, fmt.Errorf(errIngestList, key, err)
		}
		if !domain.Verify(computed, *manifest) {
			return 0, &domain.IntegrityError{List: key, Expected: *manifest, Computed: computed}
		}
	} else {
		s.logger.Warn(map[string]any{"list": key.String()}, "no integrity manifest, accepting list unverified")
	}

	n, err := l.Store.Persist(data)
	if err != nil {
		return 0, fmt.Errorf(errIngestList, key, err)
	}
	s.logger.Info(map[string]any{"list": key.String(), "entries": n}, "list installed")
	return n, nil
}

// recordManifest stores manifest as the accepted one for key, or forgets the
// accepted manifest when the installed list was not verified.
func (s *Service) recordManifest(key domain.ListKey, manifest *domain.IntegritySpec) {
	var err error
	if manifest != nil {
		err = s.manifests.SaveManifest(key, *manifest)
	} else {
		err = s.manifests.DeleteManifest(key)
	}
	if err != nil {
		s.logger.Warn(map[string]any{"list": key.String(), "error": err}, "failed to record accepted manifest")
	}
}

func (s *Service) refresh(ctx context.Context, key domain.ListKey) (Result, error) {
	res := Result{List: key}
	l, ok := s.lists[key]
	if !ok {
		return res, fmt.Errorf(errUnknownList, key)
	}
	if l.Source.URL == "" {
		res.Outcome = Skipped
		return res, nil
	}
	fields := map[string]any{"list": key.String()}

	var manifest *domain.IntegritySpec
	if l.Source.ManifestURL != "" {
		spec, err := s.fetcher.FetchManifest(ctx, l.Source.ManifestURL)
		if err != nil {
			return res, fmt.Errorf(errFetchManifest, key, err)
		}
		if prev, ok := s.manifests.Manifest(key); ok && prev == spec && l.Store.HasData() {
			s.logger.Debug(fields, "manifest unchanged, skipping download")
			res.Outcome = Unchanged
			return res, nil
		}
		manifest = &spec
	}

	etag, _ := s.etags.ETag(key)
	if etag != "" && !l.Store.HasData() {
		s.logger.Warn(fields, "etag present but store is empty, forcing full download")
		etag = ""
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		fetched, err := s.fetcher.Fetch(ctx, l.Source.URL, etag)
		if err != nil {
			return res, fmt.Errorf(errFetchList, key, err)
		}
		if fetched.NotModified {
			res.Outcome = NotModified
			return res, nil
		}

		n, err := s.install(key, l, fetched.Data, manifest)
		if err == nil {
			// Validators are only recorded once the list is safely stored.
			if err := s.etags.Set(key, fetched.ETag); err != nil {
				s.logger.Warn(map[string]any{"list": key.String(), "error": err}, "failed to store etag")
			}
			s.recordManifest(key, manifest)
			res.Outcome = Updated
			res.Entries = n
			return res, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || errors.Is(err, context.Canceled) {
			break
		}
		s.logger.Warn(map[string]any{"list": key.String(), "attempt": attempt + 1, "error": err}, "corrupt payload, re-fetching")
		etag = ""
	}
	return res, lastErr
}
