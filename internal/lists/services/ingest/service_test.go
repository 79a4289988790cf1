package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/domain"
	"github.com/haukened/rr-lists/internal/lists/gateways/contentrules"
	"github.com/haukened/rr-lists/internal/lists/gateways/fetch"
	"github.com/haukened/rr-lists/internal/lists/parsers"
	"github.com/haukened/rr-lists/internal/lists/repos/liststore"
	"github.com/haukened/rr-lists/internal/lists/repos/statedb"
)

const (
	trackersURL = "https://lists.example.com/trackers.json"
	manifestURL = "https://lists.example.com/trackers.manifest.json"
	regionsURL  = "https://lists.example.com/regions.json"
)

var trackersPayload = []byte(`[{"domain":"ads.example.com","category":"Advertising"},{"domain":"stats.example.net","category":"Analytics"}]`)

type fetchResponse struct {
	res fetch.Result
	err error
}

// fakeFetcher replays canned responses per URL and records the ETag sent.
type fakeFetcher struct {
	mu          sync.Mutex
	responses   map[string][]fetchResponse
	etagsSeen   []string
	fetchCalls  int
	manifest    domain.IntegritySpec
	manifestErr error
	entered     chan struct{}
	release     chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string][]fetchResponse{}}
}

func (f *fakeFetcher) on(url string, r ...fetchResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = append(f.responses[url], r...)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, etag string) (fetch.Result, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.etagsSeen = append(f.etagsSeen, etag)
	entered, release := f.entered, f.release
	queue := f.responses[url]
	var r fetchResponse
	switch len(queue) {
	case 0:
		r = fetchResponse{err: errors.New("no response configured")}
	case 1:
		r = queue[0]
	default:
		r = queue[0]
		f.responses[url] = queue[1:]
	}
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err := ctx.Err(); err != nil {
		return fetch.Result{}, err
	}
	return r.res, r.err
}

func (f *fakeFetcher) FetchManifest(ctx context.Context, url string) (domain.IntegritySpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.manifest, f.manifestErr
}

func (f *fakeFetcher) calls() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, append([]string(nil), f.etagsSeen...)
}

type fixture struct {
	svc       *Service
	fetcher   *fakeFetcher
	trackers  *liststore.Store[domain.TrackerEntry]
	regions   *liststore.Store[domain.RegionFilter]
	etags     *statedb.MemoryETagCache
	manifests *statedb.MemoryManifestStore
	rulesPath string
}

func newFixture(t *testing.T, withManifest bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	noop := liststore.WithLogger(log.NewNoopLogger())
	fx := &fixture{
		fetcher:   newFakeFetcher(),
		trackers:  liststore.Open[domain.TrackerEntry](filepath.Join(dir, "trackers.json"), parsers.TrackerCodec{}, noop),
		regions:   liststore.Open[domain.RegionFilter](filepath.Join(dir, "regions.json"), parsers.RegionCodec{}, noop),
		etags:     statedb.NewMemoryETagCache(),
		manifests: statedb.NewMemoryManifestStore(),
		rulesPath: filepath.Join(dir, "content-rules.json"),
	}
	src := Source{URL: trackersURL}
	if withManifest {
		src.ManifestURL = manifestURL
	}
	fx.svc = NewService(Options{
		Lists: map[domain.ListKey]List{
			domain.ListTrackers: {Store: fx.trackers, Codec: parsers.TrackerCodec{}, Source: src},
			domain.ListRegions:  {Store: fx.regions, Codec: parsers.RegionCodec{}, Source: Source{URL: regionsURL}},
		},
		Fetcher:     fx.fetcher,
		ETags:       fx.etags,
		Manifests:   fx.manifests,
		Trackers:    fx.trackers,
		RulesPath:   fx.rulesPath,
		Unprotected: []string{"shop.example.org"},
		Logger:      log.NewNoopLogger(),
	})
	return fx
}

func specOf(t *testing.T, payload []byte) domain.IntegritySpec {
	t.Helper()
	c, err := parsers.MeasureTrackers(payload)
	require.NoError(t, err)
	return domain.IntegritySpec{TotalEntries: c.TotalEntries, ErrorRate: c.ErrorRate, ContentHash: c.ContentHash}
}

func TestRefresh_FullDownloadInstallsListAndRules(t *testing.T) {
	fx := newFixture(t, false)
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}})

	res, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	assert.Equal(t, Result{List: domain.ListTrackers, Outcome: Updated, Entries: 2}, res)
	assert.True(t, fx.trackers.HasData())

	etag, ok := fx.etags.ETag(domain.ListTrackers)
	assert.True(t, ok)
	assert.Equal(t, `"v1"`, etag)

	b, err := os.ReadFile(fx.rulesPath)
	require.NoError(t, err)
	doc, err := contentrules.Decode(b)
	require.NoError(t, err)
	require.Len(t, doc, 3)
	assert.Equal(t, []string{"*ads.example.com"}, doc[0].Trigger.UnlessDomain)
	assert.Equal(t, contentrules.ActionIgnorePreviousRules, doc[2].Action.Type)
	assert.Equal(t, []string{"*shop.example.org"}, doc[2].Trigger.IfDomain)
}

func TestRefresh_NotModifiedKeepsState(t *testing.T) {
	fx := newFixture(t, false)
	fx.fetcher.on(trackersURL,
		fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}},
		fetchResponse{res: fetch.Result{NotModified: true, ETag: `"v1"`}},
	)

	_, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	before := fx.trackers.JSON()

	res, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	assert.Equal(t, NotModified, res.Outcome)
	assert.Equal(t, before, fx.trackers.JSON())

	_, seen := fx.fetcher.calls()
	assert.Equal(t, []string{"", `"v1"`}, seen)
}

func TestRefresh_ETagIgnoredWhenStoreEmpty(t *testing.T) {
	fx := newFixture(t, false)
	require.NoError(t, fx.etags.Set(domain.ListTrackers, `"stale"`))
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v2"`}})

	res, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	assert.Equal(t, Updated, res.Outcome)

	_, seen := fx.fetcher.calls()
	assert.Equal(t, []string{""}, seen, "out of sync etag must not be sent")
	etag, _ := fx.etags.ETag(domain.ListTrackers)
	assert.Equal(t, `"v2"`, etag)
}

func TestRefresh_IntegrityMismatchRejectsPayload(t *testing.T) {
	fx := newFixture(t, true)
	spec := specOf(t, trackersPayload)
	spec.TotalEntries++
	fx.fetcher.manifest = spec
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}})

	_, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIntegrityMismatch)
	var ie *domain.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 2, ie.Computed.TotalEntries)

	assert.False(t, fx.trackers.HasData())
	_, ok := fx.etags.ETag(domain.ListTrackers)
	assert.False(t, ok, "etag only stored after success")
	_, ok = fx.manifests.Manifest(domain.ListTrackers)
	assert.False(t, ok)
	_, err = os.Stat(fx.rulesPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRefresh_ManifestShortCircuit(t *testing.T) {
	fx := newFixture(t, true)
	fx.fetcher.manifest = specOf(t, trackersPayload)
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}})

	res, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	assert.Equal(t, Updated, res.Outcome)
	accepted, ok := fx.manifests.Manifest(domain.ListTrackers)
	require.True(t, ok)
	assert.Equal(t, fx.fetcher.manifest, accepted)

	res, err = fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Outcome)
	calls, _ := fx.fetcher.calls()
	assert.Equal(t, 1, calls, "payload download skipped")
}

func TestRefresh_SchemaErrorIsNotRetried(t *testing.T) {
	fx := newFixture(t, false)
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: []byte(`[{"domain":1}]`), ETag: `"bad"`}})

	_, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	calls, _ := fx.fetcher.calls()
	assert.Equal(t, 1, calls)
	_, ok := fx.etags.ETag(domain.ListTrackers)
	assert.False(t, ok)
}

func TestRefresh_CorruptPayloadIsRefetched(t *testing.T) {
	fx := newFixture(t, false)
	fx.fetcher.on(trackersURL,
		fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}},
		fetchResponse{res: fetch.Result{Data: []byte(`[{"domain":"trunc`), ETag: `"v2"`}},
		fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v2"`}},
	)
	_, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)

	res, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	assert.Equal(t, Updated, res.Outcome)
	_, seen := fx.fetcher.calls()
	assert.Equal(t, []string{"", `"v1"`, ""}, seen)
}

func TestRefresh_TransportErrorKeepsListAndETag(t *testing.T) {
	fx := newFixture(t, false)
	boom := errors.New("network unreachable")
	fx.fetcher.on(trackersURL,
		fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}},
		fetchResponse{err: boom},
	)
	_, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	before := fx.trackers.JSON()

	_, err = fx.svc.Refresh(context.Background(), domain.ListTrackers)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, fx.trackers.JSON())
	etag, _ := fx.etags.ETag(domain.ListTrackers)
	assert.Equal(t, `"v1"`, etag)
}

func TestRefresh_ManifestFetchError(t *testing.T) {
	fx := newFixture(t, true)
	fx.fetcher.manifestErr = errors.New("manifest down")
	_, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	assert.ErrorContains(t, err, "manifest down")
	calls, _ := fx.fetcher.calls()
	assert.Zero(t, calls)
}

func TestRefresh_UnknownAndUnconfiguredLists(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.svc.Refresh(context.Background(), domain.ListAttribution)
	assert.ErrorContains(t, err, "unknown list")

	svc := NewService(Options{
		Lists:   map[domain.ListKey]List{domain.ListRegions: {Store: fx.regions, Codec: parsers.RegionCodec{}}},
		Fetcher: fx.fetcher,
		Logger:  log.NewNoopLogger(),
	})
	res, err := svc.Refresh(context.Background(), domain.ListRegions)
	require.NoError(t, err)
	assert.Equal(t, Skipped, res.Outcome)
}

func TestRefresh_ConcurrentCallsAreCoalesced(t *testing.T) {
	fx := newFixture(t, false)
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}})
	fx.fetcher.entered = make(chan struct{}, 8)
	fx.fetcher.release = make(chan struct{})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fx.svc.Refresh(context.Background(), domain.ListTrackers)
		}(i)
	}

	<-fx.fetcher.entered
	time.Sleep(100 * time.Millisecond)
	close(fx.fetcher.release)
	wg.Wait()

	calls, _ := fx.fetcher.calls()
	assert.Equal(t, 1, calls)
	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, Updated, results[i].Outcome)
	}
}

func TestRefresh_CancelledCallerDoesNotFailJoiners(t *testing.T) {
	fx := newFixture(t, false)
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}})
	fx.fetcher.entered = make(chan struct{}, 8)
	fx.fetcher.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := fx.svc.Refresh(ctx, domain.ListTrackers)
		firstErr <- err
	}()
	<-fx.fetcher.entered

	type outcome struct {
		res Result
		err error
	}
	joined := make(chan outcome, 1)
	go func() {
		res, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
		joined <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(fx.fetcher.release)
	got := <-joined
	require.NoError(t, got.err)
	assert.Equal(t, Updated, got.res.Outcome)
	assert.True(t, fx.trackers.HasData())

	fx.svc.Wait()
	calls, _ := fx.fetcher.calls()
	assert.Equal(t, 1, calls)
}

func TestRefreshAll_CombinesErrors(t *testing.T) {
	fx := newFixture(t, false)
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: trackersPayload}})
	fx.fetcher.on(regionsURL, fetchResponse{res: fetch.Result{Data: []byte(`[{"us-en":"United States"},{}]`)}})

	results, err := fx.svc.RefreshAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	require.Len(t, results, 1)
	assert.Equal(t, domain.ListTrackers, results[0].List)
	assert.False(t, fx.regions.HasData(), "malformed region entry aborts the whole list")

	_, ok := fx.etags.ETag(domain.ListTrackers)
	assert.False(t, ok, "empty server etag is not stored")
}

func TestIngest_LocalFileWithManifest(t *testing.T) {
	fx := newFixture(t, false)
	spec := specOf(t, trackersPayload)

	n, err := fx.svc.Ingest(domain.ListTrackers, trackersPayload, &spec)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, ok := fx.manifests.Manifest(domain.ListTrackers)
	assert.True(t, ok)
	assert.Equal(t, spec, got)

	bad := spec
	bad.ContentHash = "deadbeef"
	_, err = fx.svc.Ingest(domain.ListTrackers, []byte(`[]`), &bad)
	assert.ErrorIs(t, err, domain.ErrIntegrityMismatch)
	assert.True(t, fx.trackers.HasData())

	_, err = fx.svc.Ingest(domain.ListTrackers, []byte(`{"bad"`), &spec)
	assert.ErrorIs(t, err, domain.ErrInvalidFormat)
}

func TestIngest_LocalInstallInvalidatesUpstreamState(t *testing.T) {
	fx := newFixture(t, true)
	fx.fetcher.manifest = specOf(t, trackersPayload)
	fx.fetcher.on(trackersURL, fetchResponse{res: fetch.Result{Data: trackersPayload, ETag: `"v1"`}})

	res, err := fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	require.Equal(t, Updated, res.Outcome)

	local := []byte(`[{"domain":"local.example.org"}]`)
	_, err = fx.svc.Ingest(domain.ListTrackers, local, nil)
	require.NoError(t, err)

	_, ok := fx.etags.ETag(domain.ListTrackers)
	assert.False(t, ok, "etag of the upstream payload must be dropped")
	_, ok = fx.manifests.Manifest(domain.ListTrackers)
	assert.False(t, ok, "unverified local list has no accepted manifest")

	// the same upstream manifest no longer short-circuits the download
	res, err = fx.svc.Refresh(context.Background(), domain.ListTrackers)
	require.NoError(t, err)
	assert.Equal(t, Updated, res.Outcome)
	assert.Equal(t, "ads.example.com", fx.trackers.Entries()[0].Domain)

	_, seen := fx.fetcher.calls()
	assert.Equal(t, []string{"", ""}, seen, "second download is unconditional")
	etag, _ := fx.etags.ETag(domain.ListTrackers)
	assert.Equal(t, `"v1"`, etag)
	accepted, ok := fx.manifests.Manifest(domain.ListTrackers)
	assert.True(t, ok)
	assert.Equal(t, fx.fetcher.manifest, accepted)
}

func TestWriteRules(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.svc.Ingest(domain.ListTrackers, trackersPayload, nil)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out", "rules.json")
	n, err := fx.svc.WriteRules(out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	doc, err := contentrules.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, fx.svc.Compile(), doc)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "not-modified", NotModified.String())
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}
