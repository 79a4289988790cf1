package liststore

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

	"github.com/haukened/rr-lists/internal/lists/common/fsutil"
	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/domain"
	"github.com/haukened/rr-lists/internal/lists/parsers"
)

var (
	_ Codec[domain.TrackerEntry]     = parsers.TrackerCodec{}
	_ Codec[domain.RegionFilter]     = parsers.RegionCodec{}
	_ Codec[domain.AttributionToken] = parsers.AttributionCodec{}
)

func openTrackers(t *testing.T, path string) *Store[domain.TrackerEntry] {
	t.Helper()
	return Open[domain.TrackerEntry](path, parsers.TrackerCodec{}, WithLogger(log.NewNoopLogger()))
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	s := openTrackers(t, filepath.Join(t.TempDir(), "trackers.json"))
	assert.Equal(t, EmptyJSON, s.JSON())
	assert.False(t, s.HasData())
	assert.Empty(t, s.Entries())
}

func TestOpen_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"domain":`), 0o644))
	s := openTrackers(t, path)
	assert.False(t, s.HasData())
}

func TestOpen_HydratesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"domain":"a.example.com","category":"Social"}]`), 0o644))

	s := openTrackers(t, path)
	assert.True(t, s.HasData())
	assert.Equal(t, []domain.TrackerEntry{{Domain: "a.example.com", Category: domain.CategorySocial}}, s.Entries())
	assert.Equal(t, path, s.Path())
}

func TestPersist_ThenReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackers.json")
	s := openTrackers(t, path)

	n, err := s.Persist([]byte(`[{"domain":"A.example.com","category":"advertising"},{"domain":"b.example.com"}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, s.HasData())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, s.JSON(), string(onDisk), "mirror and file agree")

	reopened := openTrackers(t, path)
	assert.Equal(t, s.Entries(), reopened.Entries())
	assert.Equal(t, s.JSON(), reopened.JSON())
}

func TestPersist_ParseFailureLeavesStateUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackers.json")
	s := openTrackers(t, path)
	_, err := s.Persist([]byte(`[{"domain":"a.example.com"}]`))
	require.NoError(t, err)
	before := s.JSON()
	fileBefore, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = s.Persist([]byte(`[{"domain": 12}]`))
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	_, err = s.Persist([]byte(`garbage`))
	assert.ErrorIs(t, err, domain.ErrInvalidFormat)

	assert.Equal(t, before, s.JSON())
	fileAfter, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fileBefore, fileAfter)
}

func TestPersist_WriteFailureIsPersistenceError(t *testing.T) {
	orig := writeFile
	t.Cleanup(func() { writeFile = orig })
	writeFile = func(string, []byte) error { return errors.New("disk full") }

	s := openTrackers(t, filepath.Join(t.TempDir(), "trackers.json"))
	_, err := s.Persist([]byte(`[{"domain":"a.example.com"}]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	var pe *domain.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "write", pe.Op)
	assert.False(t, s.HasData(), "mirror untouched")
}

func TestPersist_EmptyListClearsData(t *testing.T) {
	s := openTrackers(t, filepath.Join(t.TempDir(), "trackers.json"))
	_, err := s.Persist([]byte(`[{"domain":"a.example.com"}]`))
	require.NoError(t, err)
	require.True(t, s.HasData())

	n, err := s.Persist([]byte(`[]`))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, s.HasData())
	assert.Equal(t, EmptyJSON, s.JSON())
}

func TestEntries_ReturnsCopy(t *testing.T) {
	s := openTrackers(t, filepath.Join(t.TempDir(), "trackers.json"))
	_, err := s.Persist([]byte(`[{"domain":"a.example.com"}]`))
	require.NoError(t, err)

	got := s.Entries()
	got[0].Domain = "mutated.example.com"
	assert.Equal(t, "a.example.com", s.Entries()[0].Domain)
}

func TestOnChange_CalledAfterPersist(t *testing.T) {
	s := openTrackers(t, filepath.Join(t.TempDir(), "trackers.json"))
	var got []domain.TrackerEntry
	s.OnChange(func(e []domain.TrackerEntry) { got = e })

	_, err := s.Persist([]byte(`[{"domain":"x.example.com"}]`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x.example.com", got[0].Domain)

	got = nil
	_, _ = s.Persist([]byte(`nope`))
	assert.Nil(t, got, "no callback on failure")
}

func TestOnChange_OverlappingPersistsDeliverInWriteOrder(t *testing.T) {
	s := openTrackers(t, filepath.Join(t.TempDir(), "trackers.json"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu        sync.Mutex
		delivered []string
		first     = true
	)
	s.OnChange(func(e []domain.TrackerEntry) {
		mu.Lock()
		block := first
		first = false
		mu.Unlock()
		if block {
			close(entered)
			<-release
		}
		mu.Lock()
		delivered = append(delivered, e[0].Domain)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Persist([]byte(`[{"domain":"a.example.com"}]`))
		assert.NoError(t, err)
	}()
	<-entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, err := s.Persist([]byte(`[{"domain":"b.example.com"}]`))
		assert.NoError(t, err)
	}()

	select {
	case <-secondDone:
		t.Fatal("second persist finished while the first callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	<-secondDone

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, delivered)
	assert.Equal(t, "b.example.com", s.Entries()[0].Domain)
}

func TestPersist_ConcurrentReadersSeeWholeStates(t *testing.T) {
	s := openTrackers(t, filepath.Join(t.TempDir(), "trackers.json"))
	payloads := [][]byte{
		[]byte(`[{"domain":"a.example.com"}]`),
		[]byte(`[{"domain":"b.example.com"},{"domain":"c.example.com"}]`),
	}
	valid := map[string]bool{EmptyJSON: true}
	for _, p := range payloads {
		entries, err := parsers.ParseTrackers(p)
		require.NoError(t, err)
		b, err := parsers.EncodeTrackers(entries)
		require.NoError(t, err)
		valid[string(b)] = true
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := s.Persist(payloads[(i+j)%2])
				assert.NoError(t, err)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.True(t, valid[s.JSON()])
			}
		}()
	}
	wg.Wait()
}

func TestWatch_ReloadsExternalReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.json")
	s := Open[domain.RegionFilter](path, parsers.RegionCodec{}, WithLogger(log.NewNoopLogger()))

	changes := make(chan []domain.RegionFilter, 4)
	s.OnChange(func(r []domain.RegionFilter) { changes <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	require.NoError(t, fsutil.WriteFileAtomic(path, []byte(`[{"us-en":"United States"}]`)))

	select {
	case got := <-changes:
		assert.Equal(t, []domain.RegionFilter{{FilterCode: "us-en", DisplayName: "United States"}}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	assert.True(t, s.HasData())
}

func TestWatch_MissingDirectory(t *testing.T) {
	s := openTrackers(t, filepath.Join(t.TempDir(), "missing", "trackers.json"))
	assert.Error(t, s.Watch(context.Background()))
}
