package ingest

import (
	"context"

	"github.com/haukened/rr-lists/internal/lists/domain"
	"github.com/haukened/rr-lists/internal/lists/gateways/fetch"
)

// Fetcher downloads list payloads and integrity manifests.
type Fetcher interface {
	Fetch(ctx context.Context, url, etag string) (fetch.Result, error)
	FetchManifest(ctx context.Context, url string) (domain.IntegritySpec, error)
}

// ListStore is the type-independent part of a list store the pipeline drives.
type ListStore interface {
	Persist(data []byte) (int, error)
	HasData() bool
}

// Measurer derives the integrity spec of a raw payload.
type Measurer interface {
	Measure(payload []byte) (domain.ComputedSpec, error)
}

// TrackerStore is the tracker list store; compiled rules follow its content.
type TrackerStore interface {
	Entries() []domain.TrackerEntry
	OnChange(fn func([]domain.TrackerEntry))
}

// Source locates a list upstream. ManifestURL is optional.
type Source struct {
	URL         string
	ManifestURL string
}

// List binds a list key to its store, codec and upstream.
type List struct {
	Store  ListStore
	Codec  Measurer
	Source Source
}
