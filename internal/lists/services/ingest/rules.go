package ingest

import (
	"fmt"

	"github.com/haukened/rr-lists/internal/lists/common/fsutil"
	"github.com/haukened/rr-lists/internal/lists/domain"
	"github.com/haukened/rr-lists/internal/lists/gateways/contentrules"
)

// Compile builds the rule document for the current tracker list.
func (s *Service) Compile() contentrules.Document {
	var entries []domain.TrackerEntry
	if s.trackers != nil {
		entries = s.trackers.Entries()
	}
	return s.compile(entries)
}

// WriteRules compiles the current tracker list and atomically writes the
// encoded document to path. An encoding failure leaves any installed
// document in place.
func (s *Service) WriteRules(path string) (int, error) {
	doc := s.Compile()
	if err := writeDocument(path, doc); err != nil {
		return 0, err
	}
	return len(doc), nil
}

func (s *Service) compile(entries []domain.TrackerEntry) contentrules.Document {
	return contentrules.CompileWithExceptions(contentrules.FromTrackers(entries), s.unprotected)
}

func (s *Service) onTrackersChanged(entries []domain.TrackerEntry) {
	doc := s.compile(entries)
	if err := writeDocument(s.rulesPath, doc); err != nil {
		s.logger.Error(map[string]any{"path": s.rulesPath, "error": err}, "failed to install content rules")
		return
	}
	s.logger.Info(map[string]any{"path": s.rulesPath, "rules": len(doc)}, "content rules installed")
}

func writeDocument(path string, doc contentrules.Document) error {
	b, err := contentrules.Encode(doc)
	if err != nil {
		return fmt.Errorf("compile content rules: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, b); err != nil {
		return &domain.PersistenceError{Path: path, Op: "write", Cause: err}
	}
	return nil
}
