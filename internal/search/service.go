package search

import (
	"log"

	"kbhistory/internal/versioning"
)

// Service tries Meilisearch first and falls back to scanning the store.
type Service struct {
	meili    *Meili
	fallback *Fallback
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to index scan: %v", err)
	}

	if !s.fallback.Healthy() {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: index scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "index"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "index"}
}

// IndexVersion pushes a new version to Meilisearch (fire-and-forget).
func (s *Service) IndexVersion(v versioning.Version) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromVersion(v)
	go func() {
		if err := s.meili.IndexVersions([]Record{record}); err != nil {
			log.Printf("search: index version %s: %v", record.ID, err)
		}
	}()
}

// Reindex pushes every version in source to Meilisearch.
func (s *Service) Reindex(source VersionSource) {
	if s.meili == nil || !s.meili.Healthy() || source == nil {
		return
	}
	var records []Record
	for _, itemID := range source.Items() {
		for _, v := range source.GetVersions(itemID) {
			records = append(records, RecordFromVersion(v))
		}
	}
	if err := s.meili.IndexVersions(records); err != nil {
		log.Printf("search: reindex versions: %v", err)
	}
}

// Forget removes versions dropped by retention from Meilisearch.
func (s *Service) Forget(ids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteVersion(id); err != nil {
				log.Printf("search: delete version %s: %v", id, err)
			}
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
