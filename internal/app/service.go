package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"kbhistory/internal/activity"
	"kbhistory/internal/archive"
	"kbhistory/internal/auth"
	"kbhistory/internal/config"
	"kbhistory/internal/items"
	"kbhistory/internal/rbac"
	"kbhistory/internal/search"
	"kbhistory/internal/versioning"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      rbac.Role
	JTI       string
	ExpiresAt time.Time
}

type SaveItemInput struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	Message string          `json:"message"`
}

type SaveItemResult struct {
	Item    items.Item         `json:"item"`
	Version versioning.Version `json:"version"`
	Skipped bool               `json:"skipped"`
}

type RevertResult struct {
	Item         items.Item         `json:"item"`
	Version      versioning.Version `json:"version"`
	RestoredFrom string             `json:"restoredFrom"`
}

type CleanupResult struct {
	KeepLast int `json:"keepLast"`
	Removed  int `json:"removed"`
}

type itemStore interface {
	ListItems(context.Context, string) ([]items.Item, error)
	GetItem(context.Context, string) (items.Item, error)
	SaveItem(context.Context, items.Item) (items.Item, error)
	DeleteItem(context.Context, string) error
	Ping(context.Context) error
}

type versionStore interface {
	CreateVersion(itemID, itemType string, content any, opts versioning.CreateOptions) (versioning.CreateResult, error)
	GetVersions(itemID string) []versioning.Version
	Items() []string
	GetVersion(versionID string) (versioning.Snapshot, error)
	CompareVersions(fromID, toID string) (versioning.Comparison, error)
	RestoreVersion(versionID string) (versioning.Restored, error)
	GetStats() versioning.Stats
	Cleanup(keepLast int) int
}

type activityFeed interface {
	Record(context.Context, activity.Event) error
	Recent(context.Context, int) ([]activity.Event, error)
}

type versionSearcher interface {
	Search(search.Query) search.Response
	IndexVersion(versioning.Version)
	Forget([]string)
}

type snapshotArchiver interface {
	Run(context.Context) (archive.Result, error)
	Runs(context.Context) ([]string, error)
	Fetch(ctx context.Context, run, versionID string) (versioning.Snapshot, error)
}

type Service struct {
	cfg      config.Config
	items    itemStore
	versions versionStore
	activity activityFeed
	search   versionSearcher
	archive  snapshotArchiver
}

func New(cfg config.Config, itemStore *items.PostgresStore, versions *versioning.Store) *Service {
	return &Service{
		cfg:      cfg,
		items:    itemStore,
		versions: versions,
	}
}

func (s *Service) SetActivityFeed(feed *activity.RedisFeed) {
	if feed != nil {
		s.activity = feed
	}
}

func (s *Service) SetSearch(svc *search.Service) {
	if svc != nil {
		s.search = svc
	}
}

func (s *Service) SetArchiver(a *archive.Archiver) {
	if a != nil {
		s.archive = a
	}
}

// Ping verifies the item database is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.items.Ping(ctx)
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      rbac.Normalize(claims.Role),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) ListItems(ctx context.Context, itemType string) ([]items.Item, error) {
	if itemType != "" && !items.ValidType(itemType) {
		return nil, invalidItemType(itemType)
	}
	return s.items.ListItems(ctx, itemType)
}

func (s *Service) GetItem(ctx context.Context, itemID string) (items.Item, error) {
	return s.items.GetItem(ctx, itemID)
}

// SaveItem writes the live item and then snapshots its content. A save whose
// content matches the newest version reports Skipped.
func (s *Service) SaveItem(ctx context.Context, session Session, itemID string, input SaveItemInput) (SaveItemResult, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return SaveItemResult{}, versioning.ErrInvalidItemID
	}
	if !items.ValidType(input.Type) {
		return SaveItemResult{}, invalidItemType(input.Type)
	}
	fields, err := decodeContent(input.Content)
	if err != nil {
		return SaveItemResult{}, err
	}
	return s.saveAndVersion(ctx, session, itemID, input.Type, fields, input.Message)
}

func (s *Service) saveAndVersion(ctx context.Context, session Session, itemID, itemType string, fields map[string]any, message string) (SaveItemResult, error) {
	content, err := json.Marshal(fields)
	if err != nil {
		return SaveItemResult{}, fmt.Errorf("encode item content: %w", err)
	}
	saved, err := s.items.SaveItem(ctx, items.Item{
		ID:        itemID,
		Type:      itemType,
		Title:     titleOf(fields),
		Content:   content,
		UpdatedBy: session.UserName,
	})
	if err != nil {
		return SaveItemResult{}, err
	}

	created, err := s.versions.CreateVersion(itemID, itemType, fields, versioning.CreateOptions{
		CreatedBy: session.UserName,
		Message:   message,
	})
	if err != nil {
		return SaveItemResult{}, err
	}

	if created.Skipped {
		s.record(ctx, activity.Event{Type: activity.EventVersionSkipped, ItemID: itemID, VersionID: created.Version.ID, Actor: session.UserName})
	} else {
		s.record(ctx, activity.Event{Type: activity.EventVersionCreated, ItemID: itemID, VersionID: created.Version.ID, Actor: session.UserName})
		if s.search != nil {
			s.search.IndexVersion(created.Version)
			s.search.Forget(created.Trimmed)
		}
	}
	return SaveItemResult{Item: saved, Version: created.Version, Skipped: created.Skipped}, nil
}

// DeleteItem removes the live item. Its history stays in the version store.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	return s.items.DeleteItem(ctx, itemID)
}

func (s *Service) ListVersions(itemID string) []versioning.Version {
	return s.versions.GetVersions(itemID)
}

func (s *Service) GetVersion(versionID string) (versioning.Snapshot, error) {
	return s.versions.GetVersion(versionID)
}

func (s *Service) CompareVersions(fromID, toID string) (versioning.Comparison, error) {
	if fromID == "" || toID == "" {
		return versioning.Comparison{}, badRequest("MISSING_VERSION_IDS", "Both from and to version ids are required")
	}
	return s.versions.CompareVersions(fromID, toID)
}

// RestoreVersion returns the stored content of a version without touching the
// live item.
func (s *Service) RestoreVersion(ctx context.Context, session Session, versionID string) (versioning.Restored, error) {
	restored, err := s.versions.RestoreVersion(versionID)
	if err != nil {
		return versioning.Restored{}, err
	}
	s.record(ctx, activity.Event{Type: activity.EventVersionRestored, ItemID: restored.ItemID, VersionID: versionID, Actor: session.UserName})
	return restored, nil
}

// RevertItem writes a version's content back to the live item and records the
// write as a new version.
func (s *Service) RevertItem(ctx context.Context, session Session, itemID, versionID string) (RevertResult, error) {
	if versionID == "" {
		return RevertResult{}, badRequest("MISSING_VERSION_ID", "versionId is required")
	}
	restored, err := s.versions.RestoreVersion(versionID)
	if err != nil {
		return RevertResult{}, err
	}
	if restored.ItemID != itemID {
		return RevertResult{}, domainError(http.StatusConflict, "VERSION_ITEM_MISMATCH", "Version belongs to another item", map[string]any{
			"versionItemId": restored.ItemID,
		})
	}
	fields, ok := restored.Content.(map[string]any)
	if !ok {
		return RevertResult{}, domainError(http.StatusUnprocessableEntity, "UNRESTORABLE_CONTENT", "Version content is not an object", nil)
	}

	saved, err := s.saveAndVersion(ctx, session, itemID, restored.ItemType, fields, "Restored from "+restored.RestoredFrom)
	if err != nil {
		return RevertResult{}, err
	}
	s.record(ctx, activity.Event{
		Type:      activity.EventItemReverted,
		ItemID:    itemID,
		VersionID: saved.Version.ID,
		Actor:     session.UserName,
		Details:   map[string]any{"restoredFrom": restored.RestoredFrom},
	})
	return RevertResult{Item: saved.Item, Version: saved.Version, RestoredFrom: restored.RestoredFrom}, nil
}

func (s *Service) Stats() versioning.Stats {
	return s.versions.GetStats()
}

// Cleanup trims every item's history to keepLast versions; nil means the
// default.
func (s *Service) Cleanup(ctx context.Context, session Session, keepLast *int) CleanupResult {
	keep := versioning.DefaultKeepLast
	if keepLast != nil {
		keep = *keepLast
	}

	before := s.versionIDs()
	removed := s.versions.Cleanup(keep)
	if s.search != nil {
		after := s.versionIDs()
		var dropped []string
		for id := range before {
			if _, ok := after[id]; !ok {
				dropped = append(dropped, id)
			}
		}
		s.search.Forget(dropped)
	}

	s.record(ctx, activity.Event{
		Type:    activity.EventVersionsCleaned,
		Actor:   session.UserName,
		Details: map[string]any{"keepLast": keep, "removed": removed},
	})
	return CleanupResult{KeepLast: keep, Removed: removed}
}

func (s *Service) versionIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, itemID := range s.versions.Items() {
		for _, v := range s.versions.GetVersions(itemID) {
			ids[v.ID] = struct{}{}
		}
	}
	return ids
}

func (s *Service) SearchVersions(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, unavailable("SEARCH_UNAVAILABLE", "Search")
	}
	if q.ItemType != "" && !items.ValidType(q.ItemType) {
		return search.Response{}, invalidItemType(q.ItemType)
	}
	return s.search.Search(q), nil
}

func (s *Service) Archive(ctx context.Context, session Session) (archive.Result, error) {
	if s.archive == nil {
		return archive.Result{}, unavailable("ARCHIVE_UNAVAILABLE", "Archive storage")
	}
	result, err := s.archive.Run(ctx)
	if err != nil {
		return archive.Result{}, fmt.Errorf("archive versions: %w", err)
	}
	s.record(ctx, activity.Event{
		Type:    activity.EventVersionsArchived,
		Actor:   session.UserName,
		Details: map[string]any{"prefix": result.Prefix, "objects": result.Objects, "bytes": result.Bytes},
	})
	return result, nil
}

// ArchiveRuns lists archive run stamps, newest first.
func (s *Service) ArchiveRuns(ctx context.Context) ([]string, error) {
	if s.archive == nil {
		return nil, unavailable("ARCHIVE_UNAVAILABLE", "Archive storage")
	}
	return s.archive.Runs(ctx)
}

// ArchivedVersion reads a snapshot from an archive run. It may return
// versions that retention has already removed locally.
func (s *Service) ArchivedVersion(ctx context.Context, run, versionID string) (versioning.Snapshot, error) {
	if s.archive == nil {
		return versioning.Snapshot{}, unavailable("ARCHIVE_UNAVAILABLE", "Archive storage")
	}
	return s.archive.Fetch(ctx, run, versionID)
}

func (s *Service) Activity(ctx context.Context, limit int) ([]activity.Event, error) {
	if s.activity == nil {
		return []activity.Event{}, nil
	}
	return s.activity.Recent(ctx, limit)
}

// record appends to the activity feed; failures are logged and swallowed.
func (s *Service) record(ctx context.Context, event activity.Event) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, event); err != nil {
		log.Printf("activity: record %s for %s: %v", event.Type, event.ItemID, err)
	}
}

// decodeContent parses item content as a JSON object, keeping numbers exact.
func decodeContent(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, badRequest("INVALID_CONTENT", "Content must be valid JSON")
	}
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, badRequest("INVALID_CONTENT", "Content must be a JSON object")
	}
	return fields, nil
}

func titleOf(fields map[string]any) string {
	title, _ := fields["title"].(string)
	return title
}

func invalidItemType(itemType string) error {
	return domainError(http.StatusBadRequest, "INVALID_ITEM_TYPE", "Item type must be fact, decision or document", map[string]any{
		"type": itemType,
	})
}
