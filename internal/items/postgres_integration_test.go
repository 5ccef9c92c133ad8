package items

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("KBHISTORY_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("KBHISTORY_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	// second pass must be a no-op
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE kb_items`); err != nil {
		t.Fatalf("truncate kb_items: %v", err)
	}

	store := NewPostgresStore(db)
	saved, err := store.SaveItem(ctx, Item{
		ID:        "fact-1",
		Type:      TypeFact,
		Title:     "Boiling point",
		Content:   json.RawMessage(`{"value":100,"unit":"C"}`),
		UpdatedBy: "alice",
	})
	if err != nil {
		t.Fatalf("save item: %v", err)
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be set")
	}

	if _, err := store.SaveItem(ctx, Item{ID: "fact-1", Type: TypeFact, Title: "Boiling point", Content: json.RawMessage(`{"value":212,"unit":"F"}`), UpdatedBy: "bob"}); err != nil {
		t.Fatalf("update item: %v", err)
	}
	got, err := store.GetItem(ctx, "fact-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	var content map[string]any
	if err := json.Unmarshal(got.Content, &content); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if content["unit"] != "F" || got.UpdatedBy != "bob" {
		t.Fatalf("unexpected item after upsert: %+v", got)
	}

	listed, err := store.ListItems(ctx, TypeDecision)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no decisions, got %d", len(listed))
	}

	if err := store.DeleteItem(ctx, "fact-1"); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if _, err := store.GetItem(ctx, "fact-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteItem(ctx, "fact-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}
