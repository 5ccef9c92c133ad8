package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ListItems returns items ordered by most recent update. An empty itemType
// lists every type.
func (s *PostgresStore) ListItems(ctx context.Context, itemType string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_type, title, content, updated_by, updated_at
		FROM kb_items
		WHERE $1 = '' OR item_type = $1
		ORDER BY updated_at DESC, id
	`, itemType)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	result := make([]Item, 0)
	for rows.Next() {
		var item Item
		var content []byte
		if err := rows.Scan(&item.ID, &item.Type, &item.Title, &content, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Content = content
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	var item Item
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, item_type, title, content, updated_by, updated_at
		FROM kb_items
		WHERE id=$1
	`, itemID).Scan(&item.ID, &item.Type, &item.Title, &content, &item.UpdatedBy, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	item.Content = content
	return item, nil
}

// SaveItem upserts the item and returns the stored row.
func (s *PostgresStore) SaveItem(ctx context.Context, item Item) (Item, error) {
	var saved Item
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kb_items (id, item_type, title, content, updated_by)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (id) DO UPDATE
		SET item_type=EXCLUDED.item_type, title=EXCLUDED.title, content=EXCLUDED.content,
			updated_by=EXCLUDED.updated_by, updated_at=NOW()
		RETURNING id, item_type, title, content, updated_by, updated_at
	`, item.ID, item.Type, item.Title, string(item.Content), item.UpdatedBy).Scan(
		&saved.ID, &saved.Type, &saved.Title, &content, &saved.UpdatedBy, &saved.UpdatedAt,
	)
	if err != nil {
		return Item{}, fmt.Errorf("save item: %w", err)
	}
	saved.Content = content
	return saved, nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM kb_items WHERE id=$1`, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
