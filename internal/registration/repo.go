package registration

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps embeddings in a pgvector column and photos as bytea rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a repo.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UserExists reports whether the users table has userID.
func (r *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

// SaveRegistration upserts the embedding, appends img and drops all but the newest keep photos in one transaction.
func (r *PostgresStore) SaveRegistration(ctx context.Context, userID string, embedding []float32, img Image, keep int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO face_embeddings (user_id, embedding, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at
	`, userID, pgvector.NewVector(embedding), img.Timestamp); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO registration_images (user_id, data, url, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, userID, img.Data, img.URL, img.Timestamp); err != nil {
		return fmt.Errorf("insert image: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM registration_images
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM registration_images
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`, userID, keep); err != nil {
		return fmt.Errorf("trim images: %w", err)
	}
	return tx.Commit()
}

// ListImages returns the user's photos, newest first.
func (r *PostgresStore) ListImages(ctx context.Context, userID string) ([]Image, bool, error) {
	exists, err := r.UserExists(ctx, userID)
	if err != nil || !exists {
		return nil, false, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT data, COALESCE(url, ''), created_at
		FROM registration_images
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, true, err
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.Data, &img.URL, &img.Timestamp); err != nil {
			return nil, true, err
		}
		images = append(images, img)
	}
	return images, true, rows.Err()
}

// Embeddings loads every stored embedding keyed by user id.
func (r *PostgresStore) Embeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, embedding FROM face_embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var (
			userID string
			vec    pgvector.Vector
		)
		if err := rows.Scan(&userID, &vec); err != nil {
			return nil, err
		}
		out[userID] = vec.Slice()
	}
	return out, rows.Err()
}
