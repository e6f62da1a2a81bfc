package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/store"
)

func marshalMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *DB) UpsertProductVectors(ctx context.Context, vectors []*store.ProductVector) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `INSERT INTO product_vector (id, embedding, metadata, model, updated_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			model = EXCLUDED.model,
			updated_ts = EXCLUDED.updated_ts`

	now := nowMillis()
	for _, v := range vectors {
		metadata, err := marshalMetadata(v.Metadata)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal metadata of %s", v.ID)
		}
		if _, err := tx.ExecContext(ctx, stmt, v.ID, pgvector.NewVector(v.Embedding), metadata, v.Model, now); err != nil {
			return errors.Wrapf(err, "failed to upsert product vector %s", v.ID)
		}
		v.UpdatedTs = now
	}
	return tx.Commit()
}

func (d *DB) ListProductVectors(ctx context.Context, find *store.FindProductVector) ([]*store.ProductVector, error) {
	query := `SELECT id, embedding, metadata::text, model, updated_ts FROM product_vector`
	args := []any{}
	if len(find.IDs) > 0 {
		query += ` WHERE id = ANY(` + placeholder(1) + `)`
		args = append(args, pq.Array(find.IDs))
	}
	query += ` ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list product vectors")
	}
	defer rows.Close()

	list := []*store.ProductVector{}
	for rows.Next() {
		var (
			v        store.ProductVector
			vector   pgvector.Vector
			metadata string
		)
		if err := rows.Scan(&v.ID, &vector, &metadata, &v.Model, &v.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan product vector")
		}
		v.Embedding = vector.Slice()
		if err := json.Unmarshal([]byte(metadata), &v.Metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal metadata of %s", v.ID)
		}
		list = append(list, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteProductVectors(ctx context.Context, delete *store.DeleteProductVector) (int, error) {
	where, args := []string{}, []any{}
	if len(delete.IDs) > 0 {
		where, args = append(where, "id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(delete.IDs))
	}
	if len(delete.Filter) > 0 {
		filter, err := json.Marshal(delete.Filter)
		if err != nil {
			return 0, errors.Wrap(err, "failed to marshal filter")
		}
		where, args = append(where, "metadata @> "+placeholder(len(args)+1)+"::jsonb"), append(args, string(filter))
	}
	if len(where) == 0 {
		return 0, nil
	}

	result, err := d.db.ExecContext(ctx, `DELETE FROM product_vector WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete product vectors")
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// ProductVectorSearch ranks by pgvector cosine distance; score is 1 - distance.
func (d *DB) ProductVectorSearch(ctx context.Context, opts *store.ProductVectorSearchOptions) ([]*store.ProductVectorWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vector := pgvector.NewVector(opts.Vector)
	where, args := []string{"1 = 1"}, []any{vector}
	if len(opts.Filter) > 0 {
		filter, err := json.Marshal(opts.Filter)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal filter")
		}
		where, args = append(where, "metadata @> "+placeholder(len(args)+1)+"::jsonb"), append(args, string(filter))
	}
	args = append(args, limit)

	query := `SELECT id, embedding, metadata::text, model, updated_ts,
			1 - (embedding <=> ` + placeholder(1) + `) AS score
		FROM product_vector
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> ` + placeholder(1) + `
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.ProductVectorWithScore{}
	for rows.Next() {
		var (
			v        store.ProductVector
			embed    pgvector.Vector
			metadata string
			score    float32
		)
		if err := rows.Scan(&v.ID, &embed, &metadata, &v.Model, &v.UpdatedTs, &score); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		v.Embedding = embed.Slice()
		if err := json.Unmarshal([]byte(metadata), &v.Metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal metadata of %s", v.ID)
		}
		results = append(results, &store.ProductVectorWithScore{Vector: &v, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
