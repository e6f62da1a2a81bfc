package sqlite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/store"
)

// Vectors are stored as little-endian float32 BLOBs.
func float32ArrayToBLOB(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid vector blob length %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4]))
	}
	return vec, nil
}

func (d *DB) UpsertProductVectors(ctx context.Context, vectors []*store.ProductVector) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO product_vector (id, embedding, metadata, model, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			model = excluded.model,
			updated_ts = excluded.updated_ts`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare product vector upsert")
	}
	defer stmt.Close()

	now := nowMillis()
	for _, v := range vectors {
		metadata, err := json.Marshal(v.Metadata)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal metadata of %s", v.ID)
		}
		if v.Metadata == nil {
			metadata = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, v.ID, float32ArrayToBLOB(v.Embedding), string(metadata), v.Model, now); err != nil {
			return errors.Wrapf(err, "failed to upsert product vector %s", v.ID)
		}
		v.UpdatedTs = now
	}
	return tx.Commit()
}

func (d *DB) ListProductVectors(ctx context.Context, find *store.FindProductVector) ([]*store.ProductVector, error) {
	query := `SELECT id, embedding, metadata, model, updated_ts FROM product_vector`
	args := []any{}
	if len(find.IDs) > 0 {
		query += ` WHERE id IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(find.IDs)), ", ") + `)`
		for _, id := range find.IDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`
	return d.queryProductVectors(ctx, query, args...)
}

func (d *DB) queryProductVectors(ctx context.Context, query string, args ...any) ([]*store.ProductVector, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list product vectors")
	}
	defer rows.Close()

	list := []*store.ProductVector{}
	for rows.Next() {
		var (
			v        store.ProductVector
			blob     []byte
			metadata string
		)
		if err := rows.Scan(&v.ID, &blob, &metadata, &v.Model, &v.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan product vector")
		}
		if v.Embedding, err = blobToFloat32Array(blob); err != nil {
			return nil, err
		}
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
	ids := delete.IDs
	if len(ids) == 0 && len(delete.Filter) > 0 {
		all, err := d.ListProductVectors(ctx, &store.FindProductVector{})
		if err != nil {
			return 0, err
		}
		for _, v := range all {
			if store.MatchesFilter(v.Metadata, delete.Filter) {
				ids = append(ids, v.ID)
			}
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM product_vector WHERE id IN (`+strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")+`)`, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete product vectors")
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// ProductVectorSearch scores every matching row with application-layer cosine similarity.
func (d *DB) ProductVectorSearch(ctx context.Context, opts *store.ProductVectorSearchOptions) ([]*store.ProductVectorWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	candidates, err := d.ListProductVectors(ctx, &store.FindProductVector{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}

	results := []*store.ProductVectorWithScore{}
	for _, cand := range candidates {
		if !store.MatchesFilter(cand.Metadata, opts.Filter) {
			continue
		}
		if len(cand.Embedding) != len(opts.Vector) {
			continue
		}
		results = append(results, &store.ProductVectorWithScore{
			Vector: cand,
			Score:  cosineSimilarity(opts.Vector, cand.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
