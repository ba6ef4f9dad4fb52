package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/chatbi/chatbi/internal/log"
)

// Querier is the database access contract for PostgresStore.
// *pgxpool.Pool satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is the production backend: pgvector similarity search over
// the sql_knowledge table (see db/migrations).
type PostgresStore struct {
	db            Querier
	embedder      Embedder
	logger        log.Logger
	searchTimeout time.Duration
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over an existing connection pool.
// searchTimeout bounds every similarity query; zero disables the bound.
func NewPostgresStore(db Querier, embedder Embedder, logger log.Logger, searchTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		db:            db,
		embedder:      embedder,
		logger:        logger,
		searchTimeout: searchTimeout,
	}
}

// Add inserts or replaces the item. The upsert preserves created_at,
// rating and usage_count for an existing pair.
func (s *PostgresStore) Add(ctx context.Context, item Item) (string, error) {
	id := ItemID(item.Question, item.SQL)

	vec, err := s.embedder.Embed(ctx, EmbeddingDocument(item))
	if err != nil {
		return "", fmt.Errorf("embedding item: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO sql_knowledge
			(id, question, sql_text, description, tags, rating, usage_count, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			tags        = EXCLUDED.tags,
			embedding   = EXCLUDED.embedding,
			updated_at  = now()`,
		id, item.Question, item.SQL, item.Description, item.Tags,
		item.Rating, item.UsageCount, pgvector.NewVector(vec))
	if err != nil {
		return "", fmt.Errorf("storing item %s: %w", id, err)
	}

	s.logger.Debug("knowledge item stored", "id", id, "backend", "postgres")
	return id, nil
}

// Search embeds the query and ranks by cosine distance. Similarity is
// 1 - distance/2, clamped to [0, 1].
func (s *PostgresStore) Search(ctx context.Context, query string, opts ...SearchOption) ([]Match, error) {
	cfg := applySearchOptions(opts)

	if s.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.searchTimeout)
		defer cancel()
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	sql := `
		SELECT id, question, sql_text, description, tags, rating, usage_count,
		       created_at, updated_at,
		       embedding <=> $1 AS distance
		FROM sql_knowledge`
	args := []any{pgvector.NewVector(vec)}
	if len(cfg.tags) > 0 {
		sql += ` WHERE tags @> $3`
		args = append(args, cfg.topK, cfg.tags)
	} else {
		args = append(args, cfg.topK)
	}
	sql += ` ORDER BY distance LIMIT $2`

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			item     Item
			distance float64
		)
		if err := rows.Scan(&item.ID, &item.Question, &item.SQL, &item.Description,
			&item.Tags, &item.Rating, &item.UsageCount,
			&item.CreatedAt, &item.UpdatedAt, &distance); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		sim := distanceToSimilarity(distance)
		if sim < cfg.threshold {
			continue
		}
		matches = append(matches, Match{Item: item, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return matches, nil
}

// UpdateUsage applies the usage increment and rating delta under a
// row-locking transaction so concurrent feedback never loses updates.
func (s *PostgresStore) UpdateUsage(ctx context.Context, id string, ratingDelta float64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting usage update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		usage  int
		rating float64
	)
	err = tx.QueryRow(ctx,
		`SELECT usage_count, rating FROM sql_knowledge WHERE id = $1 FOR UPDATE`,
		id).Scan(&usage, &rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading item %s: %w", id, err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sql_knowledge
		 SET usage_count = $2, rating = $3, updated_at = now()
		 WHERE id = $1`,
		id, usage+1, rating+ratingDelta)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing usage update: %w", err)
	}
	return nil
}

// Delete removes an item, reporting whether it existed.
func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sql_knowledge WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting item %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns items newest-first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, question, sql_text, description, tags, rating, usage_count,
		       created_at, updated_at
		FROM sql_knowledge
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Question, &item.SQL, &item.Description,
			&item.Tags, &item.Rating, &item.UsageCount,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning list row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading list rows: %w", err)
	}
	return items, nil
}

// Update replaces metadata fields (description, tags, rating).
func (s *PostgresStore) Update(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	updatable := map[string]bool{"description": true, "tags": true, "rating": true}
	for name := range fields {
		if !updatable[name] {
			return fmt.Errorf("field %q is not updatable", name)
		}
	}

	set := make([]string, 0, len(fields)+1)
	args := []any{id}
	for _, name := range []string{"description", "tags", "rating"} {
		value, ok := fields[name]
		if !ok {
			continue
		}
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	set = append(set, "updated_at = now()")

	tag, err := s.db.Exec(ctx,
		`UPDATE sql_knowledge SET `+strings.Join(set, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Stats reports store totals in one round trip.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE rating >= 1),
		       coalesce(avg(rating), 0),
		       coalesce(sum(usage_count), 0)
		FROM sql_knowledge`).Scan(
		&stats.TotalItems, &stats.TopRatedItems, &stats.AvgRating, &stats.TotalUsage)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	stats.Backend = "postgres"
	return stats, nil
}

func distanceToSimilarity(distance float64) float64 {
	sim := 1 - distance/2
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
