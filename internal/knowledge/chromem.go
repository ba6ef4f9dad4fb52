package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/chatbi/chatbi/internal/log"
)

const chromemCollection = "sql_knowledge"

var _ Store = (*ChromemStore)(nil)

// ChromemStore is the embedded vector store backend, backed by chromem-go.
// It is the default for local use and tests; no external service needed.
//
// chromem has no native upsert, so Add and UpdateUsage emulate it with
// delete-then-add under the store mutex. The mutex also makes usage
// updates atomic per item.
type ChromemStore struct {
	col      *chromem.Collection
	embedder Embedder
	logger   log.Logger

	mu    sync.Mutex
	items map[string]Item // metadata index for List/Stats
}

// NewChromemStore opens (or creates) a chromem store. An empty path gives
// a purely in-memory store.
func NewChromemStore(path string, embedder Embedder, logger log.Logger) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(chromemCollection, nil, NewEmbeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("opening collection: %w", err)
	}

	return &ChromemStore{
		col:      col,
		embedder: embedder,
		logger:   logger,
		items:    make(map[string]Item),
	}, nil
}

// NewEmbeddingFunc adapts an Embedder to chromem's embedding callback.
func NewEmbeddingFunc(embedder Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
}

// Add inserts or replaces the item. Re-adding an existing question/SQL
// pair preserves its original creation time and accumulated feedback.
func (s *ChromemStore) Add(ctx context.Context, item Item) (string, error) {
	id := ItemID(item.Question, item.SQL)
	now := time.Now().UTC()

	item.ID = id
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.col.GetByID(ctx, id); err == nil {
		prev := decodeMetadata(id, existing.Metadata)
		item.CreatedAt = prev.CreatedAt
		item.Rating = prev.Rating
		item.UsageCount = prev.UsageCount
		if err := s.col.Delete(ctx, nil, nil, id); err != nil {
			return "", fmt.Errorf("replacing item %s: %w", id, err)
		}
	}

	doc := chromem.Document{
		ID:       id,
		Metadata: encodeMetadata(item),
		Content:  EmbeddingDocument(item),
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("adding item %s: %w", id, err)
	}

	s.items[id] = item
	s.logger.Debug("knowledge item stored", "id", id, "backend", "chromem")
	return id, nil
}

// Search runs a similarity query. An empty collection returns an empty
// result without error.
func (s *ChromemStore) Search(ctx context.Context, query string, opts ...SearchOption) ([]Match, error) {
	cfg := applySearchOptions(opts)

	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem rejects nResults above the collection size.
	n := cfg.topK
	if len(cfg.tags) > 0 {
		// Tag filtering happens after the vector query; over-fetch so the
		// filter does not starve the result set.
		n = cfg.topK * 4
	}
	if n > count {
		n = count
	}

	results, err := s.col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		item := decodeMetadata(r.ID, r.Metadata)
		if len(cfg.tags) > 0 && !hasAllTags(item.Tags, cfg.tags) {
			continue
		}
		sim := cosineToSimilarity(float64(r.Similarity))
		if sim < cfg.threshold {
			continue
		}
		matches = append(matches, Match{Item: item, Similarity: sim})
		if len(matches) == cfg.topK {
			break
		}
	}
	return matches, nil
}

// UpdateUsage increments the usage counter and applies the rating delta.
func (s *ChromemStore) UpdateUsage(ctx context.Context, id string, ratingDelta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	item := decodeMetadata(id, doc.Metadata)
	item.UsageCount++
	item.Rating += ratingDelta
	item.UpdatedAt = time.Now().UTC()

	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("updating item %s: %w", id, err)
	}
	// Reuse the stored embedding; a usage update must not re-embed.
	if err := s.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Metadata:  encodeMetadata(item),
		Embedding: doc.Embedding,
		Content:   doc.Content,
	}); err != nil {
		return fmt.Errorf("updating item %s: %w", id, err)
	}

	s.items[id] = item
	return nil
}

// Delete removes an item, reporting whether it existed.
func (s *ChromemStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.col.GetByID(ctx, id); err != nil {
		return false, nil
	}
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("deleting item %s: %w", id, err)
	}
	delete(s.items, id)
	return true, nil
}

// List returns items newest-first from the metadata index. The index
// covers items touched during this process; a freshly reopened persistent
// store fills it as items are added or updated.
func (s *ChromemStore) List(_ context.Context, limit, offset int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		all = append(all, item)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Update replaces metadata fields (description, tags, rating) in place.
func (s *ChromemStore) Update(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	item := decodeMetadata(id, doc.Metadata)
	if err := applyFields(&item, fields); err != nil {
		return err
	}
	item.UpdatedAt = time.Now().UTC()

	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("updating item %s: %w", id, err)
	}
	if err := s.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Metadata:  encodeMetadata(item),
		Embedding: doc.Embedding,
		Content:   doc.Content,
	}); err != nil {
		return fmt.Errorf("updating item %s: %w", id, err)
	}

	s.items[id] = item
	return nil
}

// Stats reports totals. TotalItems comes from the collection itself;
// the rating and usage aggregates from the metadata index.
func (s *ChromemStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topRated := 0
	ratingSum := 0.0
	totalUsage := 0
	for _, item := range s.items {
		if item.Rating >= 1 {
			topRated++
		}
		ratingSum += item.Rating
		totalUsage += item.UsageCount
	}
	avg := 0.0
	if len(s.items) > 0 {
		avg = ratingSum / float64(len(s.items))
	}
	return Stats{
		TotalItems:    s.col.Count(),
		TopRatedItems: topRated,
		AvgRating:     avg,
		TotalUsage:    totalUsage,
		Backend:       "chromem",
	}, nil
}

// cosineToSimilarity maps cosine similarity [-1, 1] onto [0, 1].
func cosineToSimilarity(cos float64) float64 {
	sim := (cos + 1) / 2
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// applyFields mutates item from an update-field map. Question and SQL are
// rejected since they define the item ID.
func applyFields(item *Item, fields map[string]any) error {
	for name, value := range fields {
		switch name {
		case "description":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field description: expected string, got %T", value)
			}
			item.Description = s
		case "tags":
			tags, ok := value.([]string)
			if !ok {
				return fmt.Errorf("field tags: expected []string, got %T", value)
			}
			item.Tags = tags
		case "rating":
			f, ok := value.(float64)
			if !ok {
				return fmt.Errorf("field rating: expected float64, got %T", value)
			}
			item.Rating = f
		default:
			return fmt.Errorf("field %q is not updatable", name)
		}
	}
	return nil
}

// Metadata is stored as strings, matching chromem's map[string]string
// document metadata.

func encodeMetadata(item Item) map[string]string {
	tags, _ := json.Marshal(item.Tags)
	return map[string]string{
		"question":    item.Question,
		"sql":         item.SQL,
		"description": item.Description,
		"tags":        string(tags),
		"rating":      strconv.FormatFloat(item.Rating, 'f', -1, 64),
		"usage_count": strconv.Itoa(item.UsageCount),
		"created_at":  item.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  item.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func decodeMetadata(id string, md map[string]string) Item {
	item := Item{
		ID:          id,
		Question:    md["question"],
		SQL:         md["sql"],
		Description: md["description"],
	}
	if md["tags"] != "" {
		_ = json.Unmarshal([]byte(md["tags"]), &item.Tags)
	}
	item.Rating, _ = strconv.ParseFloat(md["rating"], 64)
	item.UsageCount, _ = strconv.Atoi(md["usage_count"])
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, md["created_at"])
	item.UpdatedAt, _ = time.Parse(time.RFC3339Nano, md["updated_at"])
	return item
}
