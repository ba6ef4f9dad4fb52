package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/knowledge"
	"github.com/chatbi/chatbi/internal/log"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("backend:         %s\n", stats.Backend)
		fmt.Printf("total items:     %d\n", stats.TotalItems)
		fmt.Printf("top-rated items: %d\n", stats.TopRatedItems)
		fmt.Printf("avg rating:      %.2f\n", stats.AvgRating)
		fmt.Printf("total usage:     %d\n", stats.TotalUsage)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// openStore opens the configured knowledge store. Commands that never
// embed (stats, validate) use a stub embedder; anything that would embed
// through it fails loudly.
func openStore(ctx context.Context, cfg *config.Config) (knowledge.Store, func(), error) {
	logger := log.New(log.Config{Level: slog.LevelWarn})

	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		store := knowledge.NewPostgresStore(pool, stubEmbedder{}, logger, cfg.SearchTimeout)
		return store, pool.Close, nil
	case config.BackendChromem:
		store, err := knowledge.NewChromemStore(cfg.ChromemPath, stubEmbedder{}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

type stubEmbedder struct{}

var errNoEmbedder = errors.New("no embedder configured for CLI use")

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

func (stubEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoEmbedder
}
