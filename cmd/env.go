package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"

	"github.com/creatorscope/audit-cli/internal/audit"
	"github.com/creatorscope/audit-cli/internal/store"
	anthropicpkg "github.com/creatorscope/audit-cli/pkg/anthropic"
	"github.com/creatorscope/audit-cli/pkg/youtube"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "audits.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRunner builds the pipeline runner with its data source and model
// provider. The returned store must be closed by the caller.
func initRunner(ctx context.Context, opts ...audit.RunnerOption) (*audit.Runner, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	source := youtube.NewClient(cfg.YouTube.Key,
		youtube.WithBaseURL(cfg.YouTube.BaseURL),
		youtube.WithRateLimit(cfg.YouTube.RequestsPerSecond, 4),
	)
	provider := anthropicpkg.NewProvider(cfg.Anthropic.Key,
		anthropicpkg.WithModel(cfg.Anthropic.Model),
	)

	return audit.NewRunner(cfg, st, source, provider, opts...), st, nil
}

// progressToStderr renders pipeline progress as single lines on stderr,
// keeping stdout free for the JSON result.
func progressToStderr(e audit.ProgressEvent) {
	fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", e.Percent, e.Message)
}
