package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rendis/weft/internal/logging"
	"github.com/rendis/weft/internal/rules"
	"github.com/rendis/weft/internal/store"
	"github.com/rendis/weft/pkg/schema"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/weft/
var version = "dev"

func main() {
	var (
		exportProject = flag.String("export", "", "print the full project view JSON for the given project id")
		vacuum        = flag.Bool("vacuum", false, "compact the store and exit")
		showVersion   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *exportProject, *vacuum); err != nil {
		logger.Error("weft failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger, exportProject string, vacuum bool) error {
	ctx := context.Background()

	if err := os.MkdirAll(weftDir(), 0o755); err != nil {
		return fmt.Errorf("create weft dir: %w", err)
	}

	s, err := store.New("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	logger.Info("store ready", slog.String("db_path", cfg.DBPath))

	switch {
	case vacuum:
		if err := s.Vacuum(ctx); err != nil {
			return fmt.Errorf("vacuum store: %w", err)
		}
		logger.Info("store compacted")
		return nil

	case exportProject != "":
		view, err := s.ProjectView(logging.WithProjectID(ctx, exportProject), exportProject)
		if err != nil {
			return err
		}
		eng, err := rules.NewEngine(logger)
		if err != nil {
			return fmt.Errorf("build rule engine: %w", err)
		}
		view.Nodes = visibleNodes(ctx, eng, view)
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("encode project view: %w", err)
		}
		fmt.Println(string(out))
		return nil

	default:
		projects, err := s.ListProjects(ctx)
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("%s\t%s\n", p.ID, p.Title)
		}
		return nil
	}
}

// visibleNodes filters an export down to the nodes whose visibility rules
// hold, so hidden working material does not leak into mirrored artifacts.
func visibleNodes(ctx context.Context, eng *rules.Engine, view *schema.ProjectView) []*schema.Node {
	nodes := make([]*schema.Node, 0, len(view.Nodes))
	for _, n := range view.Nodes {
		if eng.Visibility(ctx, n, view.Project) {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
