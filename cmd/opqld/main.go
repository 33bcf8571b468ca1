// File path: cmd/opqld/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/meridianhq/opql/internal/analytics"
	"github.com/meridianhq/opql/internal/api"
	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/engine"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/router"
	"github.com/meridianhq/opql/internal/store"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("opqld: .env file not loaded", "error", err)
	} else {
		logger.Info("opqld: environment loaded from .env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	catalogPath := flag.String("catalog", defaultCatalogPath(), "path to the SQLite catalog database")
	dataPath := flag.String("data", "", "optional JSON file of entity rows to seed the repository")
	seedPath := flag.String("seed", "", "optional YAML file of analytics reports and dashboards")
	tileWorkers := flag.Int("tile-workers", 0, "concurrent dashboard tile executions (0 uses defaults)")
	flag.Parse()

	logger.Info("opqld: startup initiated", "addr", *addr, "catalog", *catalogPath)

	repo := entity.NewMemoryRepository()
	if trimmed := strings.TrimSpace(*dataPath); trimmed != "" {
		if err := seedRepository(repo, trimmed); err != nil {
			logger.Error("opqld: repository seed failed", "path", trimmed, "error", err)
			fmt.Println("repository seed error:", err)
			os.Exit(1)
		}
	}

	var candidates []store.Store
	catalog, err := store.Open(*catalogPath)
	if err != nil {
		logger.Warn("opqld: catalog unavailable, falling back to memory", "error", err)
		candidates = append(candidates, store.NotProvisioned{})
	} else {
		defer catalog.Close()
		logger.Info("opqld: catalog open", "path", *catalogPath)
		candidates = append(candidates, catalog)
	}
	candidates = append(candidates, store.NewMemory())
	items := store.NewChain(candidates...)

	routerCfg, err := router.LoadConfig()
	if err != nil {
		logger.Error("opqld: router config load failed", "error", err)
		fmt.Println("router config error:", err)
		os.Exit(1)
	}

	eng := engine.New(repo, nil)
	search := router.New(eng, repo, items, routerCfg)

	schedules := analytics.NewScheduleStore(candidates[:len(candidates)-1]...)
	analyticsEngine, err := analytics.New(search, items, schedules, *tileWorkers)
	if err != nil {
		logger.Error("opqld: analytics engine construction failed", "error", err)
		fmt.Println("analytics error:", err)
		os.Exit(1)
	}
	defer analyticsEngine.Close()

	if trimmed := strings.TrimSpace(*seedPath); trimmed != "" {
		seed, err := analytics.LoadSeed(trimmed)
		if err != nil {
			logger.Error("opqld: analytics seed load failed", "path", trimmed, "error", err)
			fmt.Println("seed error:", err)
			os.Exit(1)
		}
		if err := analyticsEngine.ApplySeed(ctx, seed); err != nil {
			logger.Error("opqld: analytics seed apply failed", "error", err)
			fmt.Println("seed error:", err)
			os.Exit(1)
		}
	}

	server, err := api.NewServer(search, analyticsEngine)
	if err != nil {
		logger.Error("opqld: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("opqld: server listening", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	reachable := *addr
	if strings.HasPrefix(reachable, ":") {
		reachable = "localhost" + reachable
	}
	logger.Info("opqld: verify reachability", "suggestion", fmt.Sprintf("curl http://%s/healthz", reachable))
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("opqld: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}

func defaultCatalogPath() string {
	return filepath.Join("data", "catalog.db")
}

func seedRepository(repo *entity.MemoryRepository, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read data file: %w", err)
	}
	var rows []entity.RepositoryRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("parse data file %s: %w", path, err)
	}
	repo.Seed(rows...)
	common.Logger().Info("opqld: repository seeded", "rows", len(rows))
	return nil
}
