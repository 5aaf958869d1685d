// Command insar-pipeline is the composition root for the InSAR
// deformation-monitoring processing pipeline: it loads configuration,
// opens storage, wires the catalog/upstream/raster/deform collaborators
// into a Job Orchestrator, and runs the orchestrator's worker pool until
// an OS signal requests shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groundline/insar-pipeline/internal/catalog"
	"github.com/groundline/insar-pipeline/internal/config"
	"github.com/groundline/insar-pipeline/internal/deform"
	"github.com/groundline/insar-pipeline/internal/fsutil"
	"github.com/groundline/insar-pipeline/internal/healthz"
	"github.com/groundline/insar-pipeline/internal/httputil"
	"github.com/groundline/insar-pipeline/internal/monitoring"
	"github.com/groundline/insar-pipeline/internal/orchestrator"
	"github.com/groundline/insar-pipeline/internal/raster"
	"github.com/groundline/insar-pipeline/internal/store"
	"github.com/groundline/insar-pipeline/internal/upstream"
	"github.com/groundline/insar-pipeline/internal/version"
)

var (
	configFile    = flag.String("config", "", "path to JSON configuration file (defaults all tunables when omitted)")
	dsnFlag       = flag.String("dsn", "", "Postgres connection string (overrides storage.dsn in --config)")
	catalogURL    = flag.String("catalog-url", "https://api.daac.asf.alaska.edu/services/search/param", "Sentinel-1 SLC catalog search endpoint")
	upstreamURL   = flag.String("upstream-url", "https://hyp3-api.asf.alaska.edu", "InSAR processing service base URL")
	upstreamToken = flag.String("upstream-token", os.Getenv("INSAR_UPSTREAM_TOKEN"), "bearer token for the InSAR processing service")
	migrateOnly   = flag.Bool("migrate", false, "apply pending storage migrations and exit")
	versionFlag   = flag.Bool("version", false, "print version information and exit")
	healthAddr    = flag.String("health-addr", ":8080", "address to serve /healthz and /readyz on")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *versionFlag {
		fmt.Printf("insar-pipeline v%s (git SHA: %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		os.Exit(0)
	}

	var cfg *config.Config
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", *configFile, err)
		}
		cfg = loaded
	} else {
		cfg = config.Empty()
	}

	dsn := *dsnFlag
	if dsn == "" {
		dsn = cfg.Storage.GetDSN()
	}
	if dsn == "" {
		log.Fatal("a storage DSN is required: pass --dsn or set storage.dsn in --config")
	}

	if *migrateOnly {
		if err := store.MigrateUp(dsn, monitoring.Logf); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Printf("migrations applied")
		return
	}

	log.Printf("insar-pipeline v%s (git SHA: %s) starting", version.Version, version.GitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.MigrateUp(dsn, monitoring.Logf); err != nil {
		log.Fatalf("failed to apply storage migrations: %v", err)
	}

	db, err := store.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer db.Close()

	httpClient := httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second})

	catalogClient := catalog.New(httpClient, *catalogURL, cfg.Pairs)

	if *upstreamToken == "" {
		log.Fatal("an upstream bearer token is required: pass --upstream-token or set INSAR_UPSTREAM_TOKEN")
	}
	upstreamClient := upstream.New(httpClient, *upstreamURL, *upstreamToken)

	downloader := &raster.HTTPDownloader{Client: httpClient}
	sampler := raster.New(downloader, cfg.Sampler)

	deformer := deform.New(db, cfg.Storage)

	workingDir := cfg.GetWorkingDir()
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		log.Fatalf("failed to create working directory %s: %v", workingDir, err)
	}

	orch := orchestrator.New(db, catalogClient, upstreamClient, sampler, deformer, fsutil.OSFileSystem{}, cfg.Orchestrator, workingDir)

	healthSrv := &http.Server{Addr: *healthAddr, Handler: healthz.New(db).Mux()}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("healthz server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("healthz server shutdown: %v", err)
		}
	}()

	log.Printf("orchestrator starting: %d worker(s), working dir %s, health endpoint %s", cfg.Orchestrator.GetWorkerCount(), workingDir, *healthAddr)
	if err := orch.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("orchestrator stopped: %v", err)
	}
	log.Printf("graceful shutdown complete")
}
