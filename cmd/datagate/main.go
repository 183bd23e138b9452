// datagate: multi-tenant dataset API gateway.
//
// Serves configured datasets from an object store through a local
// read-through cache, with per-tenant API-key auth and query-string
// filtering.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hexflow/datagate/creds"
	"github.com/hexflow/datagate/datacache"
	"github.com/hexflow/datagate/gateway"
	"github.com/hexflow/datagate/objstore"
	"github.com/hexflow/datagate/util/cliutil"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "datagate",
		Usage:   "multi-tenant dataset API gateway",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity (debug, info, warn, error)",
			Value:   "info",
			EnvVars: []string{"DATAGATE_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (json or text)",
			Value:   "json",
			EnvVars: []string{"DATAGATE_LOG_FORMAT"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "credential database (sqlite:// or postgresql://)",
			Value:   "sqlite://data/datagate/creds.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		addKeyCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "serve the gateway API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the API",
			Value:   ":8100",
			EnvVars: []string{"DATAGATE_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "address for the prometheus metrics listener",
			Value:   ":8101",
			EnvVars: []string{"DATAGATE_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:     "store-host",
			Usage:    "base URL of the dataset object store",
			Required: true,
			EnvVars:  []string{"DATAGATE_STORE_HOST"},
		},
		&cli.StringFlag{
			Name:    "scratch-dir",
			Usage:   "local directory for the dataset cache scratch area",
			Value:   "data/datagate/scratch",
			EnvVars: []string{"DATAGATE_SCRATCH_DIR"},
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Usage:   "expiration window for cached datasets",
			Value:   datacache.DefaultMaxAge,
			EnvVars: []string{"DATAGATE_CACHE_TTL"},
		},
		&cli.StringSliceFlag{
			Name:    "bypass-token",
			Usage:   "route-path token that forces a live fetch (repeatable)",
			EnvVars: []string{"DATAGATE_BYPASS_TOKENS"},
		},
		&cli.DurationFlag{
			Name:    "cred-cache-ttl",
			Usage:   "how long credential lookups are cached",
			Value:   30 * time.Second,
			EnvVars: []string{"DATAGATE_CRED_CACHE_TTL"},
		},
	},
	Action: runGateway,
}

func runGateway(cctx *cli.Context) error {
	logger, err := cliutil.SetupSlog(cctx.String("log-level"), cctx.String("log-format"))
	if err != nil {
		return err
	}

	db, err := cliutil.SetupDatabase(cctx.String("database-url"), 40)
	if err != nil {
		return fmt.Errorf("opening credential database: %w", err)
	}
	gormDir, err := creds.NewGormDirectory(db)
	if err != nil {
		return fmt.Errorf("migrating credential database: %w", err)
	}
	dir := creds.NewCachedDirectory(gormDir, 10_000, cctx.Duration("cred-cache-ttl"), 5*time.Second)

	scratch, err := datacache.OpenScratch(cctx.String("scratch-dir"))
	if err != nil {
		return err
	}
	defer scratch.Close()

	store := objstore.NewClient(cctx.String("store-host"))
	cache := datacache.New(store, scratch, datacache.Config{
		MaxAge:       cctx.Duration("cache-ttl"),
		BypassTokens: bypassTokens(cctx.StringSlice("bypass-token")),
	})

	srv, err := gateway.New(cache, dir, store, gateway.Config{
		Bind:   cctx.String("bind"),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := srv.StartMetrics(cctx.String("metrics-listen")); err != nil {
			logger.Error("metrics listener failed", "err", err)
			os.Exit(1)
		}
	}()

	eg, ctx := errgroup.WithContext(cctx.Context)
	eg.Go(srv.RunAPI)
	eg.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
		case <-ctx.Done():
			return nil
		}
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return eg.Wait()
}

// nil means "flag not set", which keeps the compiled-in defaults
func bypassTokens(flagVals []string) []string {
	if len(flagVals) == 0 {
		return nil
	}
	return flagVals
}

var addKeyCmd = &cli.Command{
	Name:  "add-key",
	Usage: "register an API key binding a tenant/endpoint to a dataset",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "tenant", Required: true},
		&cli.StringFlag{Name: "endpoint", Required: true},
		&cli.StringFlag{Name: "dataset", Usage: "dataset id in the object store", Required: true},
		&cli.StringFlag{Name: "key", Usage: "API key value (generated when omitted)"},
		&cli.StringFlag{Name: "method", Usage: "allowed HTTP method", Value: "GET"},
		&cli.StringFlag{Name: "status", Value: creds.StatusActive},
	},
	Action: func(cctx *cli.Context) error {
		if _, err := cliutil.SetupSlog(cctx.String("log-level"), "text"); err != nil {
			return err
		}
		db, err := cliutil.SetupDatabase(cctx.String("database-url"), 1)
		if err != nil {
			return err
		}
		dir, err := creds.NewGormDirectory(db)
		if err != nil {
			return err
		}

		key := cctx.String("key")
		if key == "" {
			raw := make([]byte, 16)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			key = hex.EncodeToString(raw)
		}

		rec := creds.APIKey{
			Tenant:        cctx.String("tenant"),
			Endpoint:      cctx.String("endpoint"),
			Key:           key,
			DatasetID:     cctx.String("dataset"),
			AllowedMethod: cctx.String("method"),
			Status:        cctx.String("status"),
		}
		if err := dir.Create(cctx.Context, &rec); err != nil {
			return err
		}
		fmt.Printf("%s/%s/%s -> %s\n", rec.Tenant, rec.Endpoint, rec.Key, rec.DatasetID)
		return nil
	},
}
