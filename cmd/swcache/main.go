package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	swcache "github.com/always-cache/swcache"
	"github.com/always-cache/swcache/cache"
	"github.com/always-cache/swcache/network"
	"github.com/always-cache/swcache/pkg/telemetry"
)

// this is set by goreleaser
var version string

const shutdownTimeout = 30 * time.Second

func main() {
	if version == "" {
		version = "DEV"
	}
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("Exiting")
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "swcache",
		Usage:   "offline-first caching proxy",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "origin",
				Usage:   "Origin URL to proxy to (overrides addr and host)",
				Sources: cli.EnvVars("SWCACHE_ORIGIN"),
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Origin IP address to proxy to",
				Sources: cli.EnvVars("SWCACHE_ADDR"),
			},
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Hostname of origin",
				Sources: cli.EnvVars("SWCACHE_HOST"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Port to listen on",
				Value:   8080,
				Sources: cli.EnvVars("SWCACHE_PORT"),
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Cache storage: sqlite, memory or s3",
				Value:   "sqlite",
				Sources: cli.EnvVars("SWCACHE_STORE"),
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Cache DB file name (use 'memory' for in-memory db)",
				Value:   "cache.db",
				Sources: cli.EnvVars("SWCACHE_DB"),
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				Usage:   "Bucket for the s3 store",
				Sources: cli.EnvVars("SWCACHE_S3_BUCKET"),
			},
			&cli.StringFlag{
				Name:    "s3-prefix",
				Usage:   "Object name prefix for the s3 store",
				Value:   "swcache/",
				Sources: cli.EnvVars("SWCACHE_S3_PREFIX"),
			},
			&cli.StringFlag{
				Name:    "s3-region",
				Usage:   "Region of the s3 bucket",
				Sources: cli.EnvVars("SWCACHE_S3_REGION"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML config file",
				Sources: cli.EnvVars("SWCACHE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "cache-name",
				Usage:   "Name of the cache to store responses in",
				Value:   swcache.DefaultCacheName,
				Sources: cli.EnvVars("SWCACHE_CACHE_NAME"),
			},
			&cli.DurationFlag{
				Name:    "navigation-timeout",
				Usage:   "Time to wait for the origin before serving pages from the cache",
				Value:   swcache.DefaultNavigationTimeout,
				Sources: cli.EnvVars("SWCACHE_NAVIGATION_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "no-preload",
				Usage:   "Disable navigation preload",
				Sources: cli.EnvVars("SWCACHE_NO_PRELOAD"),
			},
			&cli.BoolFlag{
				Name:    "vv",
				Usage:   "Verbosity: trace logging",
				Sources: cli.EnvVars("SWCACHE_VV"),
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "Log file to use (in addition to stdout)",
				Sources: cli.EnvVars("SWCACHE_LOG_FILE"),
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if err := setupLogging(cmd.Bool("vv"), cmd.String("log-file")); err != nil {
		return err
	}

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	originURL, originHost, err := getOrigin(cmd.String("origin"), cmd.String("addr"), cmd.String("host"))
	if err != nil {
		return err
	}

	tracingConfig, err := telemetry.ConfigFromEnv()
	if err != nil {
		return err
	}
	shutdownTracing, err := telemetry.Setup(ctx, tracingConfig, "swcache")
	if err != nil {
		return fmt.Errorf("could not set up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	provider, closeProvider, err := openProvider(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeProvider()
	storage := cache.NewStorage(provider)

	origin := network.NewOrigin(network.OriginConfig{
		OriginURL:  originURL,
		OriginHost: originHost,
	})
	reg := swcache.NewRegistration(swcache.RegistrationConfig{
		Network:           origin,
		NavigationPreload: config.preloadEnabled(),
	})
	worker := swcache.CreateInterceptor(swcache.Config{
		Storage:           storage,
		Network:           origin,
		CacheName:         config.CacheName,
		NavigationTimeout: config.NavigationTimeout,
		Rules:             config.Rules,
	})
	if err := reg.Register(ctx, worker); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cmd.Int("port")),
		Handler: newRouter(reg, storage, log.Logger),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", cmd.Int("port"), originURL.String(), originHost)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// let background refreshes finish writing to the cache
		return reg.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func setupLogging(trace bool, logFilename string) error {
	// set log level
	logLevel := zerolog.DebugLevel
	if trace {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilename != "" {
		logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
	return nil
}

// loadConfig reads the config file, if any. Flags that are set explicitly
// take precedence over the file.
func loadConfig(cmd *cli.Command) (Config, error) {
	var config Config
	if filename := cmd.String("config"); filename != "" {
		var err error
		if config, err = getConfig(filename); err != nil {
			return config, fmt.Errorf("could not read config file: %w", err)
		}
	}
	if config.CacheName == "" || cmd.IsSet("cache-name") {
		config.CacheName = cmd.String("cache-name")
	}
	if config.NavigationTimeout == 0 || cmd.IsSet("navigation-timeout") {
		config.NavigationTimeout = cmd.Duration("navigation-timeout")
	}
	if cmd.IsSet("no-preload") {
		enabled := !cmd.Bool("no-preload")
		config.NavigationPreload = &enabled
	}
	return config, nil
}

// getOrigin returns the origin URL and the hostname to use for it.
func getOrigin(origin, addr, host string) (url.URL, string, error) {
	if origin != "" {
		originURL, err := url.Parse(origin)
		if err != nil {
			return url.URL{}, "", fmt.Errorf("could not parse origin url: %w", err)
		}
		return *originURL, "", nil
	}
	if addr != "" {
		originURL, err := url.Parse("https://" + addr)
		if err != nil {
			return url.URL{}, "", fmt.Errorf("could not parse origin address: %w", err)
		}
		return *originURL, host, nil
	}
	return url.URL{}, "", errors.New("Please specify origin")
}

// openProvider creates the cache provider selected with the store flag.
func openProvider(ctx context.Context, cmd *cli.Command) (cache.CacheProvider, func() error, error) {
	noop := func() error { return nil }
	switch store := cmd.String("store"); store {
	case "memory":
		return cache.NewMemCache(), noop, nil
	case "sqlite":
		dbFilename := cmd.String("db")
		if dbFilename == "memory" {
			dbFilename = ""
		}
		provider, err := cache.NewSQLiteCache(dbFilename)
		if err != nil {
			return nil, noop, fmt.Errorf("could not open cache db: %w", err)
		}
		return provider, provider.Close, nil
	case "s3":
		provider, err := cache.NewS3CacheFromEnv(ctx, cache.S3Options{
			Bucket: cmd.String("s3-bucket"),
			Prefix: cmd.String("s3-prefix"),
			Region: cmd.String("s3-region"),
		})
		if err != nil {
			return nil, noop, err
		}
		return provider, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store %q", store)
	}
}
