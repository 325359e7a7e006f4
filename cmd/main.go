package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quote-agent/handler"
	"quote-agent/internal/basket"
	"quote-agent/internal/catalog"
	"quote-agent/internal/clock"
	"quote-agent/internal/config"
	"quote-agent/internal/debounce"
	"quote-agent/internal/integrations/evolution"
	"quote-agent/internal/integrations/openai"
	"quote-agent/internal/integrations/paramstore"
	"quote-agent/internal/quote"
	"quote-agent/internal/session"
	"quote-agent/internal/usecase"
)

func main() {
	configPath := flag.String("config", os.Getenv("QUOTE_CONFIG"), "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)
	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("service stopped")
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stderr
	logger := zerolog.New(out)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return logger.Level(level).With().Timestamp().Str("service", "quote-agent").Logger()
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Session.Timezone)
	if err != nil {
		return err
	}
	clk := clock.System()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return err
	}
	params, err := paramstore.NewCached(ssmClient)
	if err != nil {
		return err
	}

	sessions, err := session.New(awsdynamodb.NewFromConfig(awsCfg), cfg.AWS.SessionTable, cfg.Session.Retention, loc, clk, log)
	if err != nil {
		return err
	}

	gateway, err := catalog.Open(cfg.Catalog.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = gateway.Close() }()
	offers, err := catalog.NewRetrying(gateway, 0, log)
	if err != nil {
		return err
	}

	baskets, err := basket.NewEngine(offers, cfg.Quote.InactivityTTL, clk, log)
	if err != nil {
		return err
	}
	quotes, err := quote.NewManager(cfg.Quote.InactivityTTL, clk, log)
	if err != nil {
		return err
	}

	extractor, err := openai.NewClient(params, cfg.AWS.ParamPrefix)
	if err != nil {
		return err
	}
	sender, err := evolution.NewSender(params, cfg.AWS.ParamPrefix, cfg.Messaging.BaseURL, cfg.Messaging.Instance)
	if err != nil {
		return err
	}

	pipeline, err := usecase.New(extractor, sessions, sender, baskets, quotes, clk, cfg.Session.RecentLimit, log)
	if err != nil {
		return err
	}
	debouncer, err := debounce.New(cfg.Session.DebounceWindow, clk, pipeline.ProcessSettled, log)
	if err != nil {
		return err
	}
	pipeline.Bind(debouncer)

	h, err := handler.NewHandler(pipeline, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("webhook listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown incomplete")
		}
		// settle whatever is buffered so last fragments are not lost
		debouncer.Flush()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Session.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sweep(gctx, log, sessions, baskets, quotes)
			}
		}
	})

	return g.Wait()
}

func sweep(ctx context.Context, log zerolog.Logger, sessions *session.Store, baskets *basket.Engine, quotes *quote.Manager) {
	deleted, err := sessions.Sweep(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("turn sweep failed")
	}
	expiredBaskets := baskets.SweepExpired()
	resetSessions := quotes.SweepExpired()
	log.Debug().
		Int("turns_deleted", deleted).
		Int("baskets_expired", expiredBaskets).
		Int("quote_sessions_reset", resetSessions).
		Msg("sweep complete")
}
