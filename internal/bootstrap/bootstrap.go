package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/config"
	"github.com/fortypixels/invoice-pilot/internal/core/domain"
	"github.com/fortypixels/invoice-pilot/internal/core/ports"
	"github.com/fortypixels/invoice-pilot/internal/core/usecase"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/categorizer/openai"
	fetcherslack "github.com/fortypixels/invoice-pilot/internal/infrastructure/fetcher/slack"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/idempotency/memory"
	idempostgres "github.com/fortypixels/invoice-pilot/internal/infrastructure/idempotency/postgres"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/ledger/xero"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/notifier/slack"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/ocr/mistral"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/queue/nats"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/resilience"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/staging/localfs"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/staging/s3"
)

type App struct {
	Config config.Config
	Policy config.ExpensePolicy

	Queue     ports.EventQueue
	Processor ports.InvoiceProcessor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	policy, err := config.LoadExpensePolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load expense policy: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: cfg.RetryMaxAttempts,
	})

	admission := domain.AdmissionPolicy{
		AllowedMIMETypes: cfg.AllowedMIMETypes,
		MaxSizeBytes:     cfg.MaxFileSizeBytes,
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init event queue: %w", err)
	}

	var store ports.IdempotencyStore
	closeFn := func() { queue.Close() }
	if cfg.PostgresDSN != "" {
		db, err := idempostgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			queue.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pgStore := idempostgres.NewStore(db, cfg.ClaimLease)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			queue.Close()
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = pgStore
		closeFn = func() {
			queue.Close()
			_ = db.Close()
		}
	} else {
		logger.Warn("POSTGRES_DSN is empty, idempotency state is in-memory and lost on restart")
		store = memory.New(cfg.ClaimLease)
	}

	var stager ports.FileStager
	switch {
	case cfg.S3Endpoint != "":
		s3Stager, err := s3.New(s3.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("init file stager: %w", err)
		}
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s3Stager.EnsureBucket(ensureCtx); err != nil {
			closeFn()
			return nil, fmt.Errorf("ensure staging bucket: %w", err)
		}
		stager = s3Stager
	case cfg.StagingDir != "":
		localStager, err := localfs.New(cfg.StagingDir)
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("init local stager: %w", err)
		}
		stager = localStager
	}

	// Pipeline stage adapters get no executor of their own: the
	// orchestrator applies the per-stage retry and attempt-timeout policy,
	// so each adapter call must hit its upstream exactly once.
	fetcher := fetcherslack.NewFetcher(cfg.SlackBotToken, admission, nil)
	extractor := mistral.NewExtractor(mistral.New(cfg.MistralURL, cfg.MistralAPIKey, cfg.MistralModel), nil)
	categorizer := openai.NewCategorizer(openai.New(cfg.OpenAIURL, cfg.OpenAIAPIKey, cfg.OpenAIModel), nil)
	filer := xero.NewFiler(
		xero.New(cfg.XeroURL, cfg.XeroTenantID, xero.Auth{
			AccessToken:  cfg.XeroAccessToken,
			ClientID:     cfg.XeroClientID,
			ClientSecret: cfg.XeroClientSecret,
			RefreshToken: cfg.XeroRefreshToken,
			TokenURL:     cfg.XeroTokenURL,
		}),
		nil,
		logger,
		policy.AccountCodes(),
		policy.DefaultAccountCode,
	)
	notifier := slack.NewNotifier("", cfg.SlackBotToken, executor)

	processor := usecase.NewProcessInvoiceUseCase(store, fetcher, extractor, categorizer, filer, notifier, usecase.Options{
		Admission:         admission,
		AllowedCategories: policy.CategoryNames(),
		BusinessContext:   policy.BusinessContext,
		Timeouts: usecase.StageTimeouts{
			Fetch:      cfg.FetchTimeout,
			Extract:    cfg.ExtractTimeout,
			Categorize: cfg.CategorizeTimeout,
			Ledger:     cfg.LedgerTimeout,
			Notify:     cfg.NotifyTimeout,
		},
		Executor: executor,
		Stager:   stager,
	})

	return &App{
		Config:    cfg,
		Policy:    policy,
		Queue:     queue,
		Processor: processor,
		closeFn:   closeFn,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
