package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/digest-bot/internal/config"
	"github.com/ykvlv/digest-bot/internal/delivery"
	"github.com/ykvlv/digest-bot/internal/digest"
	"github.com/ykvlv/digest-bot/internal/reader"
	"github.com/ykvlv/digest-bot/internal/scheduler"
	"github.com/ykvlv/digest-bot/internal/store"
	"github.com/ykvlv/digest-bot/internal/summarizer"
	"github.com/ykvlv/digest-bot/internal/telegram"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	reader  *reader.Client
	httpSrv *http.Server
	repo    store.Repo
	router  *telegram.Router
	sched   *scheduler.Scheduler
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	// The library's retry messages go through zap instead of the std logger.
	_ = tgbotapi.SetLogger(zap.NewStdLog(log.Named("tgbotapi")))

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, &http.Client{Timeout: cfg.SendTimeout})
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	rd, err := reader.New(reader.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		SessionPath: cfg.SessionPath,
		Timeout:     cfg.ReadTimeout,
		FetchLimit:  cfg.FetchLimit,
	}, log.Named("reader"))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, reader: rd, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting digest-bot",
		zap.String("bot", a.bot.Self.UserName),
		zap.String("http", a.cfg.HTTPAddr),
		zap.String("schedule", a.cfg.Schedule),
		zap.String("model", a.cfg.OpenRouterModel),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without an authorized reading account nothing can be read.
	if err := a.reader.Start(ctx); err != nil {
		if errors.Is(err, reader.ErrUnauthorized) {
			a.log.Error("mtproto session is not authorized, run the login tool first",
				zap.String("session", a.cfg.SessionPath))
		}
		return err
	}
	a.log.Info("mtproto reader ready")

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		a.stopReader()
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	sum := summarizer.New(summarizer.Options{
		APIKey:      a.cfg.OpenRouterKey,
		BaseURL:     a.cfg.OpenRouterBaseURL,
		Model:       a.cfg.OpenRouterModel,
		MaxTokens:   a.cfg.SummaryMaxTokens,
		Temperature: a.cfg.SummaryTemp,
		Timeout:     a.cfg.LLMTimeout,
	}, a.log.Named("summarizer"))
	sender := delivery.NewSender(a.bot, a.cfg.SendRate, a.log.Named("delivery"))
	pipeline := digest.New(a.repo, a.reader, sum, sender, a.log.Named("digest"))

	a.sched = scheduler.New(a.repo, pipeline, a.log.Named("scheduler"), scheduler.Options{
		Spec:    a.cfg.Schedule,
		Workers: a.cfg.Workers,
	})
	a.router = telegram.NewRouter(a.bot, a.log.Named("router"), a.repo, a.reader, pipeline)

	schedCtx, cancelSched := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.sched.Run(schedCtx); err != nil {
			a.log.Error("scheduler stopped", zap.Error(err))
			stop()
		}
	}()

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	u := tgbotapi.NewUpdate(0)
	// Below the client timeout, or every idle poll fails and sleeps 3s.
	u.Timeout = a.cfg.PollTimeout()
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.bot.StopReceivingUpdates()

			cancelSched()
			wg.Wait()
			a.router.Wait()

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()
			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}

			a.stopReader()
			if a.repo != nil {
				_ = a.repo.Close()
			}
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}

func (a *App) stopReader() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.reader.Stop(ctx); err != nil {
		a.log.Warn("mtproto reader stop error", zap.Error(err))
	}
}
