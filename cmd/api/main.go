package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"phonon/internal/agent"
	"phonon/internal/auth"
	"phonon/internal/calls"
	"phonon/internal/config"
	"phonon/internal/eventlog"
	"phonon/internal/events"
	"phonon/internal/httpapi"
	"phonon/internal/llm"
	"phonon/internal/reporting"
	"phonon/internal/session"
	"phonon/internal/telephony"
	"phonon/pkg/logger"
	"phonon/pkg/utils"
)

// capSlack keeps a crashed process's concurrency slots from outliving its calls by much.
const capSlack = 5 * time.Minute

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Storage: Postgres when configured, memory otherwise.
	mem := calls.NewMemoryRepo()
	var (
		results calls.Repository     = mem
		reports reporting.Repository = mem
		history eventlog.Repository  = eventlog.NewMemoryRepo()
	)
	var db *sql.DB
	if cfg.DB.Enabled() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := utils.EnsureSchema(rootCtx, db, calls.Schema, eventlog.Schema); err != nil {
			log.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		pg := calls.NewPostgresRepo(db)
		results, reports = pg, pg
		history = eventlog.NewPostgresRepo(db)
	} else {
		log.Warn("DB_HOST not set; results are kept in memory")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	manager := newCallManager(cfg, log, results, rdb)

	eventLog := eventlog.NewService(history, log)
	manager.OnEvent(eventLog.Handler())
	if rdb != nil {
		manager.OnEvent(events.NewRedisPublisher(rdb, cfg.Redis.KeyPrefix+":calls", log).Handler())
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:    authManager,
		Calls:   manager,
		History: eventLog,
		Reports: reporting.NewService(reports),
	}
	wh := telephony.WebhookHandler{
		Sessions:  manager,
		StreamURL: telephony.StreamURL(publicBase(cfg)),
	}

	// Route groups
	registerPublicRoutes(r, h, wh, carrierAuth(cfg))
	registerAuthRoutes(r, h)
	registerProtectedRoutes(r, h, auth.RequireAccessToken(authManager))

	// No WriteTimeout: synchronous calls and media streams hold responses open for the whole call.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "public_base_url", publicBase(cfg))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// End live calls first; their media websockets keep the HTTP server busy otherwise.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("call shutdown incomplete", "err", err, "live", len(manager.ActiveCalls()))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func newCallManager(cfg config.Config, log *slog.Logger, results calls.Repository, rdb *redis.Client) *session.Manager {
	provider := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
	})

	profile := agent.DefaultProfile()
	if cfg.Deepgram.ProfileFile != "" {
		p, err := agent.LoadProfile(cfg.Deepgram.ProfileFile)
		if err != nil {
			log.Error("agent profile load failed", "path", cfg.Deepgram.ProfileFile, "err", err)
			os.Exit(1)
		}
		profile = p
	}
	dialer := agent.NewDeepgramDialer(cfg.Deepgram.APIKey, cfg.Deepgram.URL, profile, log)

	opts := session.Options{
		Config: session.Config{
			PublicBaseURL:   publicBase(cfg),
			DefaultVoice:    cfg.Calls.DefaultVoice,
			DefaultLanguage: cfg.Calls.DefaultLanguage,
			MaxDuration:     cfg.Calls.MaxDuration,
			RingTimeout:     cfg.Calls.RingTimeout,
			AnswerTimeout:   cfg.Calls.AnswerTimeout,
		},
		Results: results,
		Log:     log,
	}
	if cfg.OpenAI.APIKey != "" {
		opts.Evaluator = llm.NewOpenAIEvaluator(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	} else {
		log.Info("OPENAI_API_KEY not set; post-call evaluation uses agent signals only")
	}
	if rdb != nil && cfg.Calls.ConcurrencyLimit > 0 {
		opts.Limiter = utils.ConcurrencyCap{
			RDB:   rdb,
			Key:   cfg.Redis.KeyPrefix + ":calls:live",
			Limit: cfg.Calls.ConcurrencyLimit,
			TTL:   cfg.Calls.MaxDuration + cfg.Calls.AnswerTimeout + capSlack,
		}
	}
	return session.NewManager(provider, dialer, opts)
}

func publicBase(cfg config.Config) string {
	if cfg.App.PublicBaseURL != "" {
		return cfg.App.PublicBaseURL
	}
	return session.DefaultPublicBaseURL
}

// carrierAuth guards carrier webhooks with signature validation when enabled.
func carrierAuth(cfg config.Config) []gin.HandlerFunc {
	if !cfg.Twilio.ValidateSignatures {
		return nil
	}
	return []gin.HandlerFunc{telephony.ValidateSignature(cfg.Twilio.AuthToken, publicBase(cfg))}
}
