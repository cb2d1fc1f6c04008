package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-journal/backend/internal/config"
	"github.com/zhouzirui/z-journal/backend/internal/handler"
	"github.com/zhouzirui/z-journal/backend/internal/handler/progress"
	"github.com/zhouzirui/z-journal/backend/internal/logger"
	"github.com/zhouzirui/z-journal/backend/internal/scheduler"
	chatservice "github.com/zhouzirui/z-journal/backend/internal/service/chat"
	"github.com/zhouzirui/z-journal/backend/internal/service/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/service/journal"
	"github.com/zhouzirui/z-journal/backend/internal/service/llm"
	"github.com/zhouzirui/z-journal/backend/internal/service/memory"
	"github.com/zhouzirui/z-journal/backend/internal/store"
	"github.com/zhouzirui/z-journal/backend/internal/store/sqlite"
)

const (
	summaryJobTimeout = 2 * time.Minute
	summaryCacheSize  = 4096
)

var rootCmd = &cobra.Command{
	Use:   "z-journal",
	Short: "z-journal - journaling companion backend",
	RunE:  runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (default)",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-badges",
	Short: "Grant any badges whose conditions already hold, then exit",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(serveCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stores groups the persistence backends selected by configuration.
type stores struct {
	stats       store.Stats
	badges      store.Badges
	summaries   store.Summaries
	transcripts store.Transcripts
	closers     []io.Closer
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func bootstrap() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v; continuing with system environment variables only\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.Log)
	return cfg, nil
}

func openStores(ctx context.Context, cfg config.StoreConfig) (*stores, error) {
	s := &stores{}

	if cfg.Path != "" {
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		s.stats, s.badges, s.summaries, s.transcripts = db, db, db, db
		s.closers = append(s.closers, db)
		logger.Info("using sqlite store", "path", cfg.Path)
	} else {
		mem := store.NewMemoryStore()
		s.stats, s.badges, s.summaries = mem, mem, mem
		s.transcripts = chatservice.NewService()
		logger.Warn("DB_PATH not set, using in-memory store; data is lost on restart")
	}

	if cfg.CacheEnabled {
		cached, err := store.NewCachedSummaries(s.summaries, summaryCacheSize)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.summaries = cached
		s.closers = append(s.closers, closerFunc(func() error {
			cached.Close()
			return nil
		}))
	}
	return s, nil
}

// newInvoker returns nil when no model is configured; summaries then fall
// back to the placeholder.
func newInvoker(ctx context.Context, cfg config.AIConfig) memory.Invoker {
	if !cfg.Enabled() {
		logger.Info("Ark 凭证未配置，摘要将使用占位内容")
		return nil
	}

	primary, err := cfg.NewChatModel(ctx, cfg.PrimaryModel)
	if err != nil {
		logger.Warn("failed to initialize primary model", "model", cfg.PrimaryModel, "error", err)
		return nil
	}
	tiers := []llm.Tier{{Name: cfg.PrimaryModel, Model: primary}}

	if cfg.FallbackEnabled() {
		fallback, err := cfg.NewChatModel(ctx, cfg.FallbackModel)
		if err != nil {
			logger.Warn("failed to initialize fallback model, continuing without it", "model", cfg.FallbackModel, "error", err)
		} else {
			tiers = append(tiers, llm.Tier{Name: cfg.FallbackModel, Model: fallback})
		}
	}

	invoker, err := llm.NewInvoker(ctx, llm.Policy{Tiers: tiers, Timeout: cfg.Timeout})
	if err != nil {
		logger.Warn("failed to compile model chain", "error", err)
		return nil
	}
	logger.Info("model invoker initialized", "tiers", len(tiers))
	return invoker
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := progress.NewHub()
	evaluator := gamification.NewEvaluator(st.stats, st.badges, nil)
	engine := gamification.NewEngine(st.stats, evaluator, gamification.Options{
		Location: cfg.Gamification.Location,
		Notifier: hub,
	})

	journalSvc := journal.NewService(journal.Deps{
		Transcripts: st.transcripts,
		Summaries:   st.summaries,
		Compressor:  memory.NewCompressor(newInvoker(ctx, cfg.AI)),
		Assembler:   memory.NewAssembler(cfg.Memory.RecentTurns),
		Engine:      engine,
		Runner:      journal.NewRunner(cfg.Memory.Workers, summaryJobTimeout),
	})

	sweep := scheduler.NewBadgeSweep(cfg.Gamification.BadgeSweep, evaluator, time.Minute)
	if err := sweep.Start(); err != nil {
		return err
	}

	router := handler.NewRouter(handler.Deps{
		Journal: journalSvc,
		Engine:  engine,
		Badges:  st.badges,
		Hub:     hub,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("z-journal backend listening", "addr", cfg.Server.Addr)
	serveErr := runServer(ctx, srv)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sweep.Stop(shutdownCtx); err != nil {
		logger.Warn("badge sweep did not stop in time", "error", err)
	}
	if err := journalSvc.Close(shutdownCtx); err != nil {
		logger.Warn("pending summaries did not finish before shutdown", "error", err)
	}
	return serveErr
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}

	st, err := openStores(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	evaluator := gamification.NewEvaluator(st.stats, st.badges, nil)
	granted, err := scheduler.NewBadgeSweep("", evaluator, 5*time.Minute).RunOnce(cmd.Context())
	for userID, codes := range granted {
		if len(codes) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", userID, codes)
		}
	}
	return err
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
