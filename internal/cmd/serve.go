package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bankabc/voicegate/internal/agent"
	"github.com/bankabc/voicegate/internal/bank"
	"github.com/bankabc/voicegate/internal/config"
	"github.com/bankabc/voicegate/internal/flow"
	"github.com/bankabc/voicegate/internal/guard"
	"github.com/bankabc/voicegate/internal/llm"
	"github.com/bankabc/voicegate/internal/server"
	"github.com/bankabc/voicegate/internal/session"
	"github.com/bankabc/voicegate/internal/speech"
	"github.com/bankabc/voicegate/internal/trigger"
)

var (
	servePort     int
	serveGuardCfg string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voicegate server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP server port (overrides config)")
	serveCmd.Flags().StringVar(&serveGuardCfg, "guard-patterns", "", "path to a YAML file of extra leak detectors (optional)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if cfg.GroqAPIKey == "" {
		log.Warn().Msg("VOICEGATE_GROQ_API_KEY not set, upstream reasoning and transcription will fail")
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	store, err := session.NewStore(cfg.SessionsDBPath())
	if err != nil {
		return fmt.Errorf("initializing session store: %w", err)
	}
	defer store.Close()

	var guardOpts []guard.Option
	if serveGuardCfg != "" {
		guardOpts = append(guardOpts, guard.WithDetectorFile(serveGuardCfg))
	}
	guardrail, err := guard.New(guardOpts...)
	if err != nil {
		return fmt.Errorf("initializing guardrail: %w", err)
	}

	provider := llm.NewGroqProvider(cfg.GroqAPIKey, cfg.GroqBaseURL)
	invoker, err := llm.NewInvoker(provider, cfg.ModelCandidates)
	if err != nil {
		return fmt.Errorf("initializing model invoker: %w", err)
	}

	dir := bank.NewDirectory()
	router := flow.NewRouter(invoker)
	orch := agent.New(store, dir, invoker, router, guardrail, cfg.MaxToolLoopSteps, cfg.DefaultEnvKey)

	transcriber := speech.NewTranscriber(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.STTModel)
	synthesizer := speech.NewSynthesizer(cfg.DeepgramAPIKey, cfg.DeepgramBaseURL, cfg.TTSModel)

	sweeper := trigger.NewSweeper(store,
		time.Duration(cfg.SessionIdleMin)*time.Minute, cfg.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting session sweeper: %w", err)
	}
	defer sweeper.Stop()

	srv := server.NewServer(orch, store, transcriber, synthesizer,
		server.WithAudioLimits(cfg.MinAudioBytes, cfg.MaxAudioBytes),
		server.WithTurnRate(cfg.TurnsPerMinute),
		server.WithCORSOrigins([]string{"*"}),
		server.WithDefaultEnv(cfg.DefaultEnvKey),
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("active_model", invoker.ActiveModel()).
		Str("default_env", cfg.DefaultEnvKey).
		Msg("voicegate_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
