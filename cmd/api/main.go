package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/voice-chat/backend/internal/config"
	"github.com/zhouzirui/voice-chat/backend/internal/handler"
	"github.com/zhouzirui/voice-chat/backend/internal/logging"
	speechModel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/service/ai"
	"github.com/zhouzirui/voice-chat/backend/internal/service/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "console")
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if envErr != nil {
		log.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err == nil {
			aiService, err = ai.NewService(ctx, chatModel, cfg.AI)
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI service, continuing without AI functionality - 请检查 Ark 模型相关环境变量")
			aiService = nil
		} else {
			log.Info().Str("model", cfg.AI.Model).Msg("AI service initialized successfully")
		}
	} else {
		log.Warn().Msg("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	// Initialize Speech service
	var speechService *speech.Service
	if cfg.Speech.Enabled {
		speechConfig := &speechModel.SpeechConfig{
			APIKey:      cfg.Speech.APIKey,
			BaseURL:     cfg.Speech.BaseURL,
			ASRModel:    cfg.Speech.ASRModel,
			ASRLanguage: cfg.Speech.ASRLanguage,
			TTSModel:    cfg.Speech.TTSModel,
			TTSVoice:    cfg.Speech.TTSVoice,
			TTSSpeed:    cfg.Speech.TTSSpeed,
			TempDir:     cfg.Speech.TempDir,
			Timeout:     cfg.Speech.Timeout,
		}
		speechService = speech.NewService(speechConfig)
		log.Info().Str("base_url", cfg.Speech.BaseURL).Msg("Speech service initialized successfully")
	} else {
		log.Warn().Msg("语音服务凭证未配置，跳过语音功能初始化")
	}

	// 处理链路的生命周期跟随进程，而不是单个连接
	chainCtx, cancelChains := context.WithCancel(context.Background())
	defer cancelChains()

	metrics := session.NewMetrics()
	registry := session.NewRegistry(metrics)
	manager := session.NewManager(chainCtx, registry, gateways(aiService, speechService), metrics, session.Options{
		MinAudioBytes: cfg.Session.MinAudioBytes,
		MaxAudioBytes: cfg.Session.MaxAudioBytes,
		IdleTimeout:   cfg.Session.IdleTimeout,
		WriteTimeout:  cfg.Session.WriteTimeout,
		ChainTimeout:  3 * time.Duration(cfg.Speech.Timeout) * time.Second,
		Language:      cfg.Speech.ASRLanguage,
	})

	router := handler.NewRouter(handler.Services{
		AI:             aiService,
		Speech:         speechService,
		Sessions:       manager,
		Metrics:        metrics,
		MaxUploadBytes: cfg.Session.MaxAudioBytes,
	})

	startServer(ctx, cfg.Server, router, manager)
}

// gateways 只装配已初始化的服务，避免 nil 指针进入接口
func gateways(aiService *ai.Service, speechService *speech.Service) session.Gateways {
	var gw session.Gateways
	if aiService != nil {
		gw.Completer = aiService
	}
	if speechService != nil {
		gw.Transcriber = speechService
		gw.Synthesizer = speechService
	}
	return gw
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, manager *session.Manager) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Voice Chat AI server listening")
	if err := runServer(ctx, srv, manager); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server, manager *session.Manager) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		// hijacked websocket connections are not tracked by Shutdown
		manager.Registry().CloseAll()
		if err := manager.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("processing chains still running at shutdown")
		}

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
