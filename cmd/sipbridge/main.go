package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sipaivoice/bridge/internal/airealtime"
	"github.com/sipaivoice/bridge/internal/callsession"
	"github.com/sipaivoice/bridge/internal/config"
	"github.com/sipaivoice/bridge/internal/events"
	"github.com/sipaivoice/bridge/internal/metrics"
	"github.com/sipaivoice/bridge/internal/registrar"
)

// exit codes per the external interface contract: 0 normal shutdown, 1
// fatal configuration error, 2 unrecoverable socket failure, 130 SIGINT.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitSocketFailure = 2
	exitInterrupted   = 130
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("starting sipbridge",
		"sip_server", cfg.SIPServer,
		"sip_client_port", cfg.SIPClientPort,
		"rtp_port", cfg.RTPPort,
		"rtp_port_max", cfg.RTPPortMax,
		"max_concurrent_calls", cfg.MaxConcurrentCalls,
		"skip_sip_registration", cfg.SkipSIPRegistration,
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	bus := events.NewBus()

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("sipbridge"),
		sipgo.WithUserAgentHostname(cfg.PublicIP),
	)
	if err != nil {
		logger.Error("failed to create sip user agent", "error", err)
		os.Exit(exitSocketFailure)
	}

	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(logger))
	if err != nil {
		logger.Error("failed to create sip server", "error", err)
		os.Exit(exitSocketFailure)
	}

	client, err := sipgo.NewClient(ua, sipgo.WithClientLogger(logger.With("subsystem", "registrar")))
	if err != nil {
		logger.Error("failed to create sip client", "error", err)
		os.Exit(exitSocketFailure)
	}

	var regEngine *registrar.Engine
	if !cfg.SkipSIPRegistration {
		regEngine = registrar.NewEngine(ua, client, registrar.Config{
			Server:      cfg.SIPServer,
			Extension:   cfg.SIPAuthUser,
			AuthUser:    cfg.SIPAuthUser,
			Secret:      cfg.SIPPassword,
			ContactHost: cfg.PublicIP,
			ContactPort: cfg.SIPClientPort,
		}, logger, bus)
		go regEngine.Run(appCtx)
	}

	aiClient := buildAIClient(cfg, logger, bus)
	if err := aiClient.Start(appCtx); err != nil {
		logger.Error("failed to start ai realtime client", "error", err)
		os.Exit(exitSocketFailure)
	}
	openAI := buildOpenAICallback(aiClient, logger)

	manager := callsession.NewManager(appCtx, callsession.ManagerConfig{
		Session: callsession.Config{
			RequireRTPBeforeAI:    cfg.RequireRTPBeforeAI,
			StrictBYE:             cfg.StrictBYE,
			SessionExpiresSeconds: cfg.SessionExpiresSeconds,
		},
		MaxConcurrentCalls: cfg.MaxConcurrentCalls,
		PublicIP:           cfg.PublicIP,
		RTPPortMin:         cfg.RTPPort,
		RTPPortMax:         cfg.RTPPortMax,
	}, logger, bus, openAI)

	collector := metrics.NewCollector(manager, bus, time.Now())
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		logger.Error("failed to register metrics collector", "error", err)
		os.Exit(exitConfigError)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: ":9090", Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	srv.OnInvite(manager.HandleInvite)
	srv.OnAck(func(req *sip.Request, tx sip.ServerTransaction) { manager.HandleAck(req) })
	srv.OnBye(manager.HandleBye)
	srv.OnCancel(manager.HandleCancel)
	srv.OnOptions(registrar.HandleOptions(logger))
	srv.OnNotify(registrar.HandleNotify(logger))

	errCh := make(chan error, 2)
	addr := fmt.Sprintf(":%d", cfg.SIPClientPort)
	go func() {
		logger.Info("sip udp listener starting", "addr", addr)
		if err := srv.ListenAndServe(appCtx, "udp", addr); err != nil {
			errCh <- fmt.Errorf("udp listener: %w", err)
		}
	}()
	go func() {
		logger.Info("sip tcp listener starting", "addr", addr)
		if err := srv.ListenAndServe(appCtx, "tcp", addr); err != nil {
			errCh <- fmt.Errorf("tcp listener: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := exitOK
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
		if sig == syscall.SIGINT {
			exitCode = exitInterrupted
		}
	case err := <-errCh:
		logger.Error("sip listener error", "error", err)
		exitCode = exitSocketFailure
	}

	appCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	aiClient.Close()
	_ = srv.Close()
	ua.Close()

	logger.Info("shutdown complete", "exit_code", exitCode)
	os.Exit(exitCode)
}

// buildAIClient constructs the single process-wide airealtime.Client. Per
// spec the bridge keeps one long-lived WebSocket to the realtime provider
// and multiplexes every concurrent call's audio over it as a distinct leg,
// rather than dialing a fresh socket per call.
func buildAIClient(cfg *config.Config, logger *slog.Logger, bus *events.Bus) *airealtime.Client {
	aiCfg := airealtime.Config{
		URL:          cfg.AIRealtimeURL,
		APIKey:       cfg.AIAPIKey,
		Voice:        cfg.AIVoice,
		Instructions: cfg.AIInstructions,
		AudioFormat:  "g711_ulaw",
		Tools: []airealtime.ToolDefinition{
			{
				Name:        "transfer_call",
				Description: "Transfer the active call to another extension",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"extension": map[string]any{"type": "string"},
					},
					"required": []string{"extension"},
				},
			},
			{
				Name:        "end_call",
				Description: "End the active call",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		},
	}

	return airealtime.NewClient(aiCfg, logger, bus, nil)
}

// buildOpenAICallback constructs the closure callsession.Manager invokes
// once per session on entering MEDIA_READY: open a new leg on the shared
// airealtime.Client, wire its lifecycle hooks back into the session's
// mailbox, and attach in the background so the session's own goroutine is
// never blocked on the provider handshake.
func buildOpenAICallback(aiClient *airealtime.Client, baseLogger *slog.Logger) func(*callsession.Session) {
	return func(s *callsession.Session) {
		logger := baseLogger.With("subsystem", "sipbridge", "call_id", s.CallID)

		handle := aiClient.NewCall()
		handle.OnSessionConfigured = s.NotifyAISessionConfigured
		handle.OnResponseStarted = s.NotifyAIResponseStarted
		handle.OnResponseDone = s.NotifyAIResponseDone
		handle.OnFatalError = s.NotifyAIFatalError
		handle.OnToolCall = func(name, argumentsJSON, callID string) {
			switch name {
			case "end_call":
				logger.Info("function call: end_call", "call_id", callID)
				s.RequestEndCall()
			case "transfer_call":
				// REFER-based transfer is out of scope (spec Non-goals); log
				// the request so an operator can act on it manually.
				logger.Info("function call: transfer_call", "call_id", callID, "arguments", argumentsJSON)
			default:
				logger.Warn("unknown function call", "name", name, "call_id", callID)
			}
		}

		s.SetAIClient(handle)

		go func() {
			if err := handle.Open(s.Context(), s.CallID, s.NotifyAIAudio); err != nil {
				logger.Error("failed to open ai realtime session", "error", err)
				s.NotifyAIFatalError(err)
			}
		}()
	}
}
