package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/facepay/internal/config"
	"github.com/kozaktomas/facepay/internal/database"
	"github.com/kozaktomas/facepay/internal/database/postgres"
	"github.com/kozaktomas/facepay/internal/facematch"
	"github.com/kozaktomas/facepay/internal/inference"
	"github.com/kozaktomas/facepay/internal/metrics"
	"github.com/kozaktomas/facepay/internal/notify"
	"github.com/kozaktomas/facepay/internal/stream"
	"github.com/kozaktomas/facepay/internal/web"
	"github.com/kozaktomas/facepay/internal/web/handlers"
	"github.com/kozaktomas/facepay/internal/web/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the real-time face matching server",
	Long: `Start the FacePay server.
Clients connect to /ws/face-recognition, stream base64 encoded frames and
receive detection and match results. Enrolled identities are loaded from
PostgreSQL when DATABASE_URL is set, otherwise the gallery starts empty.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default WEB_PORT or 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (default WEB_HOST or 0.0.0.0)")
}

// resolveServeHostPort prefers flags over the environment.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) (string, int) {
	host, port := cfg.Web.Host, cfg.Web.Port
	if h := mustGetString(cmd, "host"); h != "" {
		host = h
	}
	if p := mustGetInt(cmd, "port"); p > 0 {
		port = p
	}
	return host, port
}

// newMatcher creates the embedding cache for the configured model profile.
func newMatcher(cfg *config.Config) (*facematch.Matcher, error) {
	matcher, err := facematch.NewMatcher(facematch.MatcherOptions{
		Metric:          cfg.MatchMetric(),
		Threshold:       cfg.MatchThreshold(),
		Dim:             cfg.GetModelProfile().Dim,
		IndexMinSize:    cfg.Matching.IndexMinSize,
		IndexCandidates: cfg.Matching.IndexCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	return matcher, nil
}

// warmCache loads the stored embeddings of the active model into the matcher.
func warmCache(ctx context.Context, matcher *facematch.Matcher, store database.IdentityReader, model string, logger *slog.Logger) error {
	identities, err := store.ListIdentities(ctx, model)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	if err := matcher.Load(identities); err != nil {
		return fmt.Errorf("failed to load face cache: %w", err)
	}
	metrics.EnrolledIdentities.Set(float64(matcher.Count()))
	logger.Info("face cache loaded", "identities", matcher.Count(), "embeddings", matcher.EmbeddingCount(),
		"indexed", matcher.Indexed())
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := slog.Default()
	host, port := resolveServeHostPort(cmd, cfg)
	profile := cfg.GetModelProfile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	matcher, err := newMatcher(cfg)
	if err != nil {
		return err
	}

	var (
		identities  database.IdentityWriter
		matchEvents database.MatchEventReader
		dbPinger    handlers.Pinger
		notifiers   = notify.Multi{notify.LogNotifier{Logger: logger}}
	)

	if cfg.Database.URL != "" {
		logger.Info("connecting to PostgreSQL")
		pool, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		identityRepo := postgres.NewIdentityRepository(pool)
		eventRepo := postgres.NewMatchEventRepository(pool)
		identities = identityRepo
		matchEvents = eventRepo
		dbPinger = pool
		notifiers = append(notifiers, notify.StoreNotifier{Repo: eventRepo})

		if err := warmCache(ctx, matcher, identityRepo, cfg.Inference.Model, logger); err != nil {
			return err
		}
	} else {
		logger.Warn("DATABASE_URL not set, starting with an empty in-memory gallery")
	}

	if cfg.MQTT.Broker != "" {
		client, err := notify.ConnectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
		if err != nil {
			return err
		}
		mqttNotifier := notify.NewMQTTNotifier(client, cfg.MQTT.TopicPrefix, logger)
		defer mqttNotifier.Disconnect()
		notifiers = append(notifiers, mqttNotifier)
	}

	inferenceClient := inference.NewClient(cfg.Inference.URL, cfg.Inference.Model, profile.InputSize)
	scheduler := inference.NewScheduler(inferenceClient, inferenceClient, inference.SchedulerOptions{
		Workers:                cfg.Inference.Workers,
		QueueSize:              cfg.Inference.QueueSize,
		MinDetectionConfidence: cfg.Inference.MinDetectionConfidence,
		Timeout:                cfg.Inference.Timeout,
		Logger:                 logger,
	})

	sessions := stream.NewManager(cfg.Stream.OutboundBuffer, logger)
	dispatcher := stream.NewDispatcher(sessions, matcher, stream.DispatcherOptions{
		Notifier: notifiers,
		Logger:   logger,
	})
	ingestor := stream.NewIngestor(sessions, scheduler, dispatcher, cfg.Stream.MaxFrameBytes, logger)

	origins := middleware.NewOrigins(cfg.Web.AllowedOrigins)
	wsHandler := stream.NewHandler(sessions, ingestor, dispatcher, stream.HandlerOptions{
		WriteTimeout:    cfg.Stream.WriteTimeout,
		PingInterval:    cfg.Stream.PingInterval,
		MaxMessageBytes: stream.MessageLimit(cfg.Stream.MaxFrameBytes),
		CheckOrigin:     origins.CheckOrigin,
		Logger:          logger,
	})

	server := web.NewServer(web.Dependencies{
		Matcher:    matcher,
		Identities: identities,
		Matches:    matchEvents,
		Database:   dbPinger,
		Sessions:   sessions,
		Scheduler:  scheduler,
		Stream:     wsHandler,
		Origins:    origins,
		Model:      cfg.Inference.Model,
		Logger:     logger,
	}, host, port)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	fmt.Printf("FacePay listening on http://%s:%d (websocket /ws/face-recognition)\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	select {
	case err := <-serverErr:
		if err != nil {
			shutdownPipeline(sessions, scheduler, dispatcher)
			return fmt.Errorf("starting server: %w", err)
		}
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
	shutdownPipeline(sessions, scheduler, dispatcher)
	return nil
}

// shutdownPipeline closes every session, drains the worker pool and waits
// for pending match notifications.
func shutdownPipeline(sessions *stream.Manager, scheduler *inference.Scheduler, dispatcher *stream.Dispatcher) {
	sessions.CloseAll()
	scheduler.Stop()
	dispatcher.Wait()
}
