package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/facecam/internal/camera"
	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/web"
	"github.com/kozaktomas/facecam/internal/web/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the facecam web server.
The server exposes detection, descriptor management and matching over HTTP,
drives the camera loop when CAMERA_SOURCE is set and serves a small page
showing the annotated frames.

Without DATABASE_URL (or MARIADB_DSN) the server still detects faces, but
accounts and stored descriptors are unavailable.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (overrides WEB_SESSION_SECRET)")
}

// applyServeFlags lets explicitly set flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = mustGetString(cmd, "host")
	}
	if secret := mustGetString(cmd, "session-secret"); secret != "" {
		cfg.Web.SessionSecret = secret
	}
}

// initServeStorage registers the descriptor store when one is configured.
func initServeStorage(cfg *config.Config) (middleware.SessionRepository, error) {
	if !cfg.PersistenceEnabled() {
		fmt.Println("Warning: no database configured, accounts and descriptors are disabled")
		return nil, nil
	}
	sessionRepo, err := initStorage(cfg)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Using %s backend\n", database.BackendName())

	if rebuilder := database.GetHNSWRebuilder(); rebuilder != nil {
		if cfg.Database.HNSWIndexPath != "" {
			fmt.Printf("Descriptor HNSW indexes enabled (persisted to %s)\n", cfg.Database.HNSWIndexPath)
		} else {
			fmt.Println("Descriptor HNSW indexes enabled (in-memory only)")
		}
	}
	if sessionRepo != nil {
		fmt.Println("Session persistence enabled (PostgreSQL)")
	}
	return sessionRepo, nil
}

// newCameraLoop builds the camera loop when CAMERA_SOURCE is set. Results
// are published to MQTT_BROKER when configured.
func newCameraLoop(ctx context.Context, cfg *config.Config, det detector.Detector) (*camera.Loop, *camera.MQTTEmitter) {
	if cfg.Camera.Source == "" {
		fmt.Println("No CAMERA_SOURCE configured, camera endpoints are disabled")
		return nil, nil
	}

	loopCfg := camera.LoopConfig{
		Name:     cfg.Camera.Name,
		Interval: cfg.Camera.Interval,
		Detector: det,
		Open: func() (camera.Source, error) {
			return camera.OpenSource(cfg.Camera.Source, cfg.Camera.Loop)
		},
		SkipUnchanged: cfg.Camera.SkipUnchanged,
	}

	var emitter *camera.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		emitter = camera.NewMQTTEmitter(cfg.MQTT, cfg.Camera.Name)
		if err := emitter.Connect(ctx); err != nil {
			fmt.Printf("Warning: MQTT connect failed (%v), will keep retrying\n", err)
		} else {
			fmt.Printf("Publishing detections to %s on %s\n", emitter.Topic(), cfg.MQTT.Broker)
		}
		loopCfg.Sink = emitter
	}

	fmt.Printf("Camera %s configured (%s, every %s)\n", cfg.Camera.Name, cfg.Camera.Source, cfg.Camera.Interval)
	return camera.NewLoop(loopCfg), emitter
}

// saveHNSWIndexes saves the descriptor HNSW indexes to disk during shutdown.
func saveHNSWIndexes() {
	if rebuilder := database.GetHNSWRebuilder(); rebuilder != nil {
		if err := rebuilder.SaveHNSWIndex(); err != nil {
			fmt.Printf("Warning: failed to save HNSW indexes: %v\n", err)
		} else {
			fmt.Println("HNSW indexes saved to disk")
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyServeFlags(cmd, cfg)

	sessionRepo, err := initServeStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	det, err := detector.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	defer det.Close()
	model := cfg.Model()
	fmt.Printf("Face model: %s (%s backend, %d-dim %s descriptors, threshold %.2f)\n",
		model.Name, cfg.Detector.Backend, model.Dim, model.Metric, cfg.MatchThreshold())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop, emitter := newCameraLoop(ctx, cfg, det)
	server := web.NewServer(cfg, det, loop, sessionRepo)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveHNSWIndexes()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		if emitter != nil {
			emitter.Disconnect()
		}
	}()

	fmt.Printf("Starting facecam on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
