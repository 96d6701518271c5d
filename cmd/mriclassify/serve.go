package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/mri-classifier/internal/handlers"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload page and JSON API",
		Long: `Serve downloads the model if it is missing, loads it, and starts the
HTTP server. Failure to obtain or load the model stops the command before
the server accepts any request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().Int("port", 8080, "port to listen on")
	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	cfg := a.cfg

	svc, sess, err := loadService(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Model unavailable, not starting server")
		return err
	}
	defer closeModel(sess)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.NewHandler(svc, handlers.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		Log:            log.StandardLogger(),
	})

	addr := cfg.ServerAddress()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Server starting")
		log.Info("Endpoints:")
		log.Info("  GET  /                 - Upload page")
		log.Info("  POST /                 - Classify uploaded images (HTML)")
		log.Info("  POST /api/v1/classify  - Classify uploaded images (JSON)")
		log.Info("  POST /predict/image    - Classify one image")
		log.Info("  POST /predict          - Classify a preprocessed tensor")
		log.Info("  GET  /api/v1/labels    - Tumor types and colours")
		log.Info("  GET  /health           - Health check")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
