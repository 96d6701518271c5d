package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/mri-classifier/internal/artifact"
	"github.com/Brownie44l1/mri-classifier/internal/classifier"
	"github.com/Brownie44l1/mri-classifier/internal/config"
	"github.com/Brownie44l1/mri-classifier/internal/model"
	"github.com/Brownie44l1/mri-classifier/internal/preprocess"
)

// ensureModel downloads the model file when it is missing locally.
func ensureModel(ctx context.Context, cfg *config.Config) (bool, error) {
	src, err := artifact.FromConfig(cfg.Model.Source, artifact.NewHTTPClient(cfg.Download.Timeout))
	if err != nil {
		return false, err
	}

	var progress io.Writer
	if cfg.Download.Progress {
		progress = os.Stderr
	}
	downloaded, err := artifact.Ensure(ctx, cfg.Model.Path, src, artifact.Options{
		Progress: progress,
		Log:      log.StandardLogger(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to obtain model: %w", err)
	}
	return downloaded, nil
}

// loadService fetches the model if needed, loads it and builds the
// classification service around it. The caller owns the returned session.
func loadService(ctx context.Context, cfg *config.Config) (*classifier.Service, *model.Session, error) {
	if _, err := ensureModel(ctx, cfg); err != nil {
		return nil, nil, err
	}

	layout, err := preprocess.ParseLayout(cfg.Model.Layout)
	if err != nil {
		return nil, nil, err
	}
	interp, err := preprocess.ParseInterpolation(cfg.Model.Interpolation)
	if err != nil {
		return nil, nil, err
	}

	sess, err := model.Load(cfg.Model.Path, model.Options{
		MetadataPath:   cfg.Model.MetadataPath,
		RuntimeLibrary: cfg.Model.RuntimeLibrary,
		Threads:        cfg.Model.Threads,
		ImageSize:      cfg.Model.ImageSize,
		Layout:         layout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model: %w", err)
	}

	meta := sess.Metadata()
	tensorLayout, err := meta.TensorLayout()
	if err != nil {
		_ = sess.Close()
		return nil, nil, err
	}
	pre, err := preprocess.New(meta.ImageSize, tensorLayout, interp)
	if err != nil {
		_ = sess.Close()
		return nil, nil, err
	}

	svc, err := classifier.New(sess, pre, log.StandardLogger())
	if err != nil {
		_ = sess.Close()
		return nil, nil, err
	}

	log.WithFields(log.Fields{
		"path":        cfg.Model.Path,
		"input":       meta.InputName,
		"input_shape": meta.InputShape,
		"output":      meta.OutputName,
		"layout":      tensorLayout.String(),
		"image_size":  meta.ImageSize,
		"classes":     meta.Classes,
	}).Info("Model loaded")
	return svc, sess, nil
}

func closeModel(sess *model.Session) {
	if err := sess.Close(); err != nil {
		log.WithError(err).Warn("Failed to close model session")
	}
	if err := model.Shutdown(); err != nil {
		log.WithError(err).Warn("Failed to shut down ONNX Runtime")
	}
}
