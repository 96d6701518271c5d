// Package artifact makes sure the model file exists locally, downloading it
// from its configured source the first time.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoSource is returned when the model is missing and there is nowhere
	// to download it from.
	ErrNoSource      = errors.New("artifact: model missing and no download source configured")
	ErrEmptyDownload = errors.New("artifact: source returned an empty file")
)

// Source is a remote location of the model file.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Open starts the download. size is -1 when unknown.
	Open(ctx context.Context) (body io.ReadCloser, size int64, err error)
}

// Options tunes Ensure.
type Options struct {
	// Progress receives a progress bar while downloading; nil disables it.
	Progress io.Writer
	Log      logrus.FieldLogger
}

// Ensure returns immediately when path exists. Otherwise it downloads the
// file from src into a temporary file next to path and renames it into place,
// so a failed download never leaves a partial model behind. The download is
// attempted once. downloaded reports whether a fetch happened.
func Ensure(ctx context.Context, path string, src Source, opts Options) (downloaded bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("artifact: stat %s: %w", path, err)
	}
	if src == nil {
		return false, fmt.Errorf("%w: %s", ErrNoSource, path)
	}

	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	start := time.Now()
	log.WithFields(logrus.Fields{
		"path":   path,
		"source": src.Name(),
	}).Info("Model file missing, downloading")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("artifact: create %s: %w", dir, err)
	}

	body, size, err := src.Open(ctx)
	if err != nil {
		return false, fmt.Errorf("artifact: download from %s: %w", src.Name(), err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return false, fmt.Errorf("artifact: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	var w io.Writer = tmp
	if opts.Progress != nil {
		w = io.MultiWriter(tmp, newProgressBar(opts.Progress, size))
	}

	written, err := io.Copy(w, body)
	if err != nil {
		return false, fmt.Errorf("artifact: download from %s: %w", src.Name(), err)
	}
	if written == 0 {
		err = ErrEmptyDownload
		return false, err
	}
	if size > 0 && written != size {
		err = fmt.Errorf("artifact: short download: got %d of %d bytes", written, size)
		return false, err
	}
	if err = tmp.Close(); err != nil {
		return false, fmt.Errorf("artifact: close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return false, fmt.Errorf("artifact: move into place: %w", err)
	}

	log.WithFields(logrus.Fields{
		"path":        path,
		"bytes":       written,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Model downloaded")
	return true, nil
}

func newProgressBar(w io.Writer, size int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Downloading model"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}
