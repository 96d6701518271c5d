package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/mri-classifier/internal/classifier"
	"github.com/Brownie44l1/mri-classifier/internal/render"
)

func (a *app) classifyCmd() *cobra.Command {
	var htmlOut string

	cmd := &cobra.Command{
		Use:   "classify <image>...",
		Short: "Classify MRI images and print a prediction panel for each",
		Example: `  mriclassify classify scan1.jpg scan2.png
  mriclassify classify --html report.html scans/*.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads, err := readUploads(args)
			if err != nil {
				return err
			}

			svc, sess, err := loadService(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer closeModel(sess)

			outcomes := svc.ClassifyBatch(cmd.Context(), uploads)

			out := cmd.OutOrStdout()
			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
				}
				if err := render.Terminal(out, o); err != nil {
					return err
				}
			}

			if htmlOut != "" {
				if err := writeHTML(htmlOut, outcomes, a.cfg.Server.MaxUploadBytes); err != nil {
					return err
				}
				fmt.Fprintf(out, "Report written to %s\n", htmlOut)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d images could not be classified", failed, len(outcomes))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&htmlOut, "html", "", "also write the results as an HTML page")
	return cmd
}

func readUploads(paths []string) ([]classifier.Upload, error) {
	uploads := make([]classifier.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		uploads = append(uploads, classifier.Upload{Name: filepath.Base(p), Data: data})
	}
	return uploads, nil
}

func writeHTML(path string, outcomes []classifier.Outcome, maxUpload int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := render.HTML(f, render.NewPage(outcomes, maxUpload)); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return f.Close()
}
