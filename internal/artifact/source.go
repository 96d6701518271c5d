package artifact

import (
	"fmt"
	"net/http"

	"github.com/Brownie44l1/mri-classifier/internal/config"
)

// FromConfig builds the Source described by cfg. It returns a nil Source for
// kind "none".
func FromConfig(cfg config.SourceConfig, client *http.Client) (Source, error) {
	switch cfg.Kind {
	case config.SourceNone, "":
		return nil, nil
	case config.SourceGDrive:
		if cfg.FileID == "" {
			return nil, nil
		}
		return &GDriveSource{FileID: cfg.FileID, Client: client}, nil
	case config.SourceHTTP:
		if cfg.URL == "" {
			return nil, nil
		}
		return &HTTPSource{URL: cfg.URL, Client: client}, nil
	case config.SourceAzure:
		az := cfg.Azure
		src, err := NewAzureSource(az.Account, az.Key, "", az.Container, az.Blob)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("artifact: unknown source kind %q", cfg.Kind)
	}
}
