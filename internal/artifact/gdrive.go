package artifact

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// DriveBaseURL is the public Google Drive download endpoint.
const DriveBaseURL = "https://drive.google.com/uc"

// ErrDriveInterstitial is returned when Drive keeps answering with an HTML
// page instead of the file, typically because the file is not shared
// publicly or its download quota is exhausted.
var ErrDriveInterstitial = errors.New("google drive returned an HTML page instead of the file")

var (
	formActionRe  = regexp.MustCompile(`<form[^>]+action="([^"]+)"`)
	hiddenInputRe = regexp.MustCompile(`<input[^>]+type="hidden"[^>]+name="([^"]+)"[^>]+value="([^"]*)"`)
	confirmRe     = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)
)

// GDriveSource downloads a publicly shared Google Drive file by ID. Large
// files are served behind a "can't scan for viruses" page; the confirmation
// token on that page is followed once.
type GDriveSource struct {
	FileID string
	Client *http.Client
	// BaseURL overrides DriveBaseURL.
	BaseURL string
}

func (s *GDriveSource) Name() string {
	return "gdrive:" + s.FileID
}

func (s *GDriveSource) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	if strings.TrimSpace(s.FileID) == "" {
		return nil, 0, errors.New("google drive file id is empty")
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	first := s.downloadURL()
	resp, err := get(ctx, client, first, nil)
	if err != nil {
		return nil, 0, err
	}
	if !isHTML(resp) {
		return resp.Body, resp.ContentLength, nil
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("read google drive page: %w", err)
	}

	next := confirmURL(first, string(page), resp.Cookies())
	resp, err = get(ctx, client, next, resp.Cookies())
	if err != nil {
		return nil, 0, err
	}
	if isHTML(resp) {
		resp.Body.Close()
		return nil, 0, ErrDriveInterstitial
	}
	return resp.Body, resp.ContentLength, nil
}

func (s *GDriveSource) downloadURL() string {
	base := s.BaseURL
	if base == "" {
		base = DriveBaseURL
	}
	q := url.Values{}
	q.Set("export", "download")
	q.Set("id", s.FileID)
	return base + "?" + q.Encode()
}

func isHTML(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

// confirmURL builds the follow-up request for a Drive warning page. It
// prefers the page's download form, then a confirm token in the page or a
// download_warning cookie, and finally falls back to confirm=t.
func confirmURL(original, page string, cookies []*http.Cookie) string {
	if m := formActionRe.FindStringSubmatch(page); m != nil {
		action, err := url.Parse(html.UnescapeString(m[1]))
		if err == nil {
			if !action.IsAbs() {
				if base, err := url.Parse(original); err == nil {
					action = base.ResolveReference(action)
				}
			}
			q := action.Query()
			for _, in := range hiddenInputRe.FindAllStringSubmatch(page, -1) {
				q.Set(html.UnescapeString(in[1]), html.UnescapeString(in[2]))
			}
			action.RawQuery = q.Encode()
			return action.String()
		}
	}

	token := "t"
	if m := confirmRe.FindStringSubmatch(page); m != nil {
		token = m[1]
	}
	for _, c := range cookies {
		if strings.HasPrefix(c.Name, "download_warning") {
			token = c.Value
			break
		}
	}

	u, err := url.Parse(original)
	if err != nil {
		return original
	}
	q := u.Query()
	q.Set("confirm", token)
	u.RawQuery = q.Encode()
	return u.String()
}
