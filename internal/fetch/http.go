package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ST2Projects/media-grid/pkg/models"
	log "github.com/sirupsen/logrus"
)

// StatusHeader marks a 500 response as a permanent thumbnail failure
const StatusHeader = "X-Thumbnail-Status"

// StatusFailed is the StatusHeader value for permanent failures
const StatusFailed = "failed"

const maxThumbnailSize = 32 * 1024 * 1024 // 32 MB limit

// HTTPSource fetches thumbnails from a gallery server
type HTTPSource struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPSource creates a source for the server at baseURL
func NewHTTPSource(baseURL string, timeout time.Duration) (*HTTPSource, error) {
	if err := validateURL(baseURL); err != nil {
		return nil, fmt.Errorf("invalid thumbnail base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ThumbnailURL resolves the URL for an item. An absolute ThumbnailRef is used
// as is, a relative one is joined to the base URL, otherwise the item id is
// used against /thumbnails/.
func (s *HTTPSource) ThumbnailURL(item models.Item) string {
	ref := item.ThumbnailRef
	switch {
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		return ref
	case ref != "":
		return s.BaseURL + "/" + strings.TrimPrefix(ref, "/")
	default:
		return s.BaseURL + "/thumbnails/" + url.PathEscape(item.ID)
	}
}

// Fetch requests the item's thumbnail and classifies the response
func (s *HTTPSource) Fetch(ctx context.Context, item models.Item) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ThumbnailURL(item), nil)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create thumbnail request: %w", err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()

	// Check Content-Length header if available
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil && size > maxThumbnailSize {
			return Response{}, fmt.Errorf("thumbnail too large: %d bytes (max %d)", size, maxThumbnailSize)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxThumbnailSize+1))
	if err != nil {
		return Response{}, fmt.Errorf("failed to read thumbnail body: %w", err)
	}
	if len(body) > maxThumbnailSize {
		return Response{}, fmt.Errorf("thumbnail exceeds %d bytes", maxThumbnailSize)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return Response{Outcome: OutcomeReady, Body: body}, nil
	case resp.StatusCode == http.StatusAccepted:
		return Response{Outcome: OutcomeProcessing, Body: body}, nil
	case resp.StatusCode == http.StatusNotFound:
		return Response{Outcome: OutcomeNotFound}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{Outcome: OutcomeRateLimited, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}, nil
	case resp.StatusCode == http.StatusInternalServerError && strings.EqualFold(resp.Header.Get(StatusHeader), StatusFailed):
		return Response{Outcome: OutcomeFailed, Body: body}, nil
	default:
		log.Debugf("Transient thumbnail error for %s: %s", item.ID, resp.Status)
		return Response{}, fmt.Errorf("thumbnail request failed with status %d", resp.StatusCode)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date; anything else is 0
func parseRetryAfter(raw string) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(s); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

// validateURL checks that a base URL is an absolute http(s) URL
func validateURL(urlStr string) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	// Only allow HTTP and HTTPS schemes
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http and https allowed)", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	return nil
}
