// Package feed pages item metadata from the gallery server
package feed

import (
	"context"
	"encoding/json"
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

const maxPageSize = 8 * 1024 * 1024 // 8 MB of JSON per page

// Client reads pages from GET /api/media
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	PageSize   int
	MediaType  string // optional type filter
}

// New creates a client for the server at baseURL
func New(baseURL string, pageSize int, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL has no host")
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		PageSize:   pageSize,
	}, nil
}

// FetchPage retrieves one page starting at offset
func (c *Client) FetchPage(ctx context.Context, offset, limit int) (*models.Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if c.MediaType != "" {
		q.Set("type", c.MediaType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/media?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create page request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d for page at offset %d", resp.StatusCode, offset)
	}

	var page models.Page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageSize)).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}
	return &page, nil
}

// Stream fetches pages in order and hands each to fn until the collection
// is exhausted, fn returns an error or ctx is cancelled
func (c *Client) Stream(ctx context.Context, fn func(models.Page) error) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.FetchPage(ctx, offset, c.PageSize)
		if err != nil {
			return err
		}
		if len(page.Items) == 0 {
			return nil
		}
		if err := fn(*page); err != nil {
			return err
		}

		offset += len(page.Items)
		log.Debugf("Fetched %d/%d items", offset, page.Total)
		if offset >= page.Total {
			return nil
		}
	}
}

// FetchAll collects every item of the collection
func (c *Client) FetchAll(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := c.Stream(ctx, func(p models.Page) error {
		items = append(items, p.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
