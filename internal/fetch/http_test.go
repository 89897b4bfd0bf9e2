package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ST2Projects/media-grid/pkg/models"
)

func TestHTTPSourceClassifiesResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		header      map[string]string
		body        string
		wantOutcome Outcome
		wantErr     bool
		wantBody    string
		wantAfter   time.Duration
	}{
		{name: "ready", status: http.StatusOK, body: "jpeg", wantOutcome: OutcomeReady, wantBody: "jpeg"},
		{name: "processing with preview", status: http.StatusAccepted, body: "tiny", wantOutcome: OutcomeProcessing, wantBody: "tiny"},
		{name: "processing without preview", status: http.StatusAccepted, wantOutcome: OutcomeProcessing},
		{name: "not found", status: http.StatusNotFound, wantOutcome: OutcomeNotFound},
		{
			name:        "rate limited",
			status:      http.StatusTooManyRequests,
			header:      map[string]string{"Retry-After": "7"},
			wantOutcome: OutcomeRateLimited,
			wantAfter:   7 * time.Second,
		},
		{
			name:        "permanent failure",
			status:      http.StatusInternalServerError,
			header:      map[string]string{StatusHeader: StatusFailed},
			body:        "fallback",
			wantOutcome: OutcomeFailed,
			wantBody:    "fallback",
		},
		{name: "unmarked 500 is transient", status: http.StatusInternalServerError, wantErr: true},
		{name: "bad gateway is transient", status: http.StatusBadGateway, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			src, err := NewHTTPSource(srv.URL, time.Second)
			if err != nil {
				t.Fatalf("NewHTTPSource() error = %v", err)
			}

			resp, err := src.Fetch(context.Background(), models.Item{ID: "42"})
			if gotPath != "/thumbnails/42" {
				t.Errorf("request path = %s, want /thumbnails/42", gotPath)
			}
			if tt.wantErr {
				if err == nil {
					t.Errorf("Fetch() expected error, got %+v", resp)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch() unexpected error: %v", err)
			}
			if resp.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %v, want %v", resp.Outcome, tt.wantOutcome)
			}
			if string(resp.Body) != tt.wantBody {
				t.Errorf("Body = %q, want %q", resp.Body, tt.wantBody)
			}
			if resp.RetryAfter != tt.wantAfter {
				t.Errorf("RetryAfter = %v, want %v", resp.RetryAfter, tt.wantAfter)
			}
		})
	}
}

func TestHTTPSourceCancelledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src, err := NewHTTPSource(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPSource() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Fetch(ctx, models.Item{ID: "1"}); err == nil {
		t.Errorf("Fetch() with cancelled context returned no error")
	}
}

func TestThumbnailURL(t *testing.T) {
	src := &HTTPSource{BaseURL: "http://gallery.local"}
	tests := []struct {
		item models.Item
		want string
	}{
		{models.Item{ID: "a b"}, "http://gallery.local/thumbnails/a%20b"},
		{models.Item{ID: "1", ThumbnailRef: "/thumbs/1.jpg"}, "http://gallery.local/thumbs/1.jpg"},
		{models.Item{ID: "1", ThumbnailRef: "https://cdn.example/1.jpg"}, "https://cdn.example/1.jpg"},
	}
	for _, tt := range tests {
		if got := src.ThumbnailURL(tt.item); got != tt.want {
			t.Errorf("ThumbnailURL(%+v) = %s, want %s", tt.item, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 58*time.Minute {
		t.Errorf("parseRetryAfter(http date) = %v, want about an hour", got)
	}
}

func TestNewHTTPSourceRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://x", "not a url", "http://"} {
		if _, err := NewHTTPSource(raw, 0); err == nil {
			t.Errorf("NewHTTPSource(%q) expected error", raw)
		}
	}
}
