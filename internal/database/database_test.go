package database

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ST2Projects/media-grid/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHashContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "empty content",
			content:  "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "simple string",
			content:  "hello world",
			expected: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
		{
			name:     "binary data",
			content:  "\x00\x01\x02\x03",
			expected: "054edec1d0211f624fed0cbca9d4f9400b0e491c43742af2c5b0abebf0c990d8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashContent(bytes.NewReader([]byte(tt.content)))
			if err != nil {
				t.Fatalf("HashContent() error = %v", err)
			}
			if hash != tt.expected {
				t.Errorf("HashContent() = %s, want %s", hash, tt.expected)
			}
		})
	}
}

func TestInitSchema(t *testing.T) {
	db := newTestDB(t)

	tables := []string{"media_items", "media_thumbnails", "import_runs"}
	for _, table := range tables {
		query := "SELECT name FROM sqlite_master WHERE type='table' AND name=?"
		var name string
		if err := db.Get(&name, query, table); err != nil {
			t.Errorf("Table %s does not exist: %v", table, err)
		}
	}

	// schema creation is idempotent
	if err := db.initSchema(); err != nil {
		t.Errorf("initSchema() second run error = %v", err)
	}
}

func TestSaveMediaUpsertsByPath(t *testing.T) {
	db := newTestDB(t)

	exists, err := db.MediaExists("a/b.jpg")
	if err != nil {
		t.Fatalf("MediaExists() error = %v", err)
	}
	if exists {
		t.Errorf("MediaExists() = true before saving")
	}

	media := &MediaRecord{Path: "a/b.jpg", MediaType: "photo", Width: 640, Height: 480, FileSize: 1024}
	if err := db.SaveMedia(media); err != nil {
		t.Fatalf("SaveMedia() error = %v", err)
	}
	if media.ID == 0 {
		t.Fatalf("SaveMedia() did not set ID")
	}
	firstID := media.ID

	again := &MediaRecord{Path: "a/b.jpg", MediaType: "photo", Width: 800, Height: 600, FileSize: 2048}
	if err := db.SaveMedia(again); err != nil {
		t.Fatalf("SaveMedia() update error = %v", err)
	}
	if again.ID != firstID {
		t.Errorf("upsert ID = %d, want %d", again.ID, firstID)
	}

	got, err := db.GetMediaByID(firstID)
	if err != nil {
		t.Fatalf("GetMediaByID() error = %v", err)
	}
	if got.Width != 800 || got.Height != 600 || got.FileSize != 2048 {
		t.Errorf("GetMediaByID() = %+v, want updated dimensions", got)
	}
	if got.CreatedAt.IsZero() {
		t.Errorf("CreatedAt not stored")
	}

	byPath, err := db.GetMediaByPath("a/b.jpg")
	if err != nil {
		t.Fatalf("GetMediaByPath() error = %v", err)
	}
	if byPath.ID != firstID {
		t.Errorf("GetMediaByPath() ID = %d, want %d", byPath.ID, firstID)
	}

	item := got.Item()
	want := models.Item{ID: fmt.Sprint(firstID), Path: "a/b.jpg", MediaType: models.MediaPhoto, Width: 800, Height: 600}
	if item != want {
		t.Errorf("Item() = %+v, want %+v", item, want)
	}
}

func TestLookupsReturnErrNotFound(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.GetMediaByID(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMediaByID() error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetMediaByPath("missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMediaByPath() error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetThumbnail(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetThumbnail() error = %v, want ErrNotFound", err)
	}
}

func TestGetMediaWithFilters(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 7; i++ {
		mediaType := "photo"
		if i%3 == 0 {
			mediaType = "video"
		}
		m := &MediaRecord{Path: fmt.Sprintf("m%d", i), MediaType: mediaType, Width: 10, Height: 10}
		if err := db.SaveMedia(m); err != nil {
			t.Fatalf("SaveMedia() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    MediaFilter
		wantPaths []string
		wantTotal int
	}{
		{"first page", MediaFilter{Limit: 3}, []string{"m0", "m1", "m2"}, 7},
		{"second page", MediaFilter{Limit: 3, Offset: 3}, []string{"m3", "m4", "m5"}, 7},
		{"last partial page", MediaFilter{Limit: 3, Offset: 6}, []string{"m6"}, 7},
		{"past the end", MediaFilter{Limit: 3, Offset: 10}, nil, 7},
		{"no limit", MediaFilter{}, []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6"}, 7},
		{"videos only", MediaFilter{MediaType: "video", Limit: 10}, []string{"m0", "m3", "m6"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media, total, err := db.GetMediaWithFilters(tt.filter)
			if err != nil {
				t.Fatalf("GetMediaWithFilters() error = %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(media) != len(tt.wantPaths) {
				t.Fatalf("got %d records, want %d", len(media), len(tt.wantPaths))
			}
			for i, m := range media {
				if m.Path != tt.wantPaths[i] {
					t.Errorf("record %d path = %s, want %s", i, m.Path, tt.wantPaths[i])
				}
			}
		})
	}
}

func TestSaveAndGetThumbnail(t *testing.T) {
	db := newTestDB(t)

	media := &MediaRecord{Path: "x.png", MediaType: "photo"}
	if err := db.SaveMedia(media); err != nil {
		t.Fatalf("SaveMedia() error = %v", err)
	}

	thumb := &Thumbnail{MediaID: media.ID, Status: ThumbProcessing, PreviewPath: "previews/x.jpg"}
	if err := db.SaveThumbnail(thumb); err != nil {
		t.Fatalf("SaveThumbnail() error = %v", err)
	}
	got, err := db.GetThumbnail(media.ID)
	if err != nil {
		t.Fatalf("GetThumbnail() error = %v", err)
	}
	if got.Status != ThumbProcessing || got.PreviewPath != "previews/x.jpg" {
		t.Errorf("GetThumbnail() = %+v", got)
	}

	thumb = &Thumbnail{MediaID: media.ID, Status: ThumbReady, ThumbnailPath: "thumbs/x.jpg", Width: 320, Height: 200}
	if err := db.SaveThumbnail(thumb); err != nil {
		t.Fatalf("SaveThumbnail() update error = %v", err)
	}
	got, err = db.GetThumbnail(media.ID)
	if err != nil {
		t.Fatalf("GetThumbnail() error = %v", err)
	}
	if got.Status != ThumbReady || got.ThumbnailPath != "thumbs/x.jpg" || got.PreviewPath != "" || got.Width != 320 {
		t.Errorf("GetThumbnail() after update = %+v", got)
	}
}

func TestParseThumbnailStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    ThumbnailStatus
		wantErr bool
	}{
		{"ready", ThumbReady, false},
		{" Processing ", ThumbProcessing, false},
		{"FAILED", ThumbFailed, false},
		{"pending", ThumbPending, false},
		{"done", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseThumbnailStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseThumbnailStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseThumbnailStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t)

	records := []*MediaRecord{
		{Path: "a", MediaType: "photo", FileSize: 100},
		{Path: "b", MediaType: "photo", FileSize: 200},
		{Path: "c", MediaType: "video", FileSize: 300},
	}
	for _, r := range records {
		if err := db.SaveMedia(r); err != nil {
			t.Fatalf("SaveMedia() error = %v", err)
		}
	}
	if err := db.SaveThumbnail(&Thumbnail{MediaID: records[0].ID, Status: ThumbReady}); err != nil {
		t.Fatalf("SaveThumbnail() error = %v", err)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats["total_media"] != 3 {
		t.Errorf("total_media = %v, want 3", stats["total_media"])
	}
	if stats["total_size"] != int64(600) {
		t.Errorf("total_size = %v, want 600", stats["total_size"])
	}
	byType := stats["by_type"].(map[string]int)
	if byType["photo"] != 2 || byType["video"] != 1 {
		t.Errorf("by_type = %v", byType)
	}
	byStatus := stats["by_thumbnail_status"].(map[string]int)
	if byStatus["ready"] != 1 || byStatus["pending"] != 2 {
		t.Errorf("by_thumbnail_status = %v", byStatus)
	}
}

func TestImportRuns(t *testing.T) {
	db := newTestDB(t)

	runID, err := db.StartImportRun("/srv/media")
	if err != nil {
		t.Fatalf("StartImportRun() error = %v", err)
	}
	if err := db.UpdateImportRun(runID, 5, 2, 1); err != nil {
		t.Fatalf("UpdateImportRun() error = %v", err)
	}
	if err := db.CompleteImportRun(runID, "completed"); err != nil {
		t.Fatalf("CompleteImportRun() error = %v", err)
	}

	runs, err := db.GetRecentImportRuns(10)
	if err != nil {
		t.Fatalf("GetRecentImportRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	r := runs[0]
	if r.Root != "/srv/media" || r.Imported != 5 || r.Skipped != 2 || r.ErrorsCount != 1 || r.Status != "completed" {
		t.Errorf("run = %+v", r)
	}
	if !r.CompletedAt.Valid {
		t.Errorf("completed_at not set")
	}
}
