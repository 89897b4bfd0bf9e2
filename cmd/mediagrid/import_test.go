package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ST2Projects/media-grid/internal/config"
	"github.com/ST2Projects/media-grid/internal/database"
	"github.com/ST2Projects/media-grid/internal/thumbnails"
	"github.com/gofrs/flock"
)

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	data, err := thumbnails.Encode(img, 80)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestImportDir(t *testing.T) {
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "a.jpg"), 40, 20)
	writeJPEG(t, filepath.Join(root, "trips", "b.JPEG"), 10, 30)
	writeFile(t, filepath.Join(root, "trips", "clip.mp4"), "not really a video")
	writeFile(t, filepath.Join(root, "notes.txt"), "hello")
	writeJPEG(t, filepath.Join(root, ".cache", "hidden.jpg"), 5, 5)
	writeFile(t, filepath.Join(root, "broken.png"), "not an image")

	db, err := database.New(filepath.Join(t.TempDir(), "catalogue.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	defer db.Close()

	res, err := importDir(context.Background(), db, root)
	if err != nil {
		t.Fatalf("importDir: %v", err)
	}
	if res.Imported != 3 || res.Skipped != 1 || res.Errors != 1 {
		t.Fatalf("result = %+v, want 3 imported, 1 skipped, 1 error", res)
	}

	photo, err := db.GetMediaByPath("trips/b.JPEG")
	if err != nil {
		t.Fatalf("GetMediaByPath: %v", err)
	}
	if photo.Width != 10 || photo.Height != 30 || photo.MediaType != "photo" {
		t.Errorf("photo record = %+v", photo)
	}
	thumb, err := db.GetThumbnail(photo.ID)
	if err != nil {
		t.Fatalf("GetThumbnail: %v", err)
	}
	if thumb.Status != database.ThumbReady || thumb.ThumbnailPath != "trips/b.JPEG" {
		t.Errorf("thumbnail = %+v", thumb)
	}

	video, err := db.GetMediaByPath("trips/clip.mp4")
	if err != nil {
		t.Fatalf("GetMediaByPath: %v", err)
	}
	if _, err := db.GetThumbnail(video.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("video thumbnail error = %v, want ErrNotFound", err)
	}

	if _, err := db.GetMediaByPath(".cache/hidden.jpg"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("hidden file error = %v, want ErrNotFound", err)
	}
}

func TestImportDirIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "a.jpg"), 8, 8)

	db, err := database.New(filepath.Join(t.TempDir(), "catalogue.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if _, err := importDir(context.Background(), db, root); err != nil {
			t.Fatalf("importDir run %d: %v", i, err)
		}
	}
	_, total, err := db.GetMediaWithFilters(database.MediaFilter{})
	if err != nil {
		t.Fatalf("GetMediaWithFilters: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestImportDirHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "a.jpg"), 8, 8)

	db, err := database.New(filepath.Join(t.TempDir(), "catalogue.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := importDir(ctx, db, root); err == nil {
		t.Fatal("importDir succeeded with a cancelled context")
	}
}

func TestImportCommandRefusesConcurrentRun(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "media")
	writeJPEG(t, filepath.Join(media, "a.jpg"), 8, 8)

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "catalogue.db")
	cfg.WebServer.MediaRoot = media
	cfgPath := filepath.Join(dir, "mediagrid.yaml")
	if err := config.SaveConfig(cfgPath, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	held := flock.New(cfg.Database.Path + ".import.lock")
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "import"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("import while locked error = %v", err)
	}

	if err := held.Unlock(); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	root = newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "import"})
	if err := root.Execute(); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "Imported 1 files") {
		t.Errorf("output = %q", out.String())
	}
}
