package main

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ST2Projects/media-grid/internal/database"
	"github.com/ST2Projects/media-grid/internal/thumbnails"
	"github.com/ST2Projects/media-grid/pkg/models"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mediaExtensions = map[string]models.MediaType{
	".jpg":  models.MediaPhoto,
	".jpeg": models.MediaPhoto,
	".png":  models.MediaPhoto,
	".gif":  models.MediaPhoto,
	".webp": models.MediaPhoto,
	".bmp":  models.MediaPhoto,
	".tif":  models.MediaPhoto,
	".tiff": models.MediaPhoto,
	".mp4":  models.MediaVideo,
	".m4v":  models.MediaVideo,
	".mov":  models.MediaVideo,
	".webm": models.MediaVideo,
	".mkv":  models.MediaVideo,
	".avi":  models.MediaVideo,
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import [DIR]",
		Short: "Catalogue the images and videos under DIR (defaults to web_server.media_root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root := cfg.WebServer.MediaRoot
			if len(args) == 1 {
				root = args[0]
			}
			if info, err := os.Stat(root); err != nil || !info.IsDir() {
				return fmt.Errorf("media directory %s is not readable", root)
			}

			lock := flock.New(cfg.Database.Path + ".import.lock")
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("failed to acquire import lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another import into %s is already running", cfg.Database.Path)
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					log.Warnf("Failed to release import lock: %v", err)
				}
			}()

			db, err := ctx.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			runID, err := db.StartImportRun(root)
			if err != nil {
				return err
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()
			res, walkErr := importDir(runCtx, db, root)

			status := "completed"
			if walkErr != nil {
				status = "failed"
			}
			if err := db.UpdateImportRun(runID, res.Imported, res.Skipped, res.Errors); err != nil {
				log.Errorf("Failed to record import counters: %v", err)
			}
			if err := db.CompleteImportRun(runID, status); err != nil {
				log.Errorf("Failed to complete import run: %v", err)
			}
			if walkErr != nil {
				return walkErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d files (%s) from %s, skipped %d, %d errors\n",
				res.Imported, humanize.Bytes(uint64(res.Bytes)), root, res.Skipped, res.Errors)
			return nil
		},
	}
}

type importResult struct {
	Imported int
	Skipped  int
	Errors   int
	Bytes    int64
}

// importDir records every media file under root. Paths are stored relative
// to root with forward slashes. Images are their own thumbnails and are
// marked ready; videos wait for the thumbnail pipeline.
func importDir(ctx context.Context, db *database.DB, root string) (importResult, error) {
	var res importResult
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("Skipping %s: %v", path, err)
			res.Errors++
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		mediaType, ok := mediaExtensions[strings.ToLower(filepath.Ext(path))]
		if !ok || strings.HasPrefix(d.Name(), ".") {
			res.Skipped++
			return nil
		}

		if err := importFile(db, root, path, mediaType, &res); err != nil {
			log.Warnf("Failed to import %s: %v", path, err)
			res.Errors++
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return res, nil
}

func importFile(db *database.DB, root, path string, mediaType models.MediaType, res *importResult) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("failed to relativize path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	hash, err := database.HashContent(bytes.NewReader(data))
	if err != nil {
		return err
	}

	rec := &database.MediaRecord{
		Path:        rel,
		MediaType:   string(mediaType),
		FileSize:    int64(len(data)),
		ContentHash: hash,
	}
	if mediaType == models.MediaPhoto {
		w, h, err := thumbnails.Dimensions(data)
		if err != nil {
			return fmt.Errorf("failed to read image dimensions: %w", err)
		}
		rec.Width, rec.Height = w, h
	}

	if err := db.SaveMedia(rec); err != nil {
		return err
	}
	if mediaType == models.MediaPhoto {
		thumb := &database.Thumbnail{
			MediaID:       rec.ID,
			Status:        database.ThumbReady,
			ThumbnailPath: rel,
			Width:         rec.Width,
			Height:        rec.Height,
		}
		if err := db.SaveThumbnail(thumb); err != nil {
			return err
		}
	}

	res.Imported++
	res.Bytes += rec.FileSize
	log.Debugf("Imported %s (%s, %dx%d, %s)", rel, mediaType, rec.Width, rec.Height, humanize.Bytes(uint64(rec.FileSize)))
	return nil
}
