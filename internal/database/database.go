package database

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ST2Projects/media-grid/pkg/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// DB represents the catalog database connection
type DB struct {
	*sqlx.DB
}

// ThumbnailStatus is the server-side pipeline status of a thumbnail
type ThumbnailStatus string

const (
	ThumbPending    ThumbnailStatus = "pending"
	ThumbProcessing ThumbnailStatus = "processing"
	ThumbReady      ThumbnailStatus = "ready"
	ThumbFailed     ThumbnailStatus = "failed"
)

// ParseThumbnailStatus validates a status reported by the thumbnail pipeline
func ParseThumbnailStatus(s string) (ThumbnailStatus, error) {
	switch st := ThumbnailStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ThumbPending, ThumbProcessing, ThumbReady, ThumbFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown thumbnail status: %q", s)
	}
}

// MediaRecord is one catalogued media file
type MediaRecord struct {
	ID          int64     `db:"id" json:"id"`
	Path        string    `db:"path" json:"path"`
	MediaType   string    `db:"media_type" json:"media_type"`
	Width       int       `db:"width" json:"width"`
	Height      int       `db:"height" json:"height"`
	FileSize    int64     `db:"file_size" json:"file_size"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Item converts the record to the shape the grid consumes
func (m MediaRecord) Item() models.Item {
	return models.Item{
		ID:        strconv.FormatInt(m.ID, 10),
		Path:      m.Path,
		MediaType: models.MediaType(m.MediaType),
		Width:     m.Width,
		Height:    m.Height,
	}
}

// Thumbnail is the pipeline state of one item's thumbnail
type Thumbnail struct {
	MediaID       int64           `db:"media_id" json:"media_id"`
	Status        ThumbnailStatus `db:"status" json:"status"`
	ThumbnailPath string          `db:"thumbnail_path" json:"thumbnail_path"`
	PreviewPath   string          `db:"preview_path" json:"preview_path"`
	Width         int             `db:"width" json:"width"`
	Height        int             `db:"height" json:"height"`
	Error         string          `db:"error" json:"error"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	db, err := sqlx.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{DB: db}
	if err := database.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// initSchema creates the database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS media_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		media_type TEXT NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		file_size INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_media_items_type ON media_items(media_type);

	CREATE TABLE IF NOT EXISTS media_thumbnails (
		media_id INTEGER PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		thumbnail_path TEXT NOT NULL DEFAULT '',
		preview_path TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (media_id) REFERENCES media_items(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_thumbnails_status ON media_thumbnails(status);

	-- Import run tracking for statistics
	CREATE TABLE IF NOT EXISTS import_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		root TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		imported INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0,
		status TEXT DEFAULT 'running'
	);

	CREATE INDEX IF NOT EXISTS idx_import_runs_started ON import_runs(started_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// MediaExists checks if a media file with the given path is catalogued
func (db *DB) MediaExists(path string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM media_items WHERE path = ?)`
	if err := db.Get(&exists, query, path); err != nil {
		return false, fmt.Errorf("failed to check media existence: %w", err)
	}
	return exists, nil
}

// SaveMedia inserts or updates a media record keyed by path and sets its ID
func (db *DB) SaveMedia(media *MediaRecord) error {
	if media.CreatedAt.IsZero() {
		media.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO media_items (
			path, media_type, width, height, file_size, content_hash, created_at
		) VALUES (
			:path, :media_type, :width, :height, :file_size, :content_hash, :created_at
		)
		ON CONFLICT(path) DO UPDATE SET
			media_type = excluded.media_type,
			width = excluded.width,
			height = excluded.height,
			file_size = excluded.file_size,
			content_hash = excluded.content_hash
	`

	if _, err := db.NamedExec(query, media); err != nil {
		return fmt.Errorf("failed to save media: %w", err)
	}

	// LastInsertId is unreliable for the update branch of an upsert
	var id int64
	if err := db.Get(&id, `SELECT id FROM media_items WHERE path = ?`, media.Path); err != nil {
		return fmt.Errorf("failed to get media id: %w", err)
	}
	media.ID = id
	return nil
}

// GetMediaByID retrieves a media record by its ID
func (db *DB) GetMediaByID(id int64) (*MediaRecord, error) {
	media := &MediaRecord{}
	if err := db.Get(media, `SELECT * FROM media_items WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("media %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get media by ID: %w", err)
	}
	return media, nil
}

// GetMediaByPath retrieves a media record by its catalogue path
func (db *DB) GetMediaByPath(path string) (*MediaRecord, error) {
	media := &MediaRecord{}
	if err := db.Get(media, `SELECT * FROM media_items WHERE path = ?`, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("media %q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get media by path: %w", err)
	}
	return media, nil
}

// MediaFilter represents filter options for paging media
type MediaFilter struct {
	MediaType string
	Limit     int
	Offset    int
}

// GetMediaWithFilters returns one page of media in catalogue order and the
// total number of matching records
func (db *DB) GetMediaWithFilters(filter MediaFilter) ([]MediaRecord, int, error) {
	query := `SELECT * FROM media_items`
	countQuery := `SELECT COUNT(*) FROM media_items`

	var whereClauses []string
	var args []interface{}

	if filter.MediaType != "" {
		whereClauses = append(whereClauses, "media_type = ?")
		args = append(args, filter.MediaType)
	}

	if len(whereClauses) > 0 {
		whereClause := " WHERE " + strings.Join(whereClauses, " AND ")
		query += whereClause
		countQuery += whereClause
	}

	var total int
	if err := db.Get(&total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get count: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	// ascending ids keep pages stable while new files are imported
	query += " ORDER BY id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var media []MediaRecord
	if err := db.Select(&media, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to query media: %w", err)
	}

	return media, total, nil
}

// Thumbnail-related methods

// SaveThumbnail records the pipeline state of an item's thumbnail
func (db *DB) SaveThumbnail(thumb *Thumbnail) error {
	thumb.UpdatedAt = time.Now().UTC()
	query := `INSERT OR REPLACE INTO media_thumbnails
	          (media_id, status, thumbnail_path, preview_path, width, height, error, updated_at)
	          VALUES (:media_id, :status, :thumbnail_path, :preview_path, :width, :height, :error, :updated_at)`
	if _, err := db.NamedExec(query, thumb); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}
	log.Debugf("Thumbnail of media %d is now %s", thumb.MediaID, thumb.Status)
	return nil
}

// GetThumbnail retrieves the thumbnail state of a media item. Items the
// pipeline has not reported on yet return ErrNotFound.
func (db *DB) GetThumbnail(mediaID int64) (*Thumbnail, error) {
	thumb := &Thumbnail{}
	if err := db.Get(thumb, `SELECT * FROM media_thumbnails WHERE media_id = ?`, mediaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thumbnail of media %d: %w", mediaID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get thumbnail: %w", err)
	}
	return thumb, nil
}

// GetStats returns statistics about the catalogue
func (db *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalCount int
	if err := db.Get(&totalCount, `SELECT COUNT(*) FROM media_items`); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}
	stats["total_media"] = totalCount

	var totalSize sql.NullInt64
	if err := db.Get(&totalSize, `SELECT SUM(file_size) FROM media_items`); err != nil {
		return nil, fmt.Errorf("failed to get total size: %w", err)
	}
	stats["total_size"] = totalSize.Int64

	type TypeCount struct {
		MediaType string `db:"media_type"`
		Count     int    `db:"count"`
	}
	var typeCounts []TypeCount
	if err := db.Select(&typeCounts, `SELECT media_type, COUNT(*) as count FROM media_items GROUP BY media_type`); err != nil {
		return nil, fmt.Errorf("failed to get media type counts: %w", err)
	}
	typeMap := make(map[string]int)
	for _, tc := range typeCounts {
		typeMap[tc.MediaType] = tc.Count
	}
	stats["by_type"] = typeMap

	type StatusCount struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	var statusCounts []StatusCount
	query := `
		SELECT COALESCE(t.status, 'pending') as status, COUNT(*) as count
		FROM media_items m
		LEFT JOIN media_thumbnails t ON t.media_id = m.id
		GROUP BY COALESCE(t.status, 'pending')
	`
	if err := db.Select(&statusCounts, query); err != nil {
		return nil, fmt.Errorf("failed to get thumbnail status counts: %w", err)
	}
	statusMap := make(map[string]int)
	for _, sc := range statusCounts {
		statusMap[sc.Status] = sc.Count
	}
	stats["by_thumbnail_status"] = statusMap

	return stats, nil
}

// HashContent computes the SHA256 hash of content
func HashContent(content io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, content); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// Import run tracking methods

// ImportRun is one recorded import of a media directory
type ImportRun struct {
	ID          int64        `db:"id" json:"id"`
	Root        string       `db:"root" json:"root"`
	StartedAt   time.Time    `db:"started_at" json:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at" json:"-"`
	Imported    int          `db:"imported" json:"imported"`
	Skipped     int          `db:"skipped" json:"skipped"`
	ErrorsCount int          `db:"errors_count" json:"errors_count"`
	Status      string       `db:"status" json:"status"`
}

// StartImportRun creates a new import run record
func (db *DB) StartImportRun(root string) (int64, error) {
	result, err := db.Exec(`INSERT INTO import_runs (root, status, started_at) VALUES (?, 'running', ?)`, root, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to start import run: %w", err)
	}
	return result.LastInsertId()
}

// UpdateImportRun updates the counters of an import run
func (db *DB) UpdateImportRun(runID int64, imported, skipped, errorsCount int) error {
	query := `UPDATE import_runs SET imported = ?, skipped = ?, errors_count = ? WHERE id = ?`
	if _, err := db.Exec(query, imported, skipped, errorsCount, runID); err != nil {
		return fmt.Errorf("failed to update import run: %w", err)
	}
	return nil
}

// CompleteImportRun marks an import run as finished with the given status
func (db *DB) CompleteImportRun(runID int64, status string) error {
	query := `UPDATE import_runs SET completed_at = ?, status = ? WHERE id = ?`
	if _, err := db.Exec(query, time.Now().UTC(), status, runID); err != nil {
		return fmt.Errorf("failed to complete import run: %w", err)
	}
	return nil
}

// GetRecentImportRuns returns the latest import runs, newest first
func (db *DB) GetRecentImportRuns(limit int) ([]ImportRun, error) {
	var runs []ImportRun
	query := `SELECT * FROM import_runs ORDER BY started_at DESC, id DESC LIMIT ?`
	if err := db.Select(&runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent import runs: %w", err)
	}
	return runs, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
