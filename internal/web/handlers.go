package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ST2Projects/media-grid/internal/database"
	"github.com/ST2Projects/media-grid/internal/fetch"
	"github.com/ST2Projects/media-grid/internal/push"
	"github.com/ST2Projects/media-grid/internal/thumbnails"
	"github.com/ST2Projects/media-grid/pkg/models"
	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
)

const maxPageLimit = 1000

// handleGetMedia returns one page of catalogue items
func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()

	limit := s.Config.WebServer.PageSize
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxPageLimit {
			limit = parsed
		}
	}

	offset := 0
	if o := query.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	filter := database.MediaFilter{Limit: limit, Offset: offset}
	if t := query.Get("type"); t != "" {
		mediaType, err := models.ParseMediaType(t)
		if err != nil {
			http.Error(w, "Invalid media type", http.StatusBadRequest)
			return
		}
		filter.MediaType = string(mediaType)
	}

	records, total, err := s.DB.GetMediaWithFilters(filter)
	if err != nil {
		log.Errorf("Failed to get media: %v", err)
		http.Error(w, "Failed to query media", http.StatusInternalServerError)
		return
	}

	page := models.Page{
		Items:  make([]models.Item, len(records)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for i, rec := range records {
		page.Items[i] = rec.Item()
	}
	respondJSON(w, page)
}

// handleGetMediaByID returns a single catalogue record
func (s *Server) handleGetMediaByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.URL.Path, "/api/media/")
	if err != nil {
		http.Error(w, "Invalid media ID", http.StatusBadRequest)
		return
	}

	media, err := s.DB.GetMediaByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Media not found", http.StatusNotFound)
			return
		}
		log.Errorf("Failed to get media by ID: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{"media": media, "item": media.Item()}
	if thumb, err := s.DB.GetThumbnail(id); err == nil {
		response["thumbnail"] = thumb
	}
	respondJSON(w, response)
}

// handleGetStats returns catalogue and push statistics
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.GetStats()
	if err != nil {
		log.Errorf("Failed to get stats: %v", err)
		http.Error(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}
	if s.Hub != nil {
		stats["push_clients"] = s.Hub.ClientCount()
		stats["push_sent"] = s.Hub.Sent()
		stats["push_dropped"] = s.Hub.Dropped()
	}
	respondJSON(w, stats)
}

// statusReport is the body the thumbnail pipeline posts
type statusReport struct {
	Status        string `json:"status"`
	ThumbnailPath string `json:"thumbnail_path"`
	PreviewPath   string `json:"preview_path"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Error         string `json:"error"`
}

// handleThumbnailStatus records a pipeline status report. Transitions to
// ready or failed are pushed to subscribed renderers.
func (s *Server) handleThumbnailStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := parseID(r.URL.Path, "/api/thumbnails/")
	if err != nil {
		http.Error(w, "Invalid media ID", http.StatusBadRequest)
		return
	}

	var report statusReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&report); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, err := database.ParseThumbnailStatus(report.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if status == database.ThumbReady && report.ThumbnailPath == "" {
		http.Error(w, "thumbnail_path is required for ready thumbnails", http.StatusBadRequest)
		return
	}

	media, err := s.DB.GetMediaByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Media not found", http.StatusNotFound)
			return
		}
		log.Errorf("Failed to get media by ID: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	thumb := &database.Thumbnail{
		MediaID:       id,
		Status:        status,
		ThumbnailPath: report.ThumbnailPath,
		PreviewPath:   report.PreviewPath,
		Width:         report.Width,
		Height:        report.Height,
		Error:         report.Error,
	}
	if err := s.DB.SaveThumbnail(thumb); err != nil {
		log.Errorf("Failed to save thumbnail status: %v", err)
		http.Error(w, "Failed to save thumbnail status", http.StatusInternalServerError)
		return
	}

	if s.Hub != nil && (status == database.ThumbReady || status == database.ThumbFailed) {
		s.Hub.Publish(push.Event{
			Type:    push.EventThumbnailReady,
			Path:    media.Path,
			MediaID: strconv.FormatInt(id, 10),
			Status:  string(status),
		})
	}
	log.Infof("Thumbnail of %s reported %s", media.Path, status)
	respondJSON(w, map[string]interface{}{"success": true, "thumbnail": thumb})
}

// handleWebSocket registers a push client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		http.Error(w, "Push notifications not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade error: %v", err)
		return
	}

	s.Hub.RegisterClient(conn)

	// Keep connection alive and listen for close
	go func() {
		defer s.Hub.UnregisterClient(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleServeMedia serves original media files from the media root
func (s *Server) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolveMediaPath(strings.TrimPrefix(r.URL.Path, "/media/"))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		log.Warnf("Blocked media request %s: %v", r.URL.Path, err)
		http.Error(w, "Invalid path", http.StatusForbidden)
		return
	}
	http.ServeFile(w, r, path)
}

// handleServeThumbnail implements the thumbnail status contract:
// 200 with the image once ready, 202 while the pipeline works (with a
// small preview when one exists), 404 when the item or its file is not
// visible yet, and 500 marked as permanent when generation failed.
func (s *Server) handleServeThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := parseID(r.URL.Path, "/thumbnails/")
	if err != nil {
		http.Error(w, "Invalid media ID", http.StatusBadRequest)
		return
	}

	if _, err := s.DB.GetMediaByID(id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Media not found", http.StatusNotFound)
			return
		}
		log.Errorf("Failed to get media by ID: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	thumb, err := s.DB.GetThumbnail(id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		// the pipeline has not picked the item up yet
		w.WriteHeader(http.StatusAccepted)
		return
	case err != nil:
		log.Errorf("Failed to get thumbnail: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	switch thumb.Status {
	case database.ThumbReady:
		s.serveThumbnailFile(w, r, thumb)

	case database.ThumbFailed:
		w.Header().Set(fetch.StatusHeader, fetch.StatusFailed)
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(thumbnails.Fallback())

	default:
		body := s.previewBytes(thumb)
		if len(body) > 0 {
			w.Header().Set("Content-Type", "image/jpeg")
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write(body)
	}
}

// serveThumbnailFile writes a ready thumbnail with an ETag of its content.
// A status that is ahead of the file system answers 404 so clients retry.
func (s *Server) serveThumbnailFile(w http.ResponseWriter, r *http.Request, thumb *database.Thumbnail) {
	path, err := s.resolveMediaPath(thumb.ThumbnailPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Refusing thumbnail path of media %d: %v", thumb.MediaID, err)
		}
		http.Error(w, "Thumbnail not found", http.StatusNotFound)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, "Thumbnail not found", http.StatusNotFound)
		return
	}

	hash, err := database.HashContent(bytes.NewReader(data))
	if err == nil {
		w.Header().Set("ETag", `"`+hash+`"`)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, path, thumb.UpdatedAt, bytes.NewReader(data))
}

// previewBytes renders the pipeline's preview image, if any, as a small JPEG
func (s *Server) previewBytes(thumb *database.Thumbnail) []byte {
	if thumb.PreviewPath == "" {
		return nil
	}
	path, err := s.resolveMediaPath(thumb.PreviewPath)
	if err != nil {
		return nil
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		log.Debugf("Ignoring unreadable preview %s: %v", thumb.PreviewPath, err)
		return nil
	}
	small := thumbnails.Preview(img, s.Config.WebServer.MaxPreview, s.Config.WebServer.MaxPreview)
	data, err := thumbnails.Encode(small, 60)
	if err != nil {
		log.Debugf("Failed to encode preview of media %d: %v", thumb.MediaID, err)
		return nil
	}
	return data
}

// parseID extracts the numeric id following prefix
func parseID(urlPath, prefix string) (int64, error) {
	idStr := strings.Trim(strings.TrimPrefix(urlPath, prefix), "/")
	if idStr == "" || strings.Contains(idStr, "/") {
		return 0, fmt.Errorf("missing media id in %q", urlPath)
	}
	return strconv.ParseInt(idStr, 10, 64)
}

// respondJSON is a helper function to send JSON responses
func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorf("Failed to encode JSON response: %v", err)
	}
}
