package models

import (
	"fmt"
	"strings"
)

// MediaType classifies a gallery entry
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaAlbum MediaType = "album"
)

// ParseMediaType maps loose type names (including MIME prefixes) to a MediaType
func ParseMediaType(s string) (MediaType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "photo" || s == "image" || strings.HasPrefix(s, "image/"):
		return MediaPhoto, nil
	case s == "video" || strings.HasPrefix(s, "video/"):
		return MediaVideo, nil
	case s == "album":
		return MediaAlbum, nil
	default:
		return "", fmt.Errorf("unknown media type: %q", s)
	}
}

// Item is one entry of the grid, as delivered by a metadata page
type Item struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	MediaType    MediaType `json:"media_type"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	ThumbnailRef string    `json:"thumbnail_ref"`
}

// Page is one page of item metadata returned by the gallery server
type Page struct {
	Items  []Item `json:"items"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ThumbnailState is the client-side fetch state of an item's thumbnail
type ThumbnailState int

const (
	StateIdle ThumbnailState = iota
	StateQueued
	StateFetching
	StateProcessing
	StateRateLimited
	StateReady
	StateFailed
)

var stateNames = map[ThumbnailState]string{
	StateIdle:        "idle",
	StateQueued:      "queued",
	StateFetching:    "fetching",
	StateProcessing:  "processing",
	StateRateLimited: "rate-limited",
	StateReady:       "ready",
	StateFailed:      "failed",
}

func (s ThumbnailState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the state only changes through an explicit invalidation
func (s ThumbnailState) Terminal() bool {
	return s == StateReady || s == StateFailed
}
