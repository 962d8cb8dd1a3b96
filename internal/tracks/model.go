package tracks

import (
	"strings"
	"time"
)

// Track is a playable item users rate and like. Tracks imported from Spotify
// carry their Spotify id, which is unique.
type Track struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SpotifyID       *string   `gorm:"column:spotify_id;size:64;uniqueIndex" json:"spotifyId,omitempty"`
	Title           string    `gorm:"column:title;size:512;not null" json:"title"`
	ArtistName      string    `gorm:"column:artist_name;size:512" json:"artistName,omitempty"`
	AlbumName       string    `gorm:"column:album_name;size:512" json:"albumName,omitempty"`
	DurationSeconds int       `gorm:"column:duration_seconds" json:"duration,omitempty"`
	PreviewURL      string    `gorm:"column:preview_url;size:1024" json:"previewUrl,omitempty"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing tracks.
func (Track) TableName() string {
	return "tracks"
}

// TrackInput describes a Spotify track as reported by a client or the Web API.
// Empty optional fields leave the stored values untouched on update.
type TrackInput struct {
	SpotifyID       string
	Title           string
	ArtistName      string
	AlbumName       string
	DurationSeconds int
	PreviewURL      string
}

const unknownTitle = "Unknown title"

func (in TrackInput) normalized() TrackInput {
	in.SpotifyID = strings.TrimSpace(in.SpotifyID)
	in.Title = strings.TrimSpace(in.Title)
	in.ArtistName = strings.TrimSpace(in.ArtistName)
	in.AlbumName = strings.TrimSpace(in.AlbumName)
	in.PreviewURL = strings.TrimSpace(in.PreviewURL)
	return in
}
