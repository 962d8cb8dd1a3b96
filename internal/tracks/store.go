package tracks

import (
	"context"
	"errors"
	"fmt"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists Track rows.
type Store struct {
	db *gorm.DB
}

// NewStore wraps the provided database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Get returns the track or a NotFound error.
func (s *Store) Get(ctx context.Context, id uint) (*Track, error) {
	var track Track
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("track_not_found", fmt.Sprintf("track with id %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("tracks: loading track %d: %w", id, err)
	}
	return &track, nil
}

// UpsertBySpotifyID inserts the track or updates the provided fields of the
// existing row in a single INSERT ... ON CONFLICT statement.
func (s *Store) UpsertBySpotifyID(ctx context.Context, input TrackInput) (*Track, error) {
	input = input.normalized()
	if input.SpotifyID == "" {
		return nil, apperror.Validation("invalid_spotify_id", "spotifyId is required")
	}

	title := input.Title
	if title == "" {
		title = unknownTitle
	}
	spotifyID := input.SpotifyID
	track := Track{
		SpotifyID:       &spotifyID,
		Title:           title,
		ArtistName:      input.ArtistName,
		AlbumName:       input.AlbumName,
		DurationSeconds: input.DurationSeconds,
		PreviewURL:      input.PreviewURL,
	}

	updated := []string{"updated_at"}
	if input.Title != "" {
		updated = append(updated, "title")
	}
	if input.ArtistName != "" {
		updated = append(updated, "artist_name")
	}
	if input.AlbumName != "" {
		updated = append(updated, "album_name")
	}
	if input.DurationSeconds > 0 {
		updated = append(updated, "duration_seconds")
	}
	if input.PreviewURL != "" {
		updated = append(updated, "preview_url")
	}

	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "spotify_id"}},
		DoUpdates: clause.AssignmentColumns(updated),
	}).Create(&track).Error
	if err != nil {
		return nil, fmt.Errorf("tracks: upserting spotify track %s: %w", spotifyID, err)
	}

	var stored Track
	if err := db.Where("spotify_id = ?", spotifyID).Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("tracks: reloading spotify track %s: %w", spotifyID, err)
	}
	return &stored, nil
}

// ListBySpotifyIDs returns the tracks in the order of the given ids, skipping unknown ids.
func (s *Store) ListBySpotifyIDs(ctx context.Context, spotifyIDs []string) ([]Track, error) {
	if len(spotifyIDs) == 0 {
		return []Track{}, nil
	}
	var rows []Track
	if err := s.db.WithContext(ctx).Where("spotify_id IN ?", spotifyIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tracks: listing by spotify ids: %w", err)
	}
	bySpotifyID := make(map[string]Track, len(rows))
	for _, row := range rows {
		if row.SpotifyID != nil {
			bySpotifyID[*row.SpotifyID] = row
		}
	}
	ordered := make([]Track, 0, len(spotifyIDs))
	for _, id := range spotifyIDs {
		if row, ok := bySpotifyID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	return ordered, nil
}
