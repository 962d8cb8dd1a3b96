package tracks

import (
	"context"
	"errors"
	"fmt"

	"github.com/HugoGarrigues/MusicSwipe/internal/spotify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultRecentLimit = 20

// AccessTokens yields a fresh Spotify access token for a user.
type AccessTokens interface {
	AccessToken(ctx context.Context, userID uint) (string, error)
}

// PlaybackHistory reads a user's recently played tracks from Spotify.
type PlaybackHistory interface {
	RecentlyPlayed(ctx context.Context, accessToken string, limit int) ([]spotify.PlayedTrack, error)
}

// RecentConfig wires the recent tracks service.
type RecentConfig struct {
	Database *gorm.DB
	Tokens   AccessTokens
	History  PlaybackHistory
	Logger   *zap.Logger
}

// RecentTracks imports a user's Spotify listening history into the track catalogue.
type RecentTracks struct {
	db      *gorm.DB
	tokens  AccessTokens
	history PlaybackHistory
	logger  *zap.Logger
}

func NewRecentTracks(cfg RecentConfig) (*RecentTracks, error) {
	if cfg.Database == nil || cfg.Tokens == nil || cfg.History == nil {
		return nil, errors.New("tracks: database, token source and playback history are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecentTracks{db: cfg.Database, tokens: cfg.Tokens, history: cfg.History, logger: logger}, nil
}

// List returns up to limit distinct recently played tracks, most recent first,
// after upserting each of them by Spotify id.
func (r *RecentTracks) List(ctx context.Context, userID uint, limit int) ([]Track, error) {
	limit = spotify.ClampLimit(limit)
	accessToken, err := r.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	played, err := r.history.RecentlyPlayed(ctx, accessToken, limit)
	if err != nil {
		return nil, err
	}

	inputs := distinctInputs(played, limit)
	if len(inputs) == 0 {
		return []Track{}, nil
	}

	ids := make([]string, 0, len(inputs))
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := NewStore(tx)
		for _, input := range inputs {
			if _, err := store.UpsertBySpotifyID(ctx, input); err != nil {
				return err
			}
			ids = append(ids, input.SpotifyID)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("importing recent tracks failed", zap.Uint("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("tracks: importing recent tracks: %w", err)
	}
	return NewStore(r.db).ListBySpotifyIDs(ctx, ids)
}

// distinctInputs keeps the first occurrence of each Spotify id.
func distinctInputs(played []spotify.PlayedTrack, limit int) []TrackInput {
	seen := make(map[string]struct{}, len(played))
	inputs := make([]TrackInput, 0, len(played))
	for _, item := range played {
		if item.SpotifyID == "" {
			continue
		}
		if _, ok := seen[item.SpotifyID]; ok {
			continue
		}
		seen[item.SpotifyID] = struct{}{}
		inputs = append(inputs, TrackInput{
			SpotifyID:       item.SpotifyID,
			Title:           item.Title,
			ArtistName:      item.ArtistName,
			AlbumName:       item.AlbumName,
			DurationSeconds: item.DurationSeconds,
			PreviewURL:      item.PreviewURL,
		})
		if len(inputs) >= limit {
			break
		}
	}
	return inputs
}
