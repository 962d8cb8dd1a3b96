package ratings

import (
	"context"
	"errors"
	"fmt"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/HugoGarrigues/MusicSwipe/internal/auth"
	"github.com/HugoGarrigues/MusicSwipe/internal/tracks"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opRate          = "ratings.rate"
	opRateBySpotify = "ratings.rate_by_spotify"
	opRemoveRating  = "ratings.remove"
	opUpdateRating  = "ratings.update"
	opListRatings   = "ratings.list"
	opAverage       = "ratings.average"
	opLike          = "likes.like"
	opUnlike        = "likes.unlike"
	opLikes         = "likes.list"
)

var errMissingDatabase = errors.New("ratings: database handle is required")

// ServiceConfig describes the dependencies of the ratings service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service owns rating and like writes. Every write keyed by (user, track) is a
// single INSERT ... ON CONFLICT statement against the composite unique index,
// so concurrent requests for the same pair can never produce two rows.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Rate creates the user's rating of the track or overwrites its score.
func (s *Service) Rate(ctx context.Context, userID, trackID uint, score int) (*Rating, error) {
	if err := validateScore(score); err != nil {
		return nil, err
	}
	var rating *Rating
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tracks.NewStore(tx).Get(ctx, trackID); err != nil {
			return err
		}
		var err error
		rating, err = upsertRating(tx, userID, trackID, score)
		return err
	})
	if err != nil {
		s.logUnexpected(opRate, err, zap.Uint("user_id", userID), zap.Uint("track_id", trackID))
		return nil, err
	}
	return rating, nil
}

// RateBySpotify upserts the track by its Spotify id and then the rating.
func (s *Service) RateBySpotify(ctx context.Context, userID uint, input tracks.TrackInput, score int) (*Rating, error) {
	if err := validateScore(score); err != nil {
		return nil, err
	}
	var rating *Rating
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		track, err := tracks.NewStore(tx).UpsertBySpotifyID(ctx, input)
		if err != nil {
			return err
		}
		rating, err = upsertRating(tx, userID, track.ID, score)
		return err
	})
	if err != nil {
		s.logUnexpected(opRateBySpotify, err, zap.Uint("user_id", userID), zap.String("spotify_id", input.SpotifyID))
		return nil, err
	}
	return rating, nil
}

// RatingFilter narrows ListRatings. Zero fields match every row.
type RatingFilter struct {
	UserID  uint
	TrackID uint
}

// ListRatings returns ratings matching the filter in creation order.
func (s *Service) ListRatings(ctx context.Context, filter RatingFilter) ([]Rating, error) {
	query := s.db.WithContext(ctx).Model(&Rating{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.TrackID != 0 {
		query = query.Where("track_id = ?", filter.TrackID)
	}
	ratings := []Rating{}
	if err := query.Order("id").Find(&ratings).Error; err != nil {
		s.logUnexpected(opListRatings, err)
		return nil, fmt.Errorf("ratings: listing ratings: %w", err)
	}
	return ratings, nil
}

func (s *Service) GetRating(ctx context.Context, ratingID uint) (*Rating, error) {
	return loadRating(s.db.WithContext(ctx), ratingID)
}

// UpdateRating changes the score of a rating owned by the actor. Administrators
// may update any rating. A nil score leaves the rating unchanged.
func (s *Service) UpdateRating(ctx context.Context, actor auth.AuthenticatedContext, ratingID uint, score *int) (*Rating, error) {
	if score != nil {
		if err := validateScore(*score); err != nil {
			return nil, err
		}
	}
	var rating *Rating
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadOwnedRating(tx, actor, ratingID, "update")
		if err != nil {
			return err
		}
		if score != nil {
			if err := tx.Model(existing).Update("score", *score).Error; err != nil {
				return fmt.Errorf("ratings: updating rating %d: %w", ratingID, err)
			}
		}
		rating, err = loadRating(tx, ratingID)
		return err
	})
	if err != nil {
		s.logUnexpected(opUpdateRating, err, zap.Uint("rating_id", ratingID))
		return nil, err
	}
	return rating, nil
}

// RemoveRating deletes a rating owned by the actor. Administrators may remove any rating.
func (s *Service) RemoveRating(ctx context.Context, actor auth.AuthenticatedContext, ratingID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadOwnedRating(tx, actor, ratingID, "delete")
		if err != nil {
			return err
		}
		if err := tx.Delete(existing).Error; err != nil {
			return fmt.Errorf("ratings: deleting rating %d: %w", ratingID, err)
		}
		return nil
	})
	if err != nil {
		s.logUnexpected(opRemoveRating, err, zap.Uint("rating_id", ratingID))
		return err
	}
	return nil
}

func loadRating(db *gorm.DB, ratingID uint) (*Rating, error) {
	var rating Rating
	err := db.Where("id = ?", ratingID).Take(&rating).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("rating_not_found", fmt.Sprintf("rating with id %d not found", ratingID))
	}
	if err != nil {
		return nil, fmt.Errorf("ratings: loading rating %d: %w", ratingID, err)
	}
	return &rating, nil
}

func loadOwnedRating(db *gorm.DB, actor auth.AuthenticatedContext, ratingID uint, action string) (*Rating, error) {
	rating, err := loadRating(db, ratingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && rating.UserID != actor.UserID {
		return nil, apperror.Forbidden("not_owner", "you cannot "+action+" a rating that is not yours")
	}
	return rating, nil
}

// Average returns the mean score and rating count of a track.
func (s *Service) Average(ctx context.Context, trackID uint) (TrackAverage, error) {
	db := s.db.WithContext(ctx)
	if _, err := tracks.NewStore(db).Get(ctx, trackID); err != nil {
		return TrackAverage{}, err
	}
	var aggregate struct {
		Average *float64
		Count   int64
	}
	err := db.Model(&Rating{}).
		Select("AVG(score) AS average, COUNT(*) AS count").
		Where("track_id = ?", trackID).
		Scan(&aggregate).Error
	if err != nil {
		s.logUnexpected(opAverage, err, zap.Uint("track_id", trackID))
		return TrackAverage{}, fmt.Errorf("ratings: averaging track %d: %w", trackID, err)
	}
	result := TrackAverage{TrackID: trackID, Count: aggregate.Count}
	if aggregate.Average != nil {
		result.Average = *aggregate.Average
	}
	return result, nil
}

// Like records the like; liking an already liked track returns the existing row.
func (s *Service) Like(ctx context.Context, userID, trackID uint) (*Like, error) {
	var like Like
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tracks.NewStore(tx).Get(ctx, trackID); err != nil {
			return err
		}
		insert := Like{UserID: userID, TrackID: trackID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "track_id"}},
			DoNothing: true,
		}).Create(&insert).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND track_id = ?", userID, trackID).Take(&like).Error
	})
	if err != nil {
		s.logUnexpected(opLike, err, zap.Uint("user_id", userID), zap.Uint("track_id", trackID))
		return nil, err
	}
	return &like, nil
}

// Unlike removes the like or reports NotFound when the track was not liked.
func (s *Service) Unlike(ctx context.Context, userID, trackID uint) error {
	result := s.db.WithContext(ctx).Where("user_id = ? AND track_id = ?", userID, trackID).Delete(&Like{})
	if result.Error != nil {
		s.logUnexpected(opUnlike, result.Error, zap.Uint("user_id", userID), zap.Uint("track_id", trackID))
		return fmt.Errorf("ratings: unliking track %d: %w", trackID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound("like_not_found", "like not found")
	}
	return nil
}

func (s *Service) IsLiked(ctx context.Context, userID, trackID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Like{}).Where("user_id = ? AND track_id = ?", userID, trackID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("ratings: checking like: %w", err)
	}
	return count > 0, nil
}

func (s *Service) CountLikes(ctx context.Context, trackID uint) (int64, error) {
	if _, err := tracks.NewStore(s.db).Get(ctx, trackID); err != nil {
		return 0, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Like{}).Where("track_id = ?", trackID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("ratings: counting likes of track %d: %w", trackID, err)
	}
	return count, nil
}

// ListLikes returns the user's likes, newest first.
func (s *Service) ListLikes(ctx context.Context, userID uint) ([]Like, error) {
	likes := []Like{}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&likes).Error; err != nil {
		s.logUnexpected(opLikes, err, zap.Uint("user_id", userID))
		return nil, fmt.Errorf("ratings: listing likes of user %d: %w", userID, err)
	}
	return likes, nil
}

func upsertRating(tx *gorm.DB, userID, trackID uint, score int) (*Rating, error) {
	insert := Rating{UserID: userID, TrackID: trackID, Score: score}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "track_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
	}).Create(&insert).Error
	if err != nil {
		return nil, fmt.Errorf("ratings: upserting rating: %w", err)
	}
	var stored Rating
	if err := tx.Where("user_id = ? AND track_id = ?", userID, trackID).Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("ratings: reloading rating: %w", err)
	}
	return &stored, nil
}

func validateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return apperror.Validation("invalid_score", fmt.Sprintf("score must be between %d and %d", MinScore, MaxScore))
	}
	return nil
}

// logUnexpected logs errors that are not part of the user-facing taxonomy.
func (s *Service) logUnexpected(operation string, err error, fields ...zap.Field) {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return
	}
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	s.logger.Error("ratings service error", attrs...)
}

// requireUser rejects writes for accounts that no longer exist.
func requireUser(ctx context.Context, tx *gorm.DB, userID uint) error {
	_, err := users.NewStore(tx).GetByID(ctx, userID)
	return err
}
