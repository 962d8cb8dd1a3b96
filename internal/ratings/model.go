package ratings

import (
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/tracks"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
)

const (
	MinScore = 1
	MaxScore = 5
)

// Rating is the score a user gave a track. At most one row exists per (user, track).
type Rating struct {
	ID        uint          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    uint          `gorm:"column:user_id;not null;uniqueIndex:idx_ratings_user_track,priority:1" json:"userId"`
	TrackID   uint          `gorm:"column:track_id;not null;uniqueIndex:idx_ratings_user_track,priority:2;index" json:"trackId"`
	Score     int           `gorm:"column:score;not null" json:"score"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
	User      *users.User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Track     *tracks.Track `gorm:"foreignKey:TrackID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName exposes the table backing ratings.
func (Rating) TableName() string {
	return "ratings"
}

// Like records that a user liked a track. At most one row exists per (user, track).
type Like struct {
	ID        uint          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    uint          `gorm:"column:user_id;not null;uniqueIndex:idx_likes_user_track,priority:1" json:"userId"`
	TrackID   uint          `gorm:"column:track_id;not null;uniqueIndex:idx_likes_user_track,priority:2;index" json:"trackId"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	User      *users.User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Track     *tracks.Track `gorm:"foreignKey:TrackID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName exposes the table backing likes.
func (Like) TableName() string {
	return "likes"
}

// TrackAverage summarises the ratings of one track.
type TrackAverage struct {
	TrackID uint    `json:"trackId"`
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}
