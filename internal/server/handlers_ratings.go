package server

import (
	"net/http"
	"strconv"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/HugoGarrigues/MusicSwipe/internal/ratings"
	"github.com/HugoGarrigues/MusicSwipe/internal/tracks"
	"github.com/gin-gonic/gin"
)

type rateRequestPayload struct {
	TrackID uint `json:"trackId"`
	Score   int  `json:"score"`
}

type rateSpotifyRequestPayload struct {
	SpotifyID  string `json:"spotifyId"`
	Title      string `json:"title"`
	ArtistName string `json:"artistName"`
	AlbumName  string `json:"albumName"`
	Duration   int    `json:"duration"`
	PreviewURL string `json:"previewUrl"`
	Score      int    `json:"score"`
}

type updateRatingRequestPayload struct {
	Score *int `json:"score"`
}

type likeStatusPayload struct {
	TrackID uint  `json:"trackId"`
	Liked   bool  `json:"liked"`
	Count   int64 `json:"count"`
}

func (h *httpHandler) handleRate(c *gin.Context) {
	caller, _ := callerFrom(c)
	var request rateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.TrackID == 0 {
		h.respondError(c, "rate", invalidRequest("trackId and score are required"))
		return
	}
	rating, err := h.ratings.Rate(c.Request.Context(), caller.UserID, request.TrackID, request.Score)
	if err != nil {
		h.respondError(c, "rate", err)
		return
	}
	c.JSON(http.StatusOK, rating)
}

func (h *httpHandler) handleRateBySpotify(c *gin.Context) {
	caller, _ := callerFrom(c)
	var request rateSpotifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, "rate spotify track", invalidRequest("spotifyId and score are required"))
		return
	}
	rating, err := h.ratings.RateBySpotify(c.Request.Context(), caller.UserID, tracks.TrackInput{
		SpotifyID:       request.SpotifyID,
		Title:           request.Title,
		ArtistName:      request.ArtistName,
		AlbumName:       request.AlbumName,
		DurationSeconds: request.Duration,
		PreviewURL:      request.PreviewURL,
	}, request.Score)
	if err != nil {
		h.respondError(c, "rate spotify track", err)
		return
	}
	c.JSON(http.StatusOK, rating)
}

func (h *httpHandler) handleListRatings(c *gin.Context) {
	var filter ratings.RatingFilter
	for name, target := range map[string]*uint{"userId": &filter.UserID, "trackId": &filter.TrackID} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.respondError(c, "list ratings", invalidRequest(name+" must be a positive integer"))
			return
		}
		*target = uint(value)
	}
	rows, err := h.ratings.ListRatings(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "list ratings", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *httpHandler) handleGetRating(c *gin.Context) {
	ratingID, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, "get rating", err)
		return
	}
	rating, err := h.ratings.GetRating(c.Request.Context(), ratingID)
	if err != nil {
		h.respondError(c, "get rating", err)
		return
	}
	c.JSON(http.StatusOK, rating)
}

func (h *httpHandler) handleUpdateRating(c *gin.Context) {
	caller, _ := callerFrom(c)
	ratingID, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, "update rating", err)
		return
	}
	var request updateRatingRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, "update rating", invalidRequest("score must be an integer"))
		return
	}
	rating, err := h.ratings.UpdateRating(c.Request.Context(), caller, ratingID, request.Score)
	if err != nil {
		h.respondError(c, "update rating", err)
		return
	}
	c.JSON(http.StatusOK, rating)
}

func (h *httpHandler) handleRemoveRating(c *gin.Context) {
	caller, _ := callerFrom(c)
	ratingID, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, "remove rating", err)
		return
	}
	if err := h.ratings.RemoveRating(c.Request.Context(), caller, ratingID); err != nil {
		h.respondError(c, "remove rating", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTrackRating(c *gin.Context) {
	trackID, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, "track rating", err)
		return
	}
	summary, err := h.ratings.Average(c.Request.Context(), trackID)
	if err != nil {
		h.respondError(c, "track rating", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleLike(c *gin.Context) {
	caller, _ := callerFrom(c)
	trackID, err := parseID(c, "trackId")
	if err != nil {
		h.respondError(c, "like", err)
		return
	}
	like, err := h.ratings.Like(c.Request.Context(), caller.UserID, trackID)
	if err != nil {
		h.respondError(c, "like", err)
		return
	}
	c.JSON(http.StatusOK, like)
}

func (h *httpHandler) handleUnlike(c *gin.Context) {
	caller, _ := callerFrom(c)
	trackID, err := parseID(c, "trackId")
	if err != nil {
		h.respondError(c, "unlike", err)
		return
	}
	if err := h.ratings.Unlike(c.Request.Context(), caller.UserID, trackID); err != nil {
		h.respondError(c, "unlike", err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Like removed"})
}

func (h *httpHandler) handleLikeStatus(c *gin.Context) {
	caller, _ := callerFrom(c)
	trackID, err := parseID(c, "trackId")
	if err != nil {
		h.respondError(c, "like status", err)
		return
	}
	count, err := h.ratings.CountLikes(c.Request.Context(), trackID)
	if err != nil {
		h.respondError(c, "like status", err)
		return
	}
	liked, err := h.ratings.IsLiked(c.Request.Context(), caller.UserID, trackID)
	if err != nil {
		h.respondError(c, "like status", err)
		return
	}
	c.JSON(http.StatusOK, likeStatusPayload{TrackID: trackID, Liked: liked, Count: count})
}

func (h *httpHandler) handleListLikes(c *gin.Context) {
	caller, _ := callerFrom(c)
	likes, err := h.ratings.ListLikes(c.Request.Context(), caller.UserID)
	if err != nil {
		h.respondError(c, "list likes", err)
		return
	}
	c.JSON(http.StatusOK, likes)
}

func (h *httpHandler) handleRecentTracks(c *gin.Context) {
	caller, _ := callerFrom(c)
	if h.recent == nil {
		h.respondError(c, "recent tracks", apperror.Validation("spotify_not_linked", "recent tracks are unavailable"))
		return
	}
	limit := tracks.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(c, "recent tracks", invalidRequest("limit must be an integer"))
			return
		}
		limit = parsed
	}
	recent, err := h.recent.List(c.Request.Context(), caller.UserID, limit)
	if err != nil {
		h.respondError(c, "recent tracks", err)
		return
	}
	c.JSON(http.StatusOK, recent)
}
