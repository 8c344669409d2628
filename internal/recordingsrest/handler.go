// Package recordingsrest is the REST boundary over recordings and
// transcripts: start/stop recording a room, list past recordings and their
// tracks, query transcript segments, and run semantic search.
package recordingsrest

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/apierror"
	"github.com/aura-soundcast/core/internal/embedding"
	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/internal/pipeline"
	"github.com/aura-soundcast/core/internal/recording"
	"github.com/aura-soundcast/core/internal/rooms"
	"github.com/aura-soundcast/core/internal/transcripts"
	"github.com/aura-soundcast/core/pkg/response"
)

// LiveProducerSource supplies the currently-live producers of a room so a
// new recording can seed one track per producer.
type LiveProducerSource interface {
	LiveProducersForRoom(roomSlug string) []recording.LiveProducer
}

// Handler serves the recording/transcript REST routes.
type Handler struct {
	roomRepo *rooms.Repository
	recRepo  *recording.Repository
	pipe     *pipeline.Pipeline
	live     LiveProducerSource
	store    *transcripts.Store
	embedder *embedding.Embedder
	log      *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(roomRepo *rooms.Repository, recRepo *recording.Repository, pipe *pipeline.Pipeline, live LiveProducerSource, store *transcripts.Store, embedder *embedding.Embedder, log *zap.Logger) *Handler {
	return &Handler{
		roomRepo: roomRepo,
		recRepo:  recRepo,
		pipe:     pipe,
		live:     live,
		store:    store,
		embedder: embedder,
		log:      log,
	}
}

func (h *Handler) roomFromParam(c *gin.Context) (*models.Room, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return nil, false
	}
	room, err := h.roomRepo.GetByID(roomID)
	if err != nil {
		response.NotFound(c, "room not found")
		return nil, false
	}
	return room, true
}

// StartRecording handles POST /rooms-by-id/:id/recording/start. A room with a
// recording already in progress gets 409.
func (h *Handler) StartRecording(c *gin.Context) {
	room, ok := h.roomFromParam(c)
	if !ok {
		return
	}
	rec, err := h.pipe.StartRecording(room.ID, room.Slug, h.live.LiveProducersForRoom(room.Slug))
	if err != nil {
		if kind, ok := apierror.KindOf(err); ok && kind == apierror.KindConflict {
			response.Conflict(c, err.Error())
			return
		}
		h.log.Error("start recording failed", zap.String("room_id", room.ID.String()), zap.Error(err))
		response.Internal(c, "failed to start recording")
		return
	}
	response.Created(c, rec)
}

// StopRecording handles POST /rooms-by-id/:id/recording/stop.
func (h *Handler) StopRecording(c *gin.Context) {
	room, ok := h.roomFromParam(c)
	if !ok {
		return
	}
	rec, err := h.pipe.StopRecording(room.ID)
	if err != nil {
		if kind, ok := apierror.KindOf(err); ok && kind == apierror.KindConflict {
			response.Conflict(c, err.Error())
			return
		}
		h.log.Error("stop recording failed", zap.String("room_id", room.ID.String()), zap.Error(err))
		response.Internal(c, "failed to stop recording")
		return
	}
	response.OK(c, rec)
}

// ListRecordings handles GET /rooms-by-id/:id/recordings.
func (h *Handler) ListRecordings(c *gin.Context) {
	room, ok := h.roomFromParam(c)
	if !ok {
		return
	}
	list, err := h.recRepo.ListByRoom(room.ID)
	if err != nil {
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// ListTracks handles GET /recordings/:id/tracks.
func (h *Handler) ListTracks(c *gin.Context) {
	recID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	tracks, err := h.recRepo.TracksForRecording(recID)
	if err != nil {
		response.Internal(c, "failed to list tracks")
		return
	}
	response.OK(c, tracks)
}

// ListTranscripts handles GET /rooms-by-id/:id/transcripts with limit, offset,
// channel, start and end query parameters.
func (h *Handler) ListTranscripts(c *gin.Context) {
	room, ok := h.roomFromParam(c)
	if !ok {
		return
	}
	opts := transcripts.ListOptions{
		Limit:       queryInt(c, "limit", 100),
		Offset:      queryInt(c, "offset", 0),
		ChannelName: c.Query("channel"),
	}
	opts.StartTime, _ = strconv.ParseFloat(c.Query("start"), 64)
	opts.EndTime, _ = strconv.ParseFloat(c.Query("end"), 64)

	list, err := h.store.GetByRoom(room.ID, opts)
	if err != nil {
		response.Internal(c, "failed to list transcripts")
		return
	}
	response.OK(c, list)
}

// RecentTranscripts handles GET /rooms-by-id/:id/transcripts/recent?minutes=60.
func (h *Handler) RecentTranscripts(c *gin.Context) {
	room, ok := h.roomFromParam(c)
	if !ok {
		return
	}
	list, err := h.store.GetRecent(room.ID, queryInt(c, "minutes", 60), c.Query("channel"))
	if err != nil {
		response.Internal(c, "failed to list recent transcripts")
		return
	}
	response.OK(c, list)
}

// CountTranscripts handles GET /rooms-by-id/:id/transcripts/count.
func (h *Handler) CountTranscripts(c *gin.Context) {
	room, ok := h.roomFromParam(c)
	if !ok {
		return
	}
	n, err := h.store.CountBy(room.ID, c.Query("channel"))
	if err != nil {
		response.Internal(c, "failed to count transcripts")
		return
	}
	response.OK(c, gin.H{"count": n})
}

type searchRequest struct {
	Query       string  `json:"query" binding:"required"`
	Limit       int     `json:"limit"`
	MinScore    float64 `json:"min_score"`
	ChannelName string  `json:"channel"`
}

// Search handles POST /rooms-by-id/:id/transcripts/search. Search fails hard when
// the embedding generator is unavailable — there is no text fallback.
func (h *Handler) Search(c *gin.Context) {
	room, ok := h.roomFromParam(c)
	if !ok {
		return
	}
	if h.embedder == nil || !h.embedder.Enabled() {
		response.ServiceUnavailable(c, "semantic search is disabled")
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	results, err := h.embedder.SearchSimilar(c.Request.Context(), req.Query, room.ID, embedding.SearchOptions{
		Limit:       req.Limit,
		MinScore:    req.MinScore,
		ChannelName: req.ChannelName,
	})
	if err != nil {
		h.log.Error("similarity search failed", zap.Error(err))
		response.Internal(c, "search failed")
		return
	}
	response.OK(c, results)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
