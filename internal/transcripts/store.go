package transcripts

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/internal/transcription"
)

// Embedder is the subset of the Embedder + Vector Index the store needs:
// fire-and-forget enqueue of a freshly persisted segment.
type Embedder interface {
	Enqueue(transcriptID uuid.UUID, text string, roomID uuid.UUID)
}

// SegmentFileWriter is the subset of the Transcript File Writer the store
// drives when a recording is bound for this room/channel.
type SegmentFileWriter interface {
	Append(roomID uuid.UUID, channelName string, seg *models.TranscriptSegment)
}

// Store implements the Transcript Store: it persists segments, hands them
// to the embedder, and fans them out to a live broadcast channel plus any
// bound Transcript File Writer.
type Store struct {
	repo     *Repository
	embedder Embedder
	fileWriter SegmentFileWriter
	log      *zap.Logger

	mu          sync.RWMutex
	subscribers map[chan *models.TranscriptSegment]struct{}
}

// NewStore constructs a Store. embedder and fileWriter may be nil (embedder
// disabled, no recording bound).
func NewStore(repo *Repository, embedder Embedder, fileWriter SegmentFileWriter, log *zap.Logger) *Store {
	return &Store{
		repo:        repo,
		embedder:    embedder,
		fileWriter:  fileWriter,
		log:         log,
		subscribers: make(map[chan *models.TranscriptSegment]struct{}),
	}
}

// Subscribe registers a channel that receives every segment persisted for
// any room from this point on. Callers must call the returned unsubscribe
// function when done.
func (s *Store) Subscribe() (<-chan *models.TranscriptSegment, func()) {
	ch := make(chan *models.TranscriptSegment, 32)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

func (s *Store) broadcast(seg *models.TranscriptSegment) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- seg:
		default:
		}
	}
}

// OnSegmentWithContext persists the segment with producer/room context
// supplied out of band (see Sink, whose bound sink implements
// transcription.SegmentSink by calling this), enqueues embedding
// generation, and fans out to subscribers and any bound file writer.
func (s *Store) OnSegmentWithContext(roomID uuid.UUID, channelName, producerDisplayName string, producerID string, persisted transcription.PersistedSegment) {
	seg := &models.TranscriptSegment{
		RoomID:              roomID,
		ChannelName:         channelName,
		ProducerID:          producerID,
		ProducerDisplayName: producerDisplayName,
		TextContent:         persisted.Text,
		TimestampStart:      persisted.TimestampStart,
		TimestampEnd:        persisted.TimestampEnd,
		Confidence:          1.0,
		Language:            "en",
	}
	stored, err := s.repo.Create(seg)
	if err != nil {
		s.log.Error("persist transcript segment failed", zap.Error(err))
		return
	}
	if s.embedder != nil {
		s.embedder.Enqueue(stored.ID, stored.TextContent, stored.RoomID)
	}
	if s.fileWriter != nil {
		s.fileWriter.Append(stored.RoomID, stored.ChannelName, stored)
	}
	s.broadcast(stored)
}

// ProducerContext is the room/channel/display-name binding a signaling
// session knows and a transcription session does not; Sink closes over it
// to produce a transcription.SegmentSink for one producer.
type ProducerContext struct {
	RoomID              uuid.UUID
	ChannelName         string
	ProducerDisplayName string
}

type boundSink struct {
	store *Store
	ctx   ProducerContext
}

func (b *boundSink) OnSegment(producerID string, seg transcription.PersistedSegment) {
	b.store.OnSegmentWithContext(b.ctx.RoomID, b.ctx.ChannelName, b.ctx.ProducerDisplayName, producerID, seg)
}

// Sink returns a transcription.SegmentSink bound to a specific producer's
// room/channel context.
func (s *Store) Sink(ctx ProducerContext) transcription.SegmentSink {
	return &boundSink{store: s, ctx: ctx}
}

func (s *Store) GetByRoom(roomID uuid.UUID, opts ListOptions) ([]*models.TranscriptSegment, error) {
	return s.repo.GetByRoom(roomID, opts)
}

func (s *Store) GetByTimeRange(roomID uuid.UUID, start, end float64, channelName string) ([]*models.TranscriptSegment, error) {
	return s.repo.GetByTimeRange(roomID, start, end, channelName)
}

func (s *Store) GetRecent(roomID uuid.UUID, minutes int, channelName string) ([]*models.TranscriptSegment, error) {
	return s.repo.GetRecent(roomID, minutes, channelName)
}

func (s *Store) CountBy(roomID uuid.UUID, channelName string) (int64, error) {
	return s.repo.CountBy(roomID, channelName)
}
