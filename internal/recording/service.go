package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/apierror"
	"github.com/aura-soundcast/core/internal/forker"
	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/internal/sfuadapter"
	"github.com/aura-soundcast/core/pkg/pathsafe"
)

// LiveProducer is the minimal view of an active producer the recording
// service needs in order to start a track for it; the caller (signaling
// layer, which owns the Channel Registry) supplies these.
type LiveProducer struct {
	ChannelName    string
	ProducerID     string
	DisplayName    string
	SourceLanguage string
	Producer       sfuadapter.Producer
}

// TranscriptSink optionally receives the same forked audio a track was
// created for, bridging recording and transcription (they are
// independent but may share a fork source).
type TranscriptSink interface {
	WritePCM(roomID uuid.UUID, channelName, producerID string, pcm []byte)
}

type track struct {
	row      *models.RecordingTrack
	fork     *forker.Fork
	file     *os.File
}

type activeRecording struct {
	recording *models.Recording
	folder    string
	meta      *metadataWriter
	mu        sync.Mutex
	tracks    map[string]*track // keyed by producer id
}

// Service implements the Recording Sink.
type Service struct {
	repo        *Repository
	forkSvc     *forker.Service
	recordingsDir string
	log         *zap.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*activeRecording // keyed by room id
}

// NewService constructs a recording Service rooted at recordingsDir.
func NewService(repo *Repository, forkSvc *forker.Service, recordingsDir string, log *zap.Logger) *Service {
	return &Service{
		repo:          repo,
		forkSvc:       forkSvc,
		recordingsDir: recordingsDir,
		log:           log,
		active:        make(map[uuid.UUID]*activeRecording),
	}
}

// RecoverCrashed flips crash-interrupted recordings (and their tracks) to
// error at startup; content is not attempted.
func (s *Service) RecoverCrashed() error {
	_, err := s.repo.RecoverCrashed()
	return err
}

// IsRecording reports whether roomID currently has an active recording.
func (s *Service) IsRecording(roomID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[roomID]
	return ok
}

// Start begins a new recording for roomID/roomSlug, seeding one track per
// currently-live producer. Only one recording may be active per room.
func (s *Service) Start(roomID uuid.UUID, roomSlug string, liveProducers []LiveProducer) (*models.Recording, error) {
	s.mu.Lock()
	if _, ok := s.active[roomID]; ok {
		s.mu.Unlock()
		return nil, apierror.New(apierror.KindConflict, "room already has an active recording")
	}
	s.mu.Unlock()

	now := time.Now()
	rec := &models.Recording{
		ID:         uuid.New(),
		RoomID:     roomID,
		FolderName: fmt.Sprintf("%s_%s", roomSlug, now.UTC().Format("20060102T150405")),
		Status:     models.RecordingStatusRecording,
		StartedAt:  now,
	}
	if err := s.repo.CreateRecording(rec); err != nil {
		return nil, err
	}

	folder := filepath.Join(s.recordingsDir, rec.FolderName)
	if err := os.MkdirAll(folder, 0o750); err != nil {
		return nil, fmt.Errorf("create recording folder: %w", err)
	}

	ar := &activeRecording{
		recording: rec,
		folder:    folder,
		meta:      newMetadataWriter(folder, rec.ID, roomSlug, now),
		tracks:    make(map[string]*track),
	}
	s.mu.Lock()
	s.active[roomID] = ar
	s.mu.Unlock()

	for _, lp := range liveProducers {
		if err := s.startTrack(ar, lp); err != nil {
			s.log.Warn("start recording track failed", zap.Error(err), zap.String("producer_id", lp.ProducerID))
		}
	}
	return rec, nil
}

// OnProducerArrival starts an additional track for a producer that joined
// after a recording was already in progress.
func (s *Service) OnProducerArrival(roomID uuid.UUID, lp LiveProducer) {
	s.mu.Lock()
	ar, ok := s.active[roomID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.startTrack(ar, lp); err != nil {
		s.log.Warn("start recording track on arrival failed", zap.Error(err), zap.String("producer_id", lp.ProducerID))
	}
}

func (s *Service) startTrack(ar *activeRecording, lp LiveProducer) error {
	channelDir := filepath.Join(ar.folder, pathsafe.Sanitize(lp.ChannelName))
	if err := os.MkdirAll(channelDir, 0o750); err != nil {
		return fmt.Errorf("create channel folder: %w", err)
	}
	base := fmt.Sprintf("%s_%d", pathsafe.Sanitize(lp.DisplayName), time.Now().UnixMilli())
	filePath := filepath.Join(channelDir, base+".ogg")

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create track file: %w", err)
	}

	row := &models.RecordingTrack{
		ID:                  uuid.New(),
		RecordingID:         ar.recording.ID,
		ChannelName:         lp.ChannelName,
		ProducerID:          lp.ProducerID,
		ProducerDisplayName: lp.DisplayName,
		FilePath:            filePath,
		Status:              models.RecordingStatusRecording,
		StartedAt:           time.Now(),
	}
	if err := s.repo.CreateTrack(row); err != nil {
		f.Close()
		return err
	}

	fk, err := s.forkSvc.StartFork(context.Background(), lp.Producer, forker.SinkKindRecording, func(b []byte) {
		_, _ = f.Write(b)
	})
	if err != nil {
		f.Close()
		_ = s.repo.UpdateTrackStatus(row.ID, models.RecordingStatusError, nil)
		return apierror.Wrap(apierror.KindSinkFailure, "start recording fork", err)
	}

	ar.mu.Lock()
	ar.tracks[lp.ProducerID] = &track{row: row, fork: fk, file: f}
	ar.mu.Unlock()

	ar.meta.addTrack(metadataTrack{
		ID:                  row.ID.String(),
		ChannelName:         row.ChannelName,
		ProducerID:          row.ProducerID,
		ProducerDisplayName: row.ProducerDisplayName,
		FilePath:            row.FilePath,
		Status:              string(row.Status),
		StartedAt:           row.StartedAt,
	})
	return nil
}

// TrackFileInfo returns the channel folder and base filename (without
// extension) of the active recording track bound to producerID, so the
// transcript file writer can share its naming. ok is false when
// roomID has no active recording or no track for that producer.
func (s *Service) TrackFileInfo(roomID uuid.UUID, producerID string) (channelDir, baseName string, startedAt time.Time, ok bool) {
	s.mu.Lock()
	ar, exists := s.active[roomID]
	s.mu.Unlock()
	if !exists {
		return "", "", time.Time{}, false
	}
	ar.mu.Lock()
	t, exists := ar.tracks[producerID]
	ar.mu.Unlock()
	if !exists {
		return "", "", time.Time{}, false
	}
	ext := filepath.Ext(t.row.FilePath)
	base := t.row.FilePath[:len(t.row.FilePath)-len(ext)]
	return filepath.Dir(t.row.FilePath), filepath.Base(base), t.row.StartedAt, true
}

// RecordingIDFor returns the active recording id for roomID, if any.
func (s *Service) RecordingIDFor(roomID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ar, ok := s.active[roomID]
	if !ok {
		return uuid.Nil, false
	}
	return ar.recording.ID, true
}

// OnProducerDeparture stops the single track bound to producerID, if this
// room has an active recording.
func (s *Service) OnProducerDeparture(roomID uuid.UUID, producerID string) {
	s.mu.Lock()
	ar, ok := s.active[roomID]
	s.mu.Unlock()
	if !ok {
		return
	}
	ar.mu.Lock()
	t, ok := ar.tracks[producerID]
	if ok {
		delete(ar.tracks, producerID)
	}
	ar.mu.Unlock()
	if !ok {
		return
	}
	s.stopTrack(ar, t)
}

func (s *Service) stopTrack(ar *activeRecording, t *track) {
	t.fork.Teardown()
	_ = t.file.Close()
	now := time.Now()
	_ = s.repo.UpdateTrackStatus(t.row.ID, models.RecordingStatusStopped, &now)
	ar.meta.updateTrackStopped(t.row.ID.String(), now, string(models.RecordingStatusStopped))
}

// Stop finalizes the recording for roomID: every remaining track is closed,
// the recording row is marked stopped, and metadata.json is rewritten one
// final time.
func (s *Service) Stop(roomID uuid.UUID) (*models.Recording, error) {
	s.mu.Lock()
	ar, ok := s.active[roomID]
	if ok {
		delete(s.active, roomID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, apierror.New(apierror.KindConflict, "room has no active recording")
	}

	ar.mu.Lock()
	tracks := make([]*track, 0, len(ar.tracks))
	for _, t := range ar.tracks {
		tracks = append(tracks, t)
	}
	ar.tracks = make(map[string]*track)
	ar.mu.Unlock()

	for _, t := range tracks {
		s.stopTrack(ar, t)
	}

	now := time.Now()
	ar.recording.Status = models.RecordingStatusStopped
	ar.recording.StoppedAt = &now
	if err := s.repo.UpdateRecordingStatus(ar.recording.ID, models.RecordingStatusStopped, &now); err != nil {
		return nil, err
	}
	ar.meta.finalize(now)
	return ar.recording, nil
}
