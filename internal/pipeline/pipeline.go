// Package pipeline wires producer lifecycle events into the forking,
// recording, and transcription subsystems: one transcription fork and
// session per producer, recording tracks while a recording is active, and
// transcript file writers bound to the recording's track files.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/forker"
	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/internal/recording"
	"github.com/aura-soundcast/core/internal/registry"
	"github.com/aura-soundcast/core/internal/rooms"
	"github.com/aura-soundcast/core/internal/sfuadapter"
	"github.com/aura-soundcast/core/internal/transcription"
	"github.com/aura-soundcast/core/internal/transcripts"
)

// Pipeline implements signaling.ProducerHooks.
type Pipeline struct {
	rooms   *rooms.Repository
	rec     *recording.Service
	forkSvc *forker.Service
	tm      *transcription.Manager
	store   *transcripts.Store
	fw      *transcripts.FileWriter
	threads int
	log     *zap.Logger

	mu    sync.Mutex
	forks map[string]*forker.Fork // transcription fork per internal producer id
}

// New constructs a Pipeline. threads is the per-session inference thread
// count handed to the transcriber.
func New(roomRepo *rooms.Repository, rec *recording.Service, forkSvc *forker.Service, tm *transcription.Manager, store *transcripts.Store, fw *transcripts.FileWriter, threads int, log *zap.Logger) *Pipeline {
	if threads <= 0 {
		threads = 4
	}
	return &Pipeline{
		rooms:   roomRepo,
		rec:     rec,
		forkSvc: forkSvc,
		tm:      tm,
		store:   store,
		fw:      fw,
		threads: threads,
		log:     log,
		forks:   make(map[string]*forker.Fork),
	}
}

// OnProducerStarted starts a recording track (when the room is being
// recorded) and a transcription fork+session (when transcription is
// enabled) for the new producer. A failure in either sink is isolated: the
// producer and its listeners are unaffected.
func (p *Pipeline) OnProducerStarted(key registry.Key, producerID, displayName, language string, producer sfuadapter.Producer) {
	room, err := p.rooms.GetBySlug(key.RoomSlug)
	if err != nil {
		p.log.Debug("producer in unprovisioned room, sinks skipped", zap.String("room_slug", key.RoomSlug))
		return
	}

	p.rec.OnProducerArrival(room.ID, recording.LiveProducer{
		ChannelName: key.ChannelName,
		ProducerID:  producerID,
		DisplayName: displayName,
		Producer:    producer,
	})

	if !p.tm.Enabled() {
		return
	}
	sink := p.store.Sink(transcripts.ProducerContext{
		RoomID:              room.ID,
		ChannelName:         key.ChannelName,
		ProducerDisplayName: displayName,
	})
	if err := p.tm.StartSession(context.Background(), producerID, language, p.threads, sink); err != nil {
		p.log.Error("transcription session start failed, recording unaffected",
			zap.String("producer_id", producerID), zap.Error(err))
		return
	}
	fork, err := p.forkSvc.StartFork(context.Background(), producer, forker.SinkKindTranscription, func(pcm []byte) {
		p.tm.Write(producerID, pcm)
	})
	if err != nil {
		p.tm.EndSession(producerID)
		p.log.Error("transcription fork failed", zap.String("producer_id", producerID), zap.Error(err))
		return
	}
	p.mu.Lock()
	p.forks[producerID] = fork
	p.mu.Unlock()

	p.bindFileWriter(room.ID, key.ChannelName, producerID, displayName, language)
}

// bindFileWriter attaches the transcript file writer to the producer's
// recording track files when the room has an active recording.
func (p *Pipeline) bindFileWriter(roomID uuid.UUID, channelName, producerID, displayName, language string) {
	recID, ok := p.rec.RecordingIDFor(roomID)
	if !ok {
		return
	}
	channelDir, baseName, startedAt, ok := p.rec.TrackFileInfo(roomID, producerID)
	if !ok {
		return
	}
	p.fw.Bind(recID, channelDir, producerID, displayName, channelName, language, baseName, startedAt)
}

// OnProducerStopped tears the producer's sinks down: fork first so no more
// PCM flows, then the transcription session (flushing trailing segments),
// then the file writer summary, then the recording track.
func (p *Pipeline) OnProducerStopped(key registry.Key, producerID string) {
	p.mu.Lock()
	fork := p.forks[producerID]
	delete(p.forks, producerID)
	p.mu.Unlock()
	if fork != nil {
		fork.Teardown()
	}
	p.tm.EndSession(producerID)

	room, err := p.rooms.GetBySlug(key.RoomSlug)
	if err != nil {
		return
	}
	if recID, ok := p.rec.RecordingIDFor(room.ID); ok {
		p.fw.Finalize(recID, producerID, time.Now())
	}
	p.rec.OnProducerDeparture(room.ID, producerID)
}

// StartRecording begins a recording for the room and binds file writers for
// every producer that already has a live transcription session.
func (p *Pipeline) StartRecording(roomID uuid.UUID, roomSlug string, live []recording.LiveProducer) (*models.Recording, error) {
	rec, err := p.rec.Start(roomID, roomSlug, live)
	if err != nil {
		return nil, err
	}
	for _, lp := range live {
		if !p.tm.HasSession(lp.ProducerID) {
			continue
		}
		p.bindFileWriter(roomID, lp.ChannelName, lp.ProducerID, lp.DisplayName, lp.SourceLanguage)
	}
	return rec, nil
}

// StopRecording finalizes every bound transcript file writer and stops the
// recording.
func (p *Pipeline) StopRecording(roomID uuid.UUID) (*models.Recording, error) {
	now := time.Now()
	if recID, ok := p.rec.RecordingIDFor(roomID); ok {
		p.fw.FinalizeAll(recID, now)
	}
	return p.rec.Stop(roomID)
}
