// Package forker implements the RTP Forking Subsystem: for a given
// producer it creates a plain-RTP side-car consumer, synthesizes the SDP
// the external format converter needs, spawns that converter, and routes
// its stdout bytes to whichever sink (recording or transcription) asked for
// the fork.
package forker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/apierror"
	"github.com/aura-soundcast/core/internal/sfuadapter"
)

// SinkKind distinguishes the two consumers of forked audio.
type SinkKind string

const (
	SinkKindRecording     SinkKind = "recording"
	SinkKindTranscription SinkKind = "transcription"
)

// ConverterCommand builds the external format-converter invocation for a
// given SDP file path and sink kind. Swappable for tests.
type ConverterCommand func(sdpPath string, kind SinkKind) *exec.Cmd

// DefaultConverterCommand shells out to ffmpeg, reading RTP/AVP described by
// the SDP file and emitting raw mono 16kHz float32 PCM on stdout for
// transcription sinks, or an Ogg/Opus container for recording sinks.
func DefaultConverterCommand(sdpPath string, kind SinkKind) *exec.Cmd {
	switch kind {
	case SinkKindTranscription:
		return exec.Command("ffmpeg",
			"-protocol_whitelist", "file,udp,rtp",
			"-f", "sdp", "-i", sdpPath,
			"-ar", "16000", "-ac", "1", "-f", "f32le", "-",
		)
	default:
		return exec.Command("ffmpeg",
			"-protocol_whitelist", "file,udp,rtp",
			"-f", "sdp", "-i", sdpPath,
			"-c:a", "libopus", "-f", "ogg", "-",
		)
	}
}

// Fork is one active plain-RTP side-car: a UDP port, a plain transport, a
// converter subprocess, and the goroutine forwarding its stdout to a sink.
type Fork struct {
	ID         string
	Kind       SinkKind
	ProducerID string

	arena      *sfuadapter.PortArena
	port       int
	rtcpMux    bool
	plain      sfuadapter.PlainTransport
	consumer   sfuadapter.PlainConsumer
	sdpPath    string
	cmd        *exec.Cmd
	log        *zap.Logger

	mu       sync.Mutex
	torndown bool
}

// Service creates and tears down Forks against a Router and a pair of port
// arenas, one per sink kind.
type Service struct {
	router           sfuadapter.Router
	recordingArena   *sfuadapter.PortArena
	transcriptArena  *sfuadapter.PortArena
	sdpDir           string
	converterCommand ConverterCommand
	log              *zap.Logger
}

// NewService constructs a forker Service. sdpDir is where temporary SDP
// files are written; it is created if missing.
func NewService(router sfuadapter.Router, recordingArena, transcriptArena *sfuadapter.PortArena, sdpDir string, log *zap.Logger) *Service {
	return &Service{
		router:           router,
		recordingArena:   recordingArena,
		transcriptArena:  transcriptArena,
		sdpDir:           sdpDir,
		converterCommand: DefaultConverterCommand,
		log:              log,
	}
}

// SetConverterCommand overrides the default ffmpeg invocation, used by
// tests to substitute a fake converter.
func (s *Service) SetConverterCommand(fn ConverterCommand) {
	s.converterCommand = fn
}

func (s *Service) arenaFor(kind SinkKind) *sfuadapter.PortArena {
	if kind == SinkKindTranscription {
		return s.transcriptArena
	}
	return s.recordingArena
}

// StartFork allocates a port, wires a plain-RTP transport to the producer,
// spawns the converter, and returns a Fork whose stdout is piped to onBytes
// as it arrives. onBytes must not block for long; it runs on the pipe
// goroutine.
func (s *Service) StartFork(ctx context.Context, producer sfuadapter.Producer, kind SinkKind, onBytes func([]byte)) (*Fork, error) {
	const rtcpMux = true
	arena := s.arenaFor(kind)
	port, err := arena.Allocate(rtcpMux)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindResourceExhausted, "allocate fork port", err)
	}

	plain, err := s.router.CreatePlainRTPTransport(ctx, "127.0.0.1", rtcpMux, false)
	if err != nil {
		arena.Release(port, rtcpMux)
		return nil, fmt.Errorf("create plain rtp transport: %w", err)
	}
	if err := plain.Connect("127.0.0.1", port); err != nil {
		arena.Release(port, rtcpMux)
		return nil, fmt.Errorf("connect plain rtp transport: %w", err)
	}
	consumer, err := plain.Consume(producer.ID())
	if err != nil {
		_ = plain.Close()
		arena.Release(port, rtcpMux)
		return nil, fmt.Errorf("consume producer for fork: %w", err)
	}
	if err := consumer.Resume(); err != nil {
		_ = consumer.Close()
		_ = plain.Close()
		arena.Release(port, rtcpMux)
		return nil, fmt.Errorf("resume fork consumer: %w", err)
	}

	payloadType := consumer.PayloadType()
	if payloadType == 0 {
		payloadType = 111 // conventional dynamic PT for opus when unnegotiated
	}
	sdp := buildSDP(port, payloadType, consumer.SSRC(), consumer.SSRC() != 0)
	if err := os.MkdirAll(s.sdpDir, 0o750); err != nil {
		_ = consumer.Close()
		_ = plain.Close()
		arena.Release(port, rtcpMux)
		return nil, fmt.Errorf("create sdp dir: %w", err)
	}
	sdpPath := filepath.Join(s.sdpDir, fmt.Sprintf("fork-%s.sdp", uuid.NewString()))
	if err := os.WriteFile(sdpPath, []byte(sdp), 0o600); err != nil {
		_ = consumer.Close()
		_ = plain.Close()
		arena.Release(port, rtcpMux)
		return nil, fmt.Errorf("write sdp file: %w", err)
	}

	cmd := s.converterCommand(sdpPath, kind)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = os.Remove(sdpPath)
		_ = consumer.Close()
		_ = plain.Close()
		arena.Release(port, rtcpMux)
		return nil, fmt.Errorf("open converter stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = os.Remove(sdpPath)
		_ = consumer.Close()
		_ = plain.Close()
		arena.Release(port, rtcpMux)
		return nil, fmt.Errorf("start converter: %w", err)
	}

	f := &Fork{
		ID:         uuid.NewString(),
		Kind:       kind,
		ProducerID: producer.ID(),
		arena:      arena,
		port:       port,
		rtcpMux:    rtcpMux,
		plain:      plain,
		consumer:   consumer,
		sdpPath:    sdpPath,
		cmd:        cmd,
		log:        s.log.With(zap.String("fork_id", "pending"), zap.String("producer_id", producer.ID()), zap.String("sink", string(kind))),
	}

	go pumpStdout(stdout, onBytes, f.log)
	return f, nil
}

func pumpStdout(stdout io.Reader, onBytes func([]byte), log *zap.Logger) {
	reader := bufio.NewReaderSize(stdout, 32*1024)
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onBytes(chunk)
		}
		if err != nil {
			if err != io.EOF {
				log.Warn("converter stdout read failed", zap.Error(err))
			}
			return
		}
	}
}

// Teardown stops the converter (SIGTERM then, after 1s, SIGKILL), closes the
// plain-RTP consumer and transport, releases the port, and removes the SDP
// file. Safe to call more than once.
func (f *Fork) Teardown() {
	f.mu.Lock()
	if f.torndown {
		f.mu.Unlock()
		return
	}
	f.torndown = true
	f.mu.Unlock()

	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan error, 1)
		go func() { done <- f.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(time.Second):
			_ = f.cmd.Process.Kill()
			<-done
		}
	}
	if f.consumer != nil {
		_ = f.consumer.Close()
	}
	if f.plain != nil {
		_ = f.plain.Close()
	}
	if f.arena != nil {
		f.arena.Release(f.port, f.rtcpMux)
	}
	if f.sdpPath != "" {
		_ = os.Remove(f.sdpPath)
	}
}
