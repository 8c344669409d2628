package transcription

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ExecFactory builds TranscriberSessions backed by an external streaming
// inference binary: raw mono 16 kHz float32 PCM in on stdin, one JSON
// segment per line out on stdout. The binary path is configurable so tests
// can substitute a fake.
type ExecFactory struct {
	BinaryPath string
	Log        *zap.Logger
}

// NewSession implements Factory.
func (f *ExecFactory) NewSession() TranscriberSession {
	return &execSession{binary: f.BinaryPath, log: f.Log}
}

// execLine is the per-segment JSON the inference binary emits.
type execLine struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

type execSession struct {
	binary string
	log    *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    chan []byte
	callback func(Segment)
	ended    bool
	flushed  chan struct{}
}

// LoadModel spawns the inference process. Blocking, called once per the
// adapter contract; there are no restartable semantics — a dead process
// fails the whole session.
func (s *execSession) LoadModel(ctx context.Context, modelPath, language string, threads int) error {
	cmd := exec.CommandContext(ctx, s.binary,
		"--model", modelPath,
		"--language", language,
		"--threads", strconv.Itoa(threads),
		"--output-json-lines",
	)
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open transcriber stdin: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open transcriber stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start transcriber: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = make(chan []byte, 256)
	s.flushed = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer stdinPipe.Close()
		for chunk := range s.stdin {
			if _, err := stdinPipe.Write(chunk); err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(s.flushed)
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var line execLine
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				continue
			}
			s.mu.Lock()
			cb := s.callback
			s.mu.Unlock()
			if cb != nil {
				cb(Segment{Text: line.Text, TimestampStartMs: line.StartMs, TimestampEndMs: line.EndMs})
			}
		}
	}()
	return nil
}

// Write enqueues PCM without blocking; a backed-up process drops audio
// rather than stalling the fork's pipe goroutine.
func (s *execSession) Write(pcm []byte) {
	s.mu.Lock()
	stdin, ended := s.stdin, s.ended
	s.mu.Unlock()
	if ended || stdin == nil {
		return
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	select {
	case stdin <- chunk:
	default:
		if s.log != nil {
			s.log.Warn("transcriber input backed up, dropping pcm chunk")
		}
	}
}

func (s *execSession) OnSegment(cb func(Segment)) {
	s.mu.Lock()
	s.callback = cb
	s.mu.Unlock()
}

// End closes stdin so the process flushes its tail, waits for the last
// segment lines, then reaps the process. SIGTERM with a 1-second grace
// before SIGKILL, matching subprocess termination policy elsewhere.
func (s *execSession) End() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	stdin, cmd, flushed := s.stdin, s.cmd, s.flushed
	s.mu.Unlock()

	if stdin != nil {
		close(stdin)
	}
	if cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(time.Second):
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
	}
	if flushed != nil {
		<-flushed
	}
	// no callbacks run after this returns
	s.mu.Lock()
	s.callback = nil
	s.mu.Unlock()
	return nil
}
