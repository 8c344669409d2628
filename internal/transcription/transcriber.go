// Package transcription implements the streaming Transcription Engine
// Adapter: one TranscriberSession per producer, wall-clock segment
// timestamps, and model resolution/download for the underlying
// Whisper-class engine.
package transcription

import "context"

// Segment is one utterance emitted by a TranscriberSession.
type Segment struct {
	Text              string
	TimestampStartMs   int64
	TimestampEndMs     int64
}

// TranscriberSession is the abstract facade over the streaming speech-to-
// text engine. Implementations MUST NOT assume restartable semantics: once
// a session reports a fatal error it is discarded, never retried in place.
type TranscriberSession interface {
	LoadModel(ctx context.Context, modelPath, language string, threads int) error
	Write(pcm []byte)
	OnSegment(cb func(Segment))
	End() error
}

// Factory constructs a new TranscriberSession, one per producer.
type Factory interface {
	NewSession() TranscriberSession
}
