// Package audio implements the real-time audio session protocol: connection
// lifecycle, frame dispatch, per-connection state, and callback-based result
// delivery from an asynchronous chunk-processing collaborator.
package audio

import (
	"unicode/utf8"
)

// Processor is the chunk-processing collaborator (speech-to-text /
// text-to-speech). For each chunk it may invoke either callback zero, one,
// or many times, in any order, from any goroutine, until OnSessionClosed is
// called for that session. A failed chunk simply produces no callbacks; it
// must never tear down the connection.
type Processor interface {
	OnAudioChunk(sessionID string, chunk []byte, onTranscript func(text string), onAudio func(data []byte))
	OnSessionClosed(sessionID string)
}

// EchoProcessor is a deterministic stand-in: it "transcribes" a chunk by
// reading it as text, and echoes the transcript bytes back as synthesized
// audio. Real deployments plug in an ASR/TTS collaborator instead.
type EchoProcessor struct{}

// NewEchoProcessor creates the stand-in processor.
func NewEchoProcessor() *EchoProcessor { return &EchoProcessor{} }

const echoTranscriptLimit = 200

func (e *EchoProcessor) OnAudioChunk(sessionID string, chunk []byte, onTranscript func(string), onAudio func([]byte)) {
	go func() {
		text := string(chunk)
		if len(text) > echoTranscriptLimit {
			text = truncateUTF8(text, echoTranscriptLimit)
		}
		transcript := "[transcribed] " + text
		onTranscript(transcript)
		onAudio([]byte(transcript))
	}()
}

func (e *EchoProcessor) OnSessionClosed(sessionID string) {}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
