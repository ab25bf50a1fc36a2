package audio

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestEchoProcessorTranscribesAndEchoes(t *testing.T) {
	p := NewEchoProcessor()

	transcripts := make(chan string, 1)
	echoes := make(chan []byte, 1)
	p.OnAudioChunk("s1", []byte("hello world"),
		func(text string) { transcripts <- text },
		func(data []byte) { echoes <- data },
	)

	select {
	case text := <-transcripts:
		if text != "[transcribed] hello world" {
			t.Fatalf("transcript = %q", text)
		}
	case <-time.After(time.Second):
		t.Fatalf("no transcript callback")
	}

	select {
	case data := <-echoes:
		if string(data) != "[transcribed] hello world" {
			t.Fatalf("echo = %q", data)
		}
	case <-time.After(time.Second):
		t.Fatalf("no audio callback")
	}
}

func TestEchoProcessorTruncatesLongChunks(t *testing.T) {
	p := NewEchoProcessor()

	transcripts := make(chan string, 1)
	long := strings.Repeat("é", 300) // multi-byte runes straddle the limit
	p.OnAudioChunk("s1", []byte(long),
		func(text string) { transcripts <- text },
		func([]byte) {},
	)

	select {
	case text := <-transcripts:
		body := strings.TrimPrefix(text, "[transcribed] ")
		if len(body) > 200 {
			t.Fatalf("transcript body = %d bytes, want <= 200", len(body))
		}
		if !utf8.ValidString(body) {
			t.Fatalf("truncation split a rune: %q", body)
		}
	case <-time.After(time.Second):
		t.Fatalf("no transcript callback")
	}
}
