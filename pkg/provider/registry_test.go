package provider

import (
	"errors"
	"testing"
)

func TestParseID(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want ID
	}{
		{"OPENAI", OpenAI},
		{"openai", OpenAI},
		{" Mock ", Mock},
		{"GEMINI", Gemini},
		{"deepseek", DeepSeek},
		{"OLLAMA", Ollama},
	} {
		got, err := ParseID(tc.in)
		if err != nil {
			t.Fatalf("ParseID(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := ParseID("WATSON"); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry(map[ID]Provider{Mock: NewMockProvider()})

	if _, err := r.Resolve(Mock); err != nil {
		t.Fatalf("Resolve(Mock) error: %v", err)
	}

	_, err := r.Resolve(OpenAI)
	if err == nil {
		t.Fatalf("expected error for unregistered provider")
	}
	var unknown *ErrUnknownProvider
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *ErrUnknownProvider, got %T", err)
	}
	if unknown.ID != OpenAI {
		t.Fatalf("unknown.ID = %q, want %q", unknown.ID, OpenAI)
	}
}
