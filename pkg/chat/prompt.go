package chat

import "fmt"

// BuildPrompt renders the generation prompt from persona, prior history and
// the current user message. Empty persona/history collapse to blank lines;
// the prompt always ends with the "Assistant:" cue.
func BuildPrompt(persona, history, userMessage string) string {
	return fmt.Sprintf("%s\nHistory:\n%s\nUser: %s\nAssistant:\n", persona, history, userMessage)
}

// FallbackReply is the deterministic offline reply returned when every
// generation attempt failed. The synchronous path always yields text, never
// a generation error.
func FallbackReply(persona, userMessage string) string {
	return fmt.Sprintf("[simulated reply] %s: I saw your message — %q (offline simulation)", persona, userMessage)
}
