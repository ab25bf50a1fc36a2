package audio

import (
	"encoding/json"
	"fmt"
)

// Control directive types accepted on text frames.
const (
	ControlStart      = "start"
	ControlEnd        = "end"
	ControlSampleRate = "sampleRate"
)

// ControlMessage is a structured client control directive:
//
//	{"type":"start"}
//	{"type":"end"}
//	{"type":"sampleRate","sampleRate":24000}
type ControlMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// parseControl decodes and validates one control frame.
func parseControl(payload []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("control: decode: %w", err)
	}
	switch msg.Type {
	case ControlStart, ControlEnd:
		return msg, nil
	case ControlSampleRate:
		if msg.SampleRate <= 0 {
			return ControlMessage{}, fmt.Errorf("control: sampleRate must be positive, got %d", msg.SampleRate)
		}
		return msg, nil
	default:
		return ControlMessage{}, fmt.Errorf("control: unknown type %q", msg.Type)
	}
}
