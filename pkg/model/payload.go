package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
)

// Action verbs understood by the bundled handlers.
const (
	ActionSay  = "say"
	ActionPlay = "play"
	ActionOpen = "open"
)

// Kind identifies a payload shape by (service, action).
type Kind struct {
	Service Service
	Action  string
}

func (k Kind) String() string { return string(k.Service) + "." + k.Action }

var (
	KindSpeechSay  = Kind{Service: ServiceSpeech, Action: ActionSay}
	KindAudioPlay  = Kind{Service: ServiceAudio, Action: ActionPlay}
	KindVSCodeOpen = Kind{Service: ServiceVSCode, Action: ActionOpen}
)

// Payload is the typed form of a request payload. On the wire every
// payload is a plain string-keyed map; EncodePayload and DecodePayload
// convert between the two.
type Payload interface {
	Kind() Kind
}

// SpeechSay asks the host to speak Message aloud.
type SpeechSay struct {
	Message string
	Voice   string
	Rate    int // words per minute, 0 for the synthesizer default
}

func (SpeechSay) Kind() Kind { return KindSpeechSay }

// AudioPlay asks the host to play a named sound or sound file.
type AudioPlay struct {
	Sound  string
	Volume float64 // 0 for the player default
}

func (AudioPlay) Kind() Kind { return KindAudioPlay }

// VSCodeOpen asks the host to open Path in the editor.
type VSCodeOpen struct {
	Path      string
	Line      int
	NewWindow bool
}

func (VSCodeOpen) Kind() Kind { return KindVSCodeOpen }

// RawPayload carries the fields of a (service, action) pair that has no
// typed variant.
type RawPayload struct {
	K      Kind
	Fields map[string]any
}

func (p RawPayload) Kind() Kind { return p.K }

// EncodePayload converts a typed payload to its wire map. Optional
// fields at their zero value are omitted.
func EncodePayload(p Payload) map[string]any {
	switch v := p.(type) {
	case SpeechSay:
		m := map[string]any{"message": v.Message}
		if v.Voice != "" {
			m["voice"] = v.Voice
		}
		if v.Rate > 0 {
			m["rate"] = v.Rate
		}
		return m
	case AudioPlay:
		m := map[string]any{"sound": v.Sound}
		if v.Volume > 0 {
			m["volume"] = v.Volume
		}
		return m
	case VSCodeOpen:
		m := map[string]any{"path": v.Path}
		if v.Line > 0 {
			m["line"] = v.Line
		}
		if v.NewWindow {
			m["newWindow"] = true
		}
		return m
	case RawPayload:
		if v.Fields == nil {
			return map[string]any{}
		}
		return maps.Clone(v.Fields)
	case nil:
		return map[string]any{}
	}
	panic(fmt.Sprintf("model: unhandled payload type %T", p))
}

// DecodePayload converts a wire map to the typed variant for (service,
// action). Unknown pairs decode to RawPayload. A known pair with a
// missing or mistyped required field is an error.
func DecodePayload(service Service, action string, fields map[string]any) (Payload, error) {
	kind := Kind{Service: service, Action: action}
	switch kind {
	case KindSpeechSay:
		message, err := requiredString(fields, "message")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		voice, err := optionalString(fields, "voice")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		rate, err := optionalInt(fields, "rate")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return SpeechSay{Message: message, Voice: voice, Rate: rate}, nil
	case KindAudioPlay:
		sound, err := requiredString(fields, "sound")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		volume, err := optionalFloat(fields, "volume")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return AudioPlay{Sound: sound, Volume: volume}, nil
	case KindVSCodeOpen:
		path, err := requiredString(fields, "path")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		line, err := optionalInt(fields, "line")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		newWindow, _ := fields["newWindow"].(bool)
		return VSCodeOpen{Path: path, Line: line, NewWindow: newWindow}, nil
	}
	return RawPayload{K: kind, Fields: maps.Clone(fields)}, nil
}

func requiredString(fields map[string]any, key string) (string, error) {
	s, err := optionalString(fields, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%q is required", key)
	}
	return s, nil
}

func optionalString(fields map[string]any, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string, got %T", key, raw)
	}
	return s, nil
}

func optionalFloat(fields map[string]any, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return 0, nil
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, fmt.Errorf("%q must be a number, got %T", key, raw)
	}
	return f, nil
}

func optionalInt(fields map[string]any, key string) (int, error) {
	f, err := optionalFloat(fields, key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%q must be a whole number, got %v", key, f)
	}
	return int(f), nil
}

// toFloat accepts the numeric types produced by the JSON and CBOR
// decoders as well as Go literals.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
