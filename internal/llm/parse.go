package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/chris/anchor/internal/plan"
)

const (
	ResponseMarker = "RESPONSE:"
	InfoMarker     = "INFO:"
)

// FallbackResponse is sent when no human-readable reply can be isolated.
const FallbackResponse = "I'm having trouble processing your message. Let's focus on your task - what would you like to accomplish today?"

// ErrInvalidOutput means the structured block could not be used.
var ErrInvalidOutput = errors.New("invalid llm output format")

// Parsed is the structured result of one model reply.
type Parsed struct {
	Response    string
	Task        string
	MessageType plan.MessageType
	Timing      *plan.Timing
	Completion  *plan.Completion
	// Fallback is set when the structured block was missing or unusable.
	Fallback bool
	// Err describes why Fallback was set. It is for logs only.
	Err error
}

// ParseResponse splits raw model output into the reply text and the INFO
// record. It never fails: on any problem it returns an ad_hoc result with
// the reply text preserved when it could be isolated.
//
// The last occurrence of each marker is used so that example text echoed
// from the prompt is skipped.
func ParseResponse(raw string) Parsed {
	respAt := strings.LastIndex(raw, ResponseMarker)
	infoAt := strings.LastIndex(raw, InfoMarker)

	var text, info string
	switch {
	case respAt >= 0 && infoAt >= 0 && respAt < infoAt:
		text = raw[respAt+len(ResponseMarker) : infoAt]
		info = raw[infoAt+len(InfoMarker):]
	case respAt >= 0 && infoAt >= 0:
		info = raw[infoAt+len(InfoMarker) : respAt]
		text = raw[respAt+len(ResponseMarker):]
	case respAt >= 0:
		text = raw[respAt+len(ResponseMarker):]
	case infoAt >= 0:
		text = raw[:infoAt]
		info = raw[infoAt+len(InfoMarker):]
	}

	out := Parsed{Response: strings.TrimSpace(text), MessageType: plan.AdHoc}
	if out.Response == "" {
		out.Response = FallbackResponse
	}

	if infoAt < 0 {
		return fallback(out, fmt.Errorf("%w: missing %s marker", ErrInvalidOutput, InfoMarker))
	}
	if respAt < 0 {
		return fallback(out, fmt.Errorf("%w: missing %s marker", ErrInvalidOutput, ResponseMarker))
	}
	if strings.TrimSpace(text) == "" {
		return fallback(out, fmt.Errorf("%w: empty %s section", ErrInvalidOutput, ResponseMarker))
	}
	if err := parseInfo(info, &out); err != nil {
		return fallback(out, err)
	}
	return out
}

func fallback(p Parsed, err error) Parsed {
	return Parsed{
		Response:    p.Response,
		MessageType: plan.AdHoc,
		Fallback:    true,
		Err:         err,
	}
}

func parseInfo(section string, out *Parsed) error {
	block := extractJSONObject(stripCodeFences(section))
	if block == "" || !gjson.Valid(block) {
		return fmt.Errorf("%w: no JSON object after %s", ErrInvalidOutput, InfoMarker)
	}
	doc := gjson.Parse(block)

	switch task := doc.Get("task"); task.Type {
	case gjson.String:
		out.Task = strings.TrimSpace(task.Str)
	case gjson.Null:
	default:
		return fmt.Errorf("%w: task has type %s", ErrInvalidOutput, task.Type)
	}

	switch mt := doc.Get("message_type"); mt.Type {
	case gjson.String:
		out.MessageType = plan.ParseMessageType(mt.Str)
	case gjson.Null:
		out.MessageType = plan.AdHoc
	default:
		return fmt.Errorf("%w: message_type has type %s", ErrInvalidOutput, mt.Type)
	}

	timing, err := decodeTiming(doc.Get("timing"))
	if err != nil {
		return err
	}
	out.Timing = timing

	completion, err := decodeCompletion(doc.Get("completion"))
	if err != nil {
		return err
	}
	out.Completion = completion
	return nil
}

func decodeTiming(r gjson.Result) (*plan.Timing, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: timing is not an object", ErrInvalidOutput)
	}
	var t plan.Timing
	if err := json.Unmarshal([]byte(r.Raw), &t); err != nil {
		return nil, fmt.Errorf("%w: timing: %v", ErrInvalidOutput, err)
	}
	if t.DurationMinutes != nil && *t.DurationMinutes <= 0 {
		t.DurationMinutes = nil
	}
	if t.Constraints != nil {
		kept := make([]plan.TimeBlock, 0, len(t.Constraints))
		for _, b := range t.Constraints {
			if b.Valid() {
				kept = append(kept, b)
			}
		}
		t.Constraints = kept
	}
	return &t, nil
}

func decodeCompletion(r gjson.Result) (*plan.Completion, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: completion is not an object", ErrInvalidOutput)
	}
	var c plan.Completion
	if err := json.Unmarshal([]byte(r.Raw), &c); err != nil {
		return nil, fmt.Errorf("%w: completion: %v", ErrInvalidOutput, err)
	}
	return &c, nil
}

// stripCodeFences drops markdown fence lines (``` or ```json).
func stripCodeFences(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// extractJSONObject returns the first balanced {...} block in s.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
