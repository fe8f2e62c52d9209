package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"reverie/internal/logging"
	"reverie/internal/types"
)

// AckText is the terse fallback sent when the decision pipeline cannot
// produce anything better.
const AckText = "Noted."

// DegradedDecision is the no-op acknowledge fallback used when the
// model cannot be reached: say something terse, take no other action.
func DegradedDecision() *types.Decision {
	return &types.Decision{
		Thought: "model unavailable, acknowledging without action",
		Actions: []string{types.ActionReply},
		Text:    AckText,
	}
}

// ParseDecision extracts a decision from raw model output. Models do
// not reliably emit clean JSON, so parsing is tolerant: strict JSON
// first, then a fenced code block, then the raw text as a bare reply.
// It never returns nil.
func ParseDecision(raw string) *types.Decision {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &types.Decision{}
	}

	if dec, ok := tryParseJSON(trimmed); ok {
		return dec
	}
	if inner, ok := extractFenced(trimmed); ok {
		if dec, ok := tryParseJSON(inner); ok {
			return dec
		}
	}

	logging.ModelDebug("Decision output not structured, treating as bare reply (len=%d)", len(trimmed))
	return &types.Decision{
		Actions: []string{types.ActionReply},
		Text:    trimmed,
	}
}

// decisionEnvelope tolerates the shapes models actually produce:
// "reply" as an alias for "text", and actions as either an array or a
// comma-separated string.
type decisionEnvelope struct {
	Thought   string          `json:"thought"`
	Actions   json.RawMessage `json:"actions"`
	Text      string          `json:"text"`
	Reply     string          `json:"reply"`
	Providers []string        `json:"providers"`
	Params    map[string]any  `json:"params"`
}

func tryParseJSON(s string) (*types.Decision, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var env decisionEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, false
	}

	dec := &types.Decision{
		Thought: strings.TrimSpace(env.Thought),
		Text:    strings.TrimSpace(env.Text),
	}
	if dec.Text == "" {
		dec.Text = strings.TrimSpace(env.Reply)
	}
	dec.Actions = parseActions(env.Actions)
	for _, p := range env.Providers {
		if p = strings.TrimSpace(p); p != "" {
			dec.Providers = append(dec.Providers, p)
		}
	}
	for k, v := range env.Params {
		s, ok := paramString(v)
		if !ok {
			continue
		}
		if dec.Params == nil {
			dec.Params = make(map[string]string)
		}
		dec.Params[k] = s
	}
	return dec, true
}

// paramString flattens the scalar param values models emit. Nested
// structures are dropped rather than stringified.
func paramString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

// parseActions accepts ["REPLY","IGNORE"] or "REPLY, IGNORE". Names are
// upper-cased to match registration.
func parseActions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		names = strings.Split(single, ",")
	}

	var out []string
	for _, n := range names {
		if n = strings.ToUpper(strings.TrimSpace(n)); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// extractFenced pulls the body out of the first ``` block, skipping a
// language tag on the opening line.
func extractFenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := rest[:end]
	if nl := strings.Index(body, "\n"); nl >= 0 {
		firstLine := strings.TrimSpace(body[:nl])
		if firstLine != "" && !strings.HasPrefix(firstLine, "{") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body), true
}
