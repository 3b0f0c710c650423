package agent

import (
	"encoding/json"
	"strings"
)

// DecisionKind tags the variants of a parsed model decision.
type DecisionKind int

const (
	// DecisionReply is a plain grounded answer.
	DecisionReply DecisionKind = iota
	// DecisionCreateTask invokes the create_task action.
	DecisionCreateTask
)

// Decision is the structured outcome of one model turn: either a create_task
// invocation or a plain reply.
type Decision struct {
	Kind     DecisionKind
	Title    string
	Priority string
	Reply    string
}

// envelope mirrors the JSON shape the system prompt mandates.
type envelope struct {
	Tool     string `json:"tool"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Reply    string `json:"reply"`
}

// ParseDecision parses raw model output into a Decision. The parser is total:
// for any input — valid JSON, fenced JSON, plain prose, empty string — it
// returns a usable Decision and never fails. Anything that doesn't parse as a
// create_task envelope falls back to treating the raw text as the reply.
func ParseDecision(raw string) Decision {
	text := stripFences(strings.TrimSpace(raw))

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Decision{Kind: DecisionReply, Reply: strings.TrimSpace(raw)}
	}

	if env.Tool == "create_task" && strings.TrimSpace(env.Title) != "" {
		return Decision{
			Kind:     DecisionCreateTask,
			Title:    strings.TrimSpace(env.Title),
			Priority: strings.TrimSpace(env.Priority),
		}
	}

	if strings.TrimSpace(env.Reply) != "" {
		return Decision{Kind: DecisionReply, Reply: strings.TrimSpace(env.Reply)}
	}

	// Parseable JSON but not a usable envelope (unknown tool, missing
	// fields): fall back to the raw text rather than dropping the turn.
	return Decision{Kind: DecisionReply, Reply: strings.TrimSpace(raw)}
}

// stripFences removes a surrounding Markdown code fence, with or without a
// language tag, if present.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}
