package oracle

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"trading_agent/internal/core"
)

// GeneralSymbol marks a fallback decision not tied to any coin
const GeneralSymbol = "GENERAL"

const fallbackPreviewLen = 150

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// ParseDecisions extracts one or many decisions from a free-form reply.
// It is total: any input yields at least one decision, with a synthetic
// HOLD carrying a preview of the raw reply when nothing parses.
func ParseDecisions(raw string) []core.Decision {
	payload := extractJSON(raw)
	if payload == "" {
		return []core.Decision{fallbackDecision(raw)}
	}

	// Envelope shape: {"decisions": [...]}
	var env struct {
		Decisions []json.RawMessage `json:"decisions"`
	}
	if err := json.Unmarshal([]byte(payload), &env); err == nil && len(env.Decisions) > 0 {
		decisions := make([]core.Decision, 0, len(env.Decisions))
		for _, item := range env.Decisions {
			if d, ok := parseOne(item); ok {
				decisions = append(decisions, d)
			}
		}
		if len(decisions) > 0 {
			return decisions
		}
		return []core.Decision{fallbackDecision(raw)}
	}

	// Single-object shape
	if d, ok := parseOne(json.RawMessage(payload)); ok {
		return []core.Decision{d}
	}

	return []core.Decision{fallbackDecision(raw)}
}

// extractJSON strips fenced-code markers and anything outside the outermost
// balanced braces. Returns "" when no object is found.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}

	return ""
}

// rawDecision tolerates numbers arriving as JSON strings
type rawDecision struct {
	Symbol              string     `json:"symbol"`
	Action              string     `json:"action"`
	Confidence          laxNumber  `json:"confidence"`
	EntryPrice          laxNumber  `json:"entry_price"`
	PositionSizePercent laxNumber  `json:"position_size_percent"`
	TakeProfit          laxNumber  `json:"take_profit"`
	StopLoss            laxNumber  `json:"stop_loss"`
	Leverage            laxNumber  `json:"leverage"`
	Reasoning           string     `json:"reasoning"`
	Timeframe           string     `json:"timeframe"`
}

// laxNumber parses JSON numbers and numeric strings alike
type laxNumber float64

func (n *laxNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*n = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = laxNumber(v)
	return nil
}

func parseOne(data json.RawMessage) (core.Decision, bool) {
	var raw rawDecision
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.Decision{}, false
	}

	action := strings.ToUpper(strings.TrimSpace(raw.Action))
	if action == "" {
		action = core.ActionHold
	}

	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		symbol = GeneralSymbol
	}

	return core.Decision{
		Symbol:              symbol,
		Action:              action,
		Confidence:          float64(raw.Confidence),
		EntryPrice:          float64(raw.EntryPrice),
		PositionSizePercent: float64(raw.PositionSizePercent),
		TakeProfit:          float64(raw.TakeProfit),
		StopLoss:            float64(raw.StopLoss),
		Leverage:            int(raw.Leverage),
		Reasoning:           raw.Reasoning,
		Timeframe:           strings.ToUpper(strings.TrimSpace(raw.Timeframe)),
	}, true
}

func fallbackDecision(raw string) core.Decision {
	preview := strings.TrimSpace(raw)
	if len(preview) > fallbackPreviewLen {
		preview = preview[:fallbackPreviewLen]
	}
	return core.Decision{
		Symbol:    GeneralSymbol,
		Action:    core.ActionHold,
		Reasoning: "unparseable reply: " + preview,
	}
}
