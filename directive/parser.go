package directive

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/flowmind/orchestrator/core"
)

// rawDirective is the on-the-wire shape used for json.Unmarshal before
// schema validation promotes it to a Directive. Using interface{} for
// Action lets Parse distinguish "field absent" from "field wrong type"
// when producing the "Unknown orchestrator action" message.
type rawDirective struct {
	Action interface{}       `json:"action"`
	Tasks  []json.RawMessage `json:"tasks"`
	Answer interface{}       `json:"answer"`
}

// Parse runs the three structural parse stages of spec §4.2 (fence strip,
// brace-scan, truncated-finish salvage) followed by schema validation. It
// does not perform the re-prompt retry (stage 4) — that requires invoking
// the thinker again, which only the orchestrator can do; see
// orchestrator.Loop.think for the retry wiring. Parse returns a
// *core.FrameworkError of Kind "ParseError" or "ValidationError" on
// failure.
func Parse(raw string) (*Directive, error) {
	if d, ok := tryFencedJSON(raw); ok {
		return validate(d)
	}
	if d, ok := tryBraceScan(raw); ok {
		return validate(d)
	}
	if d, ok := trySalvageFinish(raw); ok {
		return d, nil
	}
	if !strings.Contains(raw, "{") || !strings.Contains(raw, "}") {
		return nil, core.NewParseError("directive.Parse", "no JSON object")
	}
	return nil, core.NewParseError("directive.Parse", "invalid JSON")
}

// tryFencedJSON implements stage 1: strip a leading ``` or ```json fence
// and a trailing ``` fence, trim, and attempt to parse the remainder as
// JSON.
func tryFencedJSON(raw string) (*rawDirective, bool) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return parseJSONObject(s)
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.TrimSpace(s)

	return parseJSONObject(s)
}

// tryBraceScan implements stage 2: scan for the first '{' through the last
// '}' and attempt to parse that substring, tolerating prose before/after
// the JSON object.
func tryBraceScan(raw string) (*rawDirective, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, false
	}
	return parseJSONObject(raw[start : end+1])
}

func parseJSONObject(s string) (*rawDirective, bool) {
	if s == "" {
		return nil, false
	}
	var d rawDirective
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, false
	}
	if d.Action == nil {
		return nil, false
	}
	return &d, true
}

var finishActionPattern = regexp.MustCompile(`"action"\s*:\s*"finish"`)
var answerFieldPattern = regexp.MustCompile(`"answer"\s*:\s*"`)

// trySalvageFinish implements stage 3: recover a finish directive from
// output truncated mid-string (spec §4.2 stage 3, tested in spec §8's
// "truncated with no closing quote/brace" scenario).
func trySalvageFinish(raw string) (*Directive, bool) {
	if !finishActionPattern.MatchString(raw) {
		return nil, false
	}

	loc := answerFieldPattern.FindStringIndex(raw)
	if loc == nil {
		return nil, false
	}

	rest := raw[loc[1]:]
	answer := stripTrailingNoise(rest)
	answer = unescapeJSONString(answer)

	if len(answer) < 10 {
		return nil, false
	}

	return &Directive{Action: ActionFinish, Answer: answer, Salvaged: true}, true
}

// stripTrailingNoise removes a well-formed closing quote (and anything
// that follows it, such as a closing brace or fence) when present, or — for
// genuinely truncated input — trims trailing quote/brace/backtick/
// whitespace noise left over from an incomplete close.
func stripTrailingNoise(s string) string {
	// If the string closes cleanly with an unescaped quote, prefer that —
	// everything after it is JSON/markdown structure, not the answer.
	for i := 0; i < len(s); i++ {
		if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
			return s[:i]
		}
	}
	// No closing quote: the JSON was truncated mid-string. Trim any
	// trailing fragments of structural noise a truncated stream might still
	// have appended (partial fence markers, stray braces).
	return strings.TrimRight(s, "`}\" \t\n\r")
}

func unescapeJSONString(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

// validate enforces the schema rules of spec §4.2.
func validate(d *rawDirective) (*Directive, error) {
	action, ok := d.Action.(string)
	if !ok {
		return nil, core.NewValidationError("directive.Validate", fmt.Sprintf("Unknown orchestrator action: %v", d.Action))
	}

	switch action {
	case ActionExecute:
		if len(d.Tasks) == 0 {
			return nil, core.NewValidationError("directive.Validate", "no tasks")
		}
		tasks := make([]Task, 0, len(d.Tasks))
		for _, raw := range d.Tasks {
			var t Task
			if err := json.Unmarshal(raw, &t); err != nil {
				return nil, core.NewValidationError("directive.Validate", "no tasks")
			}
			if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Task) == "" {
				return nil, core.NewValidationError("directive.Validate", "no tasks")
			}
			tasks = append(tasks, t)
		}
		return &Directive{Action: ActionExecute, Tasks: tasks}, nil

	case ActionFinish:
		answer, _ := d.Answer.(string)
		if strings.TrimSpace(answer) == "" {
			return nil, core.NewValidationError("directive.Validate", "no answer")
		}
		return &Directive{Action: ActionFinish, Answer: answer}, nil

	default:
		return nil, core.NewValidationError("directive.Validate", fmt.Sprintf("Unknown orchestrator action: %s", action))
	}
}
