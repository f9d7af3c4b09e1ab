// Package directive implements the Task Directive Parser (spec §4.2): it
// turns a thinker's raw text response into a structured Directive, tolerating
// markdown fences, prose wrapping, and truncated output.
package directive

// Action values a Directive can carry.
const (
	ActionExecute = "execute"
	ActionFinish  = "finish"
)

// Task is one unit inside an execute Directive.
type Task struct {
	ID    string `json:"id"`
	Task  string `json:"task"`
	Agent string `json:"agent,omitempty"`
}

// Directive is the structured instruction a thinker emits each iteration
// (spec §2, §4.2): either a batch of tasks to execute, or a final answer.
type Directive struct {
	Action string `json:"action"`
	Tasks  []Task `json:"tasks,omitempty"`
	Answer string `json:"answer,omitempty"`

	// Salvaged is set when this Directive was recovered from truncated
	// output via the finish-salvage stage rather than parsed as well-formed
	// JSON (spec §4.2 stage 3).
	Salvaged bool `json:"-"`
}
