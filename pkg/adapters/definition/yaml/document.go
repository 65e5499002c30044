package yaml

// Document is the YAML form of a process graph
type Document struct {
	ID            string                 `yaml:"id"`
	Name          string                 `yaml:"name"`
	Version       string                 `yaml:"version"`
	Variables     map[string]VariableDoc `yaml:"variables"`
	Nodes         []NodeDoc              `yaml:"nodes"`
	Orchestration []RuleDoc              `yaml:"orchestration"`
	ErrorHandling *ErrorHandlingDoc      `yaml:"error_handling"`
}

// VariableDoc declares a process variable. Variables are mutable unless is_mutable is false.
type VariableDoc struct {
	Type      string   `yaml:"type"`
	Default   any      `yaml:"default"`
	Scope     string   `yaml:"scope"`
	IsMutable *bool    `yaml:"is_mutable"`
	ACLs      []ACLDoc `yaml:"acls"`
}

// ACLDoc grants a node access to a variable
type ACLDoc struct {
	Node   string `yaml:"node"`
	Access string `yaml:"access"`
}

// NodeDoc declares a process node
type NodeDoc struct {
	ID          string         `yaml:"id"`
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Inputs      map[string]any `yaml:"inputs"`
	Agent       *AgentDoc      `yaml:"agent"`
	OnError     []ConditionDoc `yaml:"on_error"`
	OnComplete  []ConditionDoc `yaml:"on_complete"`
}

// AgentDoc configures invocations of an agent node
type AgentDoc struct {
	Inputs     map[string]string `yaml:"inputs"`
	MessagesIn string            `yaml:"messages_in"`
	Thread     string            `yaml:"thread"`
}

// RuleDoc wires the actions in then to the events in listen_for
type RuleDoc struct {
	ListenFor ListenDoc   `yaml:"listen_for"`
	Then      []ActionDoc `yaml:"then"`
}

// ListenDoc selects the triggering event. from defaults to the graph id,
// which is the origin of process input events. all_of turns the rule into a join.
type ListenDoc struct {
	Event     string        `yaml:"event"`
	From      string        `yaml:"from"`
	Condition *ConditionDoc `yaml:"condition"`
	AllOf     []SourceDoc   `yaml:"all_of"`
	Group     string        `yaml:"group"`
}

// SourceDoc names one joined event
type SourceDoc struct {
	Event string `yaml:"event"`
	From  string `yaml:"from"`
}

// ActionDoc is one edge target
type ActionDoc struct {
	Type        string            `yaml:"type"`
	Node        string            `yaml:"node"`
	Function    string            `yaml:"function"`
	Parameter   string            `yaml:"parameter"`
	TargetEvent string            `yaml:"target_event"`
	Path        string            `yaml:"path"`
	Operation   string            `yaml:"operation"`
	Value       any               `yaml:"value"`
	Event       string            `yaml:"event"`
	Payload     map[string]string `yaml:"payload"`
	Metadata    map[string]string `yaml:"metadata"`
}

// ErrorHandlingDoc declares graph level error handlers
type ErrorHandlingDoc struct {
	OnError []ErrorStepDoc `yaml:"on_error"`
	Default []ActionDoc    `yaml:"default"`
}

// ErrorStepDoc handles errors of one kind or error event name
type ErrorStepDoc struct {
	Event string      `yaml:"event"`
	Then  []ActionDoc `yaml:"then"`
}

// ConditionDoc is a condition with its side effects
type ConditionDoc struct {
	Type       string      `yaml:"type"`
	Expression string      `yaml:"expression"`
	Emits      []EmitDoc   `yaml:"emits"`
	Updates    []UpdateDoc `yaml:"updates"`
}

// EmitDoc is an event raised when a condition is selected
type EmitDoc struct {
	EventType string            `yaml:"event_type"`
	Payload   map[string]string `yaml:"payload"`
}

// UpdateDoc is a state update applied when a condition is selected
type UpdateDoc struct {
	Path      string `yaml:"path"`
	Operation string `yaml:"operation"`
	Value     any    `yaml:"value"`
}

// Action types
const (
	ActionInvocation = "invocation"
	ActionUpdate     = "update"
	ActionEmit       = "emit"
	ActionStop       = "stop"
)
