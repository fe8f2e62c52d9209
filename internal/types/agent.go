package types

// =============================================================================
// AGENT IDENTITY AND MODEL TYPES
// =============================================================================

// AgentCard is the agent's immutable identity: loaded once at startup,
// never mutated, only replaced by restart.
type AgentCard struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Username string   `json:"username" yaml:"username"`
	Bio      []string `json:"bio" yaml:"bio"`     // persona lines fed to the character provider
	Style    []string `json:"style" yaml:"style"` // behavioral style guidance
	Topics   []string `json:"topics" yaml:"topics"`

	// Capabilities restricts which registered actions the agent may run.
	// Empty means every registered action is allowed.
	Capabilities []string `json:"capabilities" yaml:"capabilities"`

	// Settings seeds the persisted settings surface on first boot.
	Settings map[string]string `json:"settings" yaml:"settings"`
}

// Allows reports whether the card permits running the named action.
func (c *AgentCard) Allows(action string) bool {
	if len(c.Capabilities) == 0 {
		return true
	}
	for _, a := range c.Capabilities {
		if a == action {
			return true
		}
	}
	return false
}

// ModelTier classifies model backends by the work they are suited for.
type ModelTier string

const (
	TierSmallFast       ModelTier = "small_fast"       // low latency: acks, summaries, routing
	TierLargeDeliberate ModelTier = "large_deliberate" // deeper reasoning: decisions, monologue
)

// Valid reports whether t is a known tier.
func (t ModelTier) Valid() bool {
	return t == TierSmallFast || t == TierLargeDeliberate
}

// Decision is the structured output of a deliberate model call: what the
// agent thought, which actions to run in order, what to say, and which
// providers to compose with on the next run in this room. Params carries
// named arguments for actions that need them (a setting key, a URL).
type Decision struct {
	Thought   string            `json:"thought"`
	Actions   []string          `json:"actions"`
	Text      string            `json:"text"`
	Providers []string          `json:"providers,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// Param returns a named action argument, empty when absent.
func (d *Decision) Param(key string) string {
	return d.Params[key]
}

// Built-in action names. The set is open (plugins register more); these
// are the ones the core itself refers to.
const (
	ActionReply      = "REPLY"
	ActionIgnore     = "IGNORE"
	ActionFollowRoom = "FOLLOW_ROOM"
	ActionMuteRoom   = "MUTE_ROOM"
	ActionSetSetting = "SET_SETTING"
	ActionCreateTask = "CREATE_TASK"
	ActionReadPage   = "READ_PAGE"
)
