package pipeline

import (
	"fmt"
	"strings"

	"reverie/internal/plugin"
	"reverie/internal/types"
)

// systemPrompt renders the persona and the decision contract. The action
// list is resolved live so later registrations show up without restart.
func (p *Pipeline) systemPrompt() string {
	card := p.rt.Agent()

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", card.Name)
	if len(card.Bio) > 0 {
		b.WriteString(strings.Join(card.Bio, "\n"))
		b.WriteString("\n")
	}
	if len(card.Style) > 0 {
		b.WriteString("Style:\n")
		b.WriteString(strings.Join(card.Style, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nDecide how to respond to the message. Answer with a single JSON object:\n")
	b.WriteString(`{"thought": "your reasoning", "actions": ["ACTION", ...], "text": "what to say", "providers": ["name", ...], "params": {"key": "value"}}` + "\n")
	b.WriteString("Run actions in the order listed. Use IGNORE alone when no response is warranted.\n")
	b.WriteString("The optional providers list selects the context composed for the next message in this room.\n")
	b.WriteString("The optional params object carries arguments for actions that take them.\n")

	if actions := p.allowedActions(); len(actions) > 0 {
		fmt.Fprintf(&b, "Available actions: %s\n", strings.Join(actions, ", "))
	}
	return b.String()
}

// allowedActions lists registered actions the card permits, in
// registration order.
func (p *Pipeline) allowedActions() []string {
	card := p.rt.Agent()
	var out []string
	for _, name := range p.reg.List(plugin.KindAction) {
		if card.Allows(name) {
			out = append(out, name)
		}
	}
	return out
}

// decisionPrompt renders the composed state and the inbound message.
func decisionPrompt(ev *types.Event, state *types.State) string {
	var b strings.Builder
	if rendered := state.Render(); rendered != "" {
		b.WriteString(rendered)
		b.WriteString("\n\n")
	}
	author := ev.AuthorID
	if author == "" {
		author = "unknown"
	}
	fmt.Fprintf(&b, "# message\n%s: %s", author, ev.Content.Text)
	return b.String()
}
