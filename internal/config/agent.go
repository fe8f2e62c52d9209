package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"reverie/internal/types"
)

// DefaultAgentCard returns a minimal persona used when no agent file is
// configured. Real deployments always ship their own card.
func DefaultAgentCard() *types.AgentCard {
	card := &types.AgentCard{
		Name:     "reverie",
		Username: "reverie",
		Bio:      []string{"A quiet presence that listens more than it speaks."},
		Style:    []string{"concise", "curious"},
	}
	card.ID = stableAgentID(card.Name)
	return card
}

// LoadAgentCard reads the persona YAML. A missing file yields the default
// card; a malformed file is a startup error.
func LoadAgentCard(path string) (*types.AgentCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultAgentCard(), nil
		}
		return nil, fmt.Errorf("failed to read agent file: %w", err)
	}

	card := &types.AgentCard{}
	if err := yaml.Unmarshal(data, card); err != nil {
		return nil, fmt.Errorf("failed to parse agent file: %w", err)
	}

	if card.Name == "" {
		return nil, fmt.Errorf("agent file %s: name is required", path)
	}
	if card.Username == "" {
		card.Username = card.Name
	}
	if card.ID == "" {
		card.ID = stableAgentID(card.Name)
	}
	return card, nil
}

// stableAgentID derives a deterministic ID from the agent name so the same
// persona keeps its identity across restarts.
func stableAgentID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("reverie:agent:"+name)).String()
}
