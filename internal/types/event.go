package types

import (
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Content is what an event carries: free text plus an optional structured
// payload (e.g. a URL for READ_PAGE, task options for CREATE_TASK).
type Content struct {
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Metadata keys used to tag event provenance.
const (
	MetaSource    = "source"      // who synthesized the event
	MetaInReplyTo = "in_reply_to" // event ID this one answers
	MetaAction    = "action"      // action that produced the event
)

// Metadata values for MetaSource.
const (
	SourceExternal   = "external"   // arrived from outside the runtime
	SourceAssistant  = "assistant"  // authored by the agent in a pipeline run
	SourceAutonomous = "autonomous" // an agent thought from the monologue loop
	SourceSystem     = "system"     // runtime-synthesized trigger, not a voice in the log
	SourceEvaluator  = "evaluator"  // written by a post-run evaluator
)

// Event is the unit of memory: an immutable, timestamped record owned by
// exactly one room. Write-once; never edited, only superseded by new events.
type Event struct {
	ID        string            `json:"id"`
	RoomID    string            `json:"room_id"`
	AuthorID  string            `json:"author_id"`
	Content   Content           `json:"content"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Source returns the provenance tag, defaulting to external.
func (e *Event) Source() string {
	if e.Metadata == nil {
		return SourceExternal
	}
	if s, ok := e.Metadata[MetaSource]; ok {
		return s
	}
	return SourceExternal
}

// Tag sets a metadata key, allocating the map on first use.
func (e *Event) Tag(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// QueryOptions narrows a room-scoped event query. Zero value means
// "most recent events, default limit".
type QueryOptions struct {
	Limit    int       // max events returned; <=0 uses the store default
	Before   time.Time // only events strictly older than this
	AuthorID string    // only events by this entity
	Source   string    // only events with this provenance tag
}

// SearchResult pairs an event with its similarity to a query vector.
type SearchResult struct {
	Event      *Event
	Similarity float32
}
