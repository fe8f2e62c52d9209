package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"reverie/internal/logging"
	"reverie/internal/plugin"
	"reverie/internal/types"
)

// =============================================================================
// DEFAULT ACTIONS
// =============================================================================

// replyAction sends the decision's drafted text to the room.
type replyAction struct{}

func (replyAction) Name() string        { return types.ActionReply }
func (replyAction) Description() string { return "Send the drafted text to the room" }

func (replyAction) Validate(context.Context, plugin.Runtime, *types.Event) (bool, error) {
	return true, nil
}

func (replyAction) Execute(ctx context.Context, _ plugin.Runtime, _ *types.Event, dec *types.Decision, emit plugin.Callback) error {
	text := strings.TrimSpace(dec.Text)
	if text == "" {
		return fmt.Errorf("decision selected REPLY with no drafted text")
	}
	return emit(ctx, &types.Event{Content: types.Content{Text: text}})
}

// ignoreAction is deliberate silence. Selecting it is a decision, not a
// failure, so no fallback fires.
type ignoreAction struct{}

func (ignoreAction) Name() string        { return types.ActionIgnore }
func (ignoreAction) Description() string { return "Say nothing and take no action" }

func (ignoreAction) Validate(context.Context, plugin.Runtime, *types.Event) (bool, error) {
	return true, nil
}

func (ignoreAction) Execute(context.Context, plugin.Runtime, *types.Event, *types.Decision, plugin.Callback) error {
	return nil
}

// followRoomAction marks the current room followed for the agent.
type followRoomAction struct{}

func (followRoomAction) Name() string        { return types.ActionFollowRoom }
func (followRoomAction) Description() string { return "Follow this room and engage more freely" }

func (followRoomAction) Validate(_ context.Context, _ plugin.Runtime, ev *types.Event) (bool, error) {
	return ev.RoomID != "", nil
}

func (followRoomAction) Execute(ctx context.Context, rt plugin.Runtime, ev *types.Event, _ *types.Decision, _ plugin.Callback) error {
	if err := rt.Memory().SetParticipantState(ctx, ev.RoomID, rt.Agent().ID, types.RelationFollowed); err != nil {
		return err
	}
	logging.Actions("Now following room %s", ev.RoomID)
	return nil
}

// muteRoomAction marks the current room muted. Events keep arriving and
// keep being stored; the pipeline just stops responding to them unless
// directly addressed.
type muteRoomAction struct{}

func (muteRoomAction) Name() string        { return types.ActionMuteRoom }
func (muteRoomAction) Description() string { return "Mute this room and stop responding in it" }

func (muteRoomAction) Validate(_ context.Context, _ plugin.Runtime, ev *types.Event) (bool, error) {
	return ev.RoomID != "", nil
}

func (muteRoomAction) Execute(ctx context.Context, rt plugin.Runtime, ev *types.Event, _ *types.Decision, _ plugin.Callback) error {
	if err := rt.Memory().SetParticipantState(ctx, ev.RoomID, rt.Agent().ID, types.RelationMuted); err != nil {
		return err
	}
	logging.Actions("Muted room %s", ev.RoomID)
	return nil
}

// setSettingAction writes one key through the settings surface. Params:
// key (required), value.
type setSettingAction struct{}

func (setSettingAction) Name() string        { return types.ActionSetSetting }
func (setSettingAction) Description() string { return "Persist a runtime setting (params: key, value)" }

func (setSettingAction) Validate(context.Context, plugin.Runtime, *types.Event) (bool, error) {
	return true, nil
}

func (setSettingAction) Execute(ctx context.Context, rt plugin.Runtime, _ *types.Event, dec *types.Decision, _ plugin.Callback) error {
	key := strings.TrimSpace(dec.Param("key"))
	if key == "" {
		return fmt.Errorf("SET_SETTING needs a key param")
	}
	value := dec.Param("value")
	if err := rt.Settings().Set(ctx, key, value); err != nil {
		return err
	}
	logging.Actions("Setting %s written", key)
	return nil
}

// createTaskAction defers work to the task queue. Params: task (name),
// worker (defaults to the confirm worker). The drafted text rides along
// in task metadata so the worker knows what was proposed.
type createTaskAction struct{}

func (createTaskAction) Name() string { return types.ActionCreateTask }
func (createTaskAction) Description() string {
	return "Create a deferred task in this room (params: task, worker)"
}

func (createTaskAction) Validate(_ context.Context, rt plugin.Runtime, ev *types.Event) (bool, error) {
	return rt.Tasks() != nil && ev.RoomID != "", nil
}

func (createTaskAction) Execute(ctx context.Context, rt plugin.Runtime, ev *types.Event, dec *types.Decision, emit plugin.Callback) error {
	name := strings.TrimSpace(dec.Param("task"))
	if name == "" {
		name = "confirm send"
	}
	worker := strings.TrimSpace(dec.Param("worker"))
	if worker == "" {
		worker = ConfirmWorkerName
	}

	task, err := rt.Tasks().Create(ctx, &types.Task{
		RoomID:     ev.RoomID,
		Name:       name,
		WorkerName: worker,
		Metadata: map[string]any{
			"text":    dec.Text,
			"options": []string{"post", "cancel"},
		},
	})
	if err != nil {
		return err
	}
	logging.Actions("Created task %q (%s) for room %s", name, task.ID, ev.RoomID)

	note := &types.Event{
		Content: types.Content{Text: fmt.Sprintf("Task %q created (%s). Resolve it with post or cancel.", name, task.ID)},
	}
	note.Tag(types.MetaSource, types.SourceSystem)
	return emit(ctx, note)
}

// readPageAction fetches a URL, strips it to text, and stores the text
// as a memory in the room. Params: url; falls back to the first URL in
// the triggering message.
type readPageAction struct {
	client   *http.Client
	maxBytes int64 // response body cap
	maxRunes int   // stored excerpt cap
}

func newReadPageAction(client *http.Client) readPageAction {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return readPageAction{client: client, maxBytes: 1 << 20, maxRunes: 4000}
}

func (readPageAction) Name() string        { return types.ActionReadPage }
func (readPageAction) Description() string { return "Fetch a web page and remember its text (params: url)" }

func (readPageAction) Validate(context.Context, plugin.Runtime, *types.Event) (bool, error) {
	return true, nil
}

func (a readPageAction) Execute(ctx context.Context, _ plugin.Runtime, ev *types.Event, dec *types.Decision, emit plugin.Callback) error {
	url := strings.TrimSpace(dec.Param("url"))
	if url == "" {
		url = firstURL(ev.Content.Text)
	}
	if url == "" {
		return fmt.Errorf("READ_PAGE found no URL in params or message")
	}

	text, err := a.fetch(ctx, url)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("page %s had no readable text", url)
	}
	logging.Actions("Read %s (%d chars kept)", url, len(text))

	page := &types.Event{
		Content: types.Content{Text: fmt.Sprintf("[page] %s\n%s", url, text)},
	}
	page.Tag(types.MetaSource, types.SourceSystem)
	return emit(ctx, page)
}

func (a readPageAction) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("bad URL %q: %w", url, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, a.maxBytes))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", url, err)
	}
	return truncateRunes(extractText(doc), a.maxRunes), nil
}

// extractText walks the parse tree collecting visible text, skipping the
// nodes browsers do not render.
func extractText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func firstURL(text string) string {
	for _, tok := range strings.Fields(text) {
		if strings.HasPrefix(tok, "http://") || strings.HasPrefix(tok, "https://") {
			return strings.TrimRight(tok, ".,;:!?)")
		}
	}
	return ""
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
