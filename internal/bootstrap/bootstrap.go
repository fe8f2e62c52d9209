// Package bootstrap registers the default capability set every agent
// starts with: the built-in actions, the standard state providers, the
// summarizer evaluator, and the confirm worker. Plugins extend or
// replace these through the same registry.
package bootstrap

import (
	"net/http"
	"time"

	"reverie/internal/logging"
	"reverie/internal/plugin"
	"reverie/internal/registry"
	"reverie/internal/types"
)

// Options tunes the built-in capabilities.
type Options struct {
	HTTPClient   *http.Client // READ_PAGE fetches; nil builds a 15s-timeout client
	RecentLimit  int          // recentMessages window, default 15
	RecallK      int          // semanticRecall neighbors, default 5
	SummaryEvery int          // summarizer cadence in events, default 20
}

// DefaultProviders is the composition used when a decision does not
// select otherwise. pendingTasks is deliberately opt-in.
func DefaultProviders() []string {
	return []string{"character", "time", "roomInfo", "recentMessages", "semanticRecall"}
}

// Register installs the built-in capability set.
func Register(reg *registry.Registry, opts Options) error {
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 15
	}
	if opts.RecallK <= 0 {
		opts.RecallK = 5
	}

	confirmRef := registry.Ref{Kind: plugin.KindWorker, Name: ConfirmWorkerName}
	regs := []registry.Registration{
		{Kind: plugin.KindWorker, Name: ConfirmWorkerName, Impl: confirmWorker{}},

		{Kind: plugin.KindAction, Name: types.ActionReply, Impl: replyAction{}},
		{Kind: plugin.KindAction, Name: types.ActionIgnore, Impl: ignoreAction{}},
		{Kind: plugin.KindAction, Name: types.ActionFollowRoom, Impl: followRoomAction{}},
		{Kind: plugin.KindAction, Name: types.ActionMuteRoom, Impl: muteRoomAction{}},
		{Kind: plugin.KindAction, Name: types.ActionSetSetting, Impl: setSettingAction{}},
		{Kind: plugin.KindAction, Name: types.ActionCreateTask, Impl: createTaskAction{}, Requires: []registry.Ref{confirmRef}},
		{Kind: plugin.KindAction, Name: types.ActionReadPage, Impl: newReadPageAction(opts.HTTPClient)},

		{Kind: plugin.KindProvider, Name: "character", Impl: characterProvider{}},
		{Kind: plugin.KindProvider, Name: "time", Impl: timeProvider{now: time.Now}},
		{Kind: plugin.KindProvider, Name: "roomInfo", Impl: roomInfoProvider{}},
		{Kind: plugin.KindProvider, Name: "recentMessages", Impl: recentMessagesProvider{limit: opts.RecentLimit}},
		{Kind: plugin.KindProvider, Name: "semanticRecall", Impl: semanticRecallProvider{k: opts.RecallK}},
		{Kind: plugin.KindProvider, Name: "pendingTasks", Impl: pendingTasksProvider{}},

		{Kind: plugin.KindEvaluator, Name: "summarizer", Impl: newSummarizer(opts.SummaryEvery)},
	}

	for _, r := range regs {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	logging.Boot("Registered %d built-in capabilities", len(regs))
	return nil
}
