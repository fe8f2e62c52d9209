package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"reverie/internal/runtime"
)

var tasksRoom string

// tasksCmd works with the deferred-work queue.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List or resolve deferred tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a room's tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		all, err := st.TasksByRoom(cmd.Context(), tasksRoom, 0)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no tasks in room %q\n", tasksRoom)
			return nil
		}
		for _, t := range all {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-14s  %s (worker=%s)\n", t.ID, t.Status, t.Name, t.WorkerName)
		}
		return nil
	},
}

// tasksResolveCmd dispatches a task with an option, which is how held
// work gets confirmed or abandoned from the outside.
var tasksResolveCmd = &cobra.Command{
	Use:   "resolve [task-id] [option]",
	Short: "Dispatch a task with an option (e.g. post, cancel)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		agent, err := runtime.New(cfg)
		if err != nil {
			return err
		}
		defer agent.Stop(context.Background())

		task, err := agent.Tasks().Dispatch(cmd.Context(), args[0], map[string]any{"option": args[1]})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %s is now %s\n", task.ID, task.Status)
		return nil
	},
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksRoom, "room", "cli", "Room whose tasks to list")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksResolveCmd)
	rootCmd.AddCommand(tasksCmd)
}
