package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"reverie/internal/store"
)

// settingsCmd inspects and edits the persisted settings surface without
// booting the full runtime. The running agent picks writes up on its
// next reconcile.
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or edit persisted settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every persisted setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		all, err := st.AllSettings(cmd.Context())
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, all[k])
		}
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		val, ok, err := st.GetSetting(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("setting %q is not set", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Write one setting",
	Long: `Writes a setting the running agent reconciles against. For example,
"reverie settings set autonomy.enabled true" turns the monologue loop
on within one poll interval, no restart needed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		return st.SetSetting(cmd.Context(), args[0], args[1])
	},
}

func init() {
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

// openStore opens the configured database without the embedding engine
// or model stack. Enough for settings and task inspection.
func openStore() (*store.Store, error) {
	opts := store.DefaultOptions(cfg.Store.DatabasePath)
	opts.BusyTimeout = cfg.Store.BusyTimeout
	return store.Open(opts)
}
