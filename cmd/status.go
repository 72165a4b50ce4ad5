package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalnine/trialmatrix/internal/progress"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show completed runs recorded in a progress file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := v.GetString("progress-file")
			if path == "" {
				cfg, err := loadConfig(v)
				if err != nil {
					return err
				}
				path = cfg.Progress.Path
			}
			if path == "" {
				return fmt.Errorf("no progress file: pass --progress-file or set progress.path")
			}

			state, err := progress.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if state == nil {
				fmt.Fprintf(out, "No progress recorded in %s\n", path)
				return nil
			}
			fmt.Fprintf(out, "Test %s (started %s)\n", state.TestID, state.StartedAt.Format("2006-01-02 15:04:05 MST"))
			for _, tier := range sortedKeys(state.CompletedRuns) {
				models := state.CompletedRuns[tier]
				for _, model := range sortedKeys(models) {
					fmt.Fprintf(out, "  %s / %s: %d completed %v\n", tier, model, len(models[model]), models[model])
				}
			}
			return nil
		},
	}
	cmd.Flags().String("progress-file", "", "progress file to inspect (default: progress.path from config)")
	mustBind(v.BindPFlags(cmd.Flags()))
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
