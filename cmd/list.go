package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured tiers and models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Image: %s\n", cfg.Policy.Image)
			fmt.Fprintln(out, "\nTiers:")
			for _, t := range cfg.Tiers {
				fmt.Fprintf(out, "  - %s (%s)%s\n", t.ID, t.Name, tierFlags(t.ToolsEnabled, t.DelegationEnabled, t.PromptContent != ""))
			}
			fmt.Fprintln(out, "\nModels:")
			for _, m := range cfg.Models {
				fmt.Fprintf(out, "  - %s\n", m)
			}
			return nil
		},
	}
}

func tierFlags(tools, delegation *bool, prompt bool) string {
	s := ""
	if tools != nil {
		s += fmt.Sprintf(" tools=%t", *tools)
	}
	if delegation != nil {
		s += fmt.Sprintf(" delegation=%t", *delegation)
	}
	if prompt {
		s += " prompt"
	}
	return s
}
