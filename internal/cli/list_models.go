/*
PURPOSE:
  Defines the 'list-models' subcommand.
  Shows the model catalog and whether each provider is ready to call.

REQUIREMENTS:
  User-specified:
  - List available models.

  Implementation-discovered:
  - Useful validation step before full run: a missing credential shows
    up here instead of as one error per response.

ARCHITECTURE INTEGRATION:
  - Uses: internal/config (loaded by root)

ERROR HANDLING:
  - None beyond config loading.

IMPLEMENTATION RULES:
  - Simple output to stdout.
  - Never print credentials.

USAGE:
  mimic-runner list-models

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/config/config.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daryltucker/mimic-runner/internal/config"
	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/provider"
)

var enabledOnly bool

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List configured models and provider readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tPROVIDER\tENABLED\tTRANSPORT\tCREDENTIAL")
		for _, m := range cfg.Models {
			if enabledOnly && !m.Enabled {
				continue
			}
			s := cfg.Providers[m.Provider]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
				m.ID, m.Label, provider.DisplayName(m.Provider), m.Enabled,
				s.EffectiveTransport(), credentialState(m.Provider, s))
		}
		return tw.Flush()
	},
}

func credentialState(p model.ProviderName, s model.ProviderSettings) string {
	if s.APIKey != "" {
		return "set"
	}
	return "missing ($" + config.CredentialEnv[p] + ")"
}

func init() {
	rootCmd.AddCommand(listModelsCmd)
	listModelsCmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only show models enabled in config")
}
