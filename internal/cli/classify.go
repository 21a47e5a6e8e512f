package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daryltucker/mimic-runner/internal/output"
)

var (
	classifyRefs   string
	classifyRed    float64
	classifyYellow float64
)

var classifyCmd = &cobra.Command{
	Use:   "classify RUN_JSON",
	Short: "Classify reference texts against a saved run",
	Long: `Scores each reference text against every done response of a run exported
by 'run' and buckets it red (likely produced by one of the models), yellow or
green. Thresholds default to the classification section of the config.`,
	Example: `  mimic-runner classify results/run-1f0c.json --references ./essays.csv`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open run: %w", err)
		}
		defer f.Close()

		run, err := output.ReadRunJSON(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		refs, err := loadReferences(classifyRefs)
		if err != nil {
			return err
		}

		th := cfg.Classification
		if cmd.Flags().Changed("red") {
			th.Red = classifyRed
		}
		if cmd.Flags().Changed("yellow") {
			th.Yellow = classifyYellow
		}
		if th.Yellow > th.Red {
			return fmt.Errorf("--yellow (%v) must not exceed --red (%v)", th.Yellow, th.Red)
		}

		printClassifications(cmd.OutOrStdout(), refs, run, th)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringVar(&classifyRefs, "references", "", "CSV of reference texts (required)")
	classifyCmd.Flags().Float64Var(&classifyRed, "red", 0, "Minimum score for the red bucket")
	classifyCmd.Flags().Float64Var(&classifyYellow, "yellow", 0, "Minimum score for the yellow bucket")
	_ = classifyCmd.MarkFlagRequired("references")
}
