package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/log"
	"github.com/leafsii/leafsii-lending/internal/scenario"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a scenario file against an in-process ledger",
	Long: `Simulate loads a YAML scenario, runs every step against a fresh ledger
with a simulated clock and checks the declared expectations.

Example:
  ledgerd simulate -f internal/scenario/testdata/liquidation.yaml --json`,
	RunE: runSimulate,
}

var (
	simFile     string
	simJSON     bool
	simLogLevel string
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVarP(&simFile, "file", "f", "", "path to scenario YAML (required)")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "print the report as JSON")
	simulateCmd.Flags().StringVar(&simLogLevel, "log-level", "warn", "ledger log level")

	simulateCmd.MarkFlagRequired("file")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	s, err := scenario.Load(simFile)
	if err != nil {
		return err
	}

	logger, err := log.NewSugar("dev", simLogLevel)
	if err != nil {
		logger = zap.NewNop().Sugar()
	}
	defer logger.Sync()

	report, runErr := s.Run(cmd.Context(), logger)
	if report != nil {
		if err := printReport(cmd.OutOrStdout(), report, simJSON); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("scenario %q failed: %w", s.Name, runErr)
	}
	return nil
}

func printReport(w io.Writer, report *scenario.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	for _, st := range report.Steps {
		line := fmt.Sprintf("%3d %-10s", st.Index, st.Op)
		if st.Detail != "" {
			line += " " + st.Detail
		}
		if st.Error != "" {
			line += " error=" + st.Error
		}
		fmt.Fprintln(w, line)
	}
	status := "PASS"
	if !report.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%d steps, %d events)\n", status, report.Name, len(report.Steps), len(report.Events))
	return nil
}
