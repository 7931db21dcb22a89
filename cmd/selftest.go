package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calypsonet/keyple-calypso-go/fixture"
	"github.com/calypsonet/keyple-calypso-go/output"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the end-to-end scenario suite",
	Long: `Run the transaction engine's scenario suite against a simulated
card and SAM. No reader or physical card is required.

The suite covers AID selection and product detection, Secure Session
open/close with MAC chaining, session buffer accounting with multi-session
splitting, abort rollback, Stored Value debit, and postponed counters.`,
	Run: runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

func runSelftest(cmd *cobra.Command, args []string) {
	suite := fixture.NewSuite(verbose && !outputJSON)
	results := suite.RunAll()

	if outputJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			printError(fmt.Sprintf("JSON export failed: %v", err))
			os.Exit(1)
		}
		fmt.Println(string(data))
	} else {
		output.PrintScenarioResults(results)
	}

	if _, failed := suite.Summary(); failed > 0 {
		os.Exit(1)
	}
}
