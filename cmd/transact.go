package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/config"
	"github.com/calypsonet/keyple-calypso-go/output"
	"github.com/calypsonet/keyple-calypso-go/reader"
	"github.com/calypsonet/keyple-calypso-go/session"
)

var (
	// Transact command flags
	transactAID    string
	transactLevel  string
	transactSfi    uint8
	transactRecord uint8
	transactWrite  string
	transactKIF    string
	transactKVC    string
)

var transactCmd = &cobra.Command{
	Use:   "transact",
	Short: "Run a Secure Session against the card",
	Long: `Open a Secure Session, read a record, optionally update it, and
close the session with MAC verification.

Session cryptography runs on the simulated SAM (the key is prompted for on
the terminal); a physical SAM in the configured SAM reader slot is
identified and reported only.

Examples:
  # Read-only debit session on the environment file
  calypso transact --sfi 07

  # Update contract record 1 inside a load session
  calypso transact --level load --sfi 9 --write 0102030405060708090A0B0C0D0E0F10`,
	Run: runTransact,
}

func init() {
	transactCmd.Flags().StringVar(&transactAID, "aid", "325041592E5359532E4444463031",
		"Application AID to select (hex)")
	transactCmd.Flags().StringVar(&transactLevel, "level", "debit",
		"Write access level: perso, load or debit")
	transactCmd.Flags().Uint8Var(&transactSfi, "sfi", 0x07,
		"SFI of the file to read/update")
	transactCmd.Flags().Uint8Var(&transactRecord, "record", 1,
		"Record number to read/update")
	transactCmd.Flags().StringVar(&transactWrite, "write", "",
		"Record content to write inside the session (hex, empty for read-only)")
	transactCmd.Flags().StringVar(&transactKIF, "kif", "21",
		"Session key KIF (hex)")
	transactCmd.Flags().StringVar(&transactKVC, "kvc", "79",
		"Session key KVC (hex)")

	rootCmd.AddCommand(transactCmd)
}

func accessLevelFromFlag(level string) (calypso.WriteAccessLevel, error) {
	switch level {
	case "perso":
		return calypso.AccessLevelPerso, nil
	case "load":
		return calypso.AccessLevelLoad, nil
	case "debit":
		return calypso.AccessLevelDebit, nil
	default:
		return 0, fmt.Errorf("unknown access level %q (want perso, load or debit)", level)
	}
}

func runTransact(cmd *cobra.Command, args []string) {
	level, err := accessLevelFromFlag(transactLevel)
	if err != nil {
		printError(err.Error())
		return
	}
	kifBytes, err := parseHexFlag("kif", transactKIF)
	if err != nil || len(kifBytes) != 1 {
		printError("--kif must be 2 hex digits")
		return
	}
	kvcBytes, err := parseHexFlag("kvc", transactKVC)
	if err != nil || len(kvcBytes) != 1 {
		printError("--kvc must be 2 hex digits")
		return
	}

	cfg, err := loadConfig(config.ValidationFull)
	if err != nil {
		printError(err.Error())
		return
	}

	rdr, err := connectCard(cfg)
	if err != nil {
		printError(err.Error())
		return
	}
	defer rdr.Close()
	identifySam(cfg)

	aid, err := parseHexFlag("aid", transactAID)
	if err != nil {
		printError(err.Error())
		return
	}

	ctx := context.Background()
	card, err := selectCard(ctx, rdr, aid)
	if err != nil {
		printError(fmt.Sprintf("Card selection failed: %v", err))
		return
	}

	sam, err := newSimulatedSam(kifBytes[0], kvcBytes[0])
	if err != nil {
		printError(err.Error())
		return
	}
	settings, err := sessionSettings(cfg)
	if err != nil {
		printError(err.Error())
		return
	}

	m := session.New(card, sam, rdr, settings)
	m.Logger = engineLogger()

	if err := m.PrepareOpenSecureSession(level, 0, 0); err != nil {
		printError(err.Error())
		return
	}
	if err := m.PrepareReadRecords(transactSfi, transactRecord, 29); err != nil {
		printError(err.Error())
		return
	}
	if transactWrite != "" {
		data, err := parseHexFlag("write", transactWrite)
		if err != nil {
			printError(err.Error())
			return
		}
		if err := m.PrepareUpdateRecord(transactSfi, transactRecord, data); err != nil {
			printError(err.Error())
			return
		}
	}
	if err := m.PrepareCloseSecureSession(); err != nil {
		printError(err.Error())
		return
	}

	if err := m.ProcessCommands(ctx, reader.ChannelCloseAfter); err != nil {
		printError(fmt.Sprintf("Session failed: %v", err))
		return
	}

	output.PrintCardInfo(card)
	output.PrintFiles(card)
	printSuccess(fmt.Sprintf("Session closed, card MAC verified (%s level)", transactLevel))
}
