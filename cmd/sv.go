package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/config"
	"github.com/calypsonet/keyple-calypso-go/crypto"
	"github.com/calypsonet/keyple-calypso-go/output"
	"github.com/calypsonet/keyple-calypso-go/reader"
	"github.com/calypsonet/keyple-calypso-go/session"
)

var (
	// SV command flags
	svAID    string
	svOp     string
	svAmount int32
	svDate   string
	svTime   string
	svKIF    string
	svKVC    string
)

var svCmd = &cobra.Command{
	Use:   "sv",
	Short: "Stored Value operations",
	Long: `Read or modify the card's Stored Value purse inside a Secure
Session. The SV Get/modifying binding and negative-balance policy follow
the security settings of the configuration file.

Examples:
  # Show the current balance and logs
  calypso sv

  # Debit 150 cents
  calypso sv --op debit --amount 150

  # Reload 1000 cents
  calypso sv --op reload --amount 1000`,
	Run: runSv,
}

func init() {
	svCmd.Flags().StringVar(&svAID, "aid", "325041592E5359532E4444463031",
		"Application AID to select (hex)")
	svCmd.Flags().StringVar(&svOp, "op", "get",
		"Operation: get, debit, reload or undebit")
	svCmd.Flags().Int32Var(&svAmount, "amount", 0,
		"Amount in the card's smallest currency unit")
	svCmd.Flags().StringVar(&svDate, "date", "0000",
		"Transaction date (2 bytes, hex)")
	svCmd.Flags().StringVar(&svTime, "time", "0000",
		"Transaction time (2 bytes, hex)")
	svCmd.Flags().StringVar(&svKIF, "kif", "21",
		"Session key KIF (hex)")
	svCmd.Flags().StringVar(&svKVC, "kvc", "79",
		"Session key KVC (hex)")

	rootCmd.AddCommand(svCmd)
}

func runSv(cmd *cobra.Command, args []string) {
	kifBytes, err := parseHexFlag("kif", svKIF)
	if err != nil || len(kifBytes) != 1 {
		printError("--kif must be 2 hex digits")
		return
	}
	kvcBytes, err := parseHexFlag("kvc", svKVC)
	if err != nil || len(kvcBytes) != 1 {
		printError("--kvc must be 2 hex digits")
		return
	}
	date, err := parseHexFlag("date", svDate)
	if err != nil || len(date) != 2 {
		printError("--date must be 4 hex digits")
		return
	}
	tm, err := parseHexFlag("time", svTime)
	if err != nil || len(tm) != 2 {
		printError("--time must be 4 hex digits")
		return
	}

	getOp := crypto.SvOperationDebit
	switch svOp {
	case "get", "debit", "undebit":
	case "reload":
		getOp = crypto.SvOperationReload
	default:
		printError(fmt.Sprintf("unknown SV operation %q", svOp))
		return
	}
	if svOp != "get" && svAmount <= 0 {
		printError("--amount must be positive for SV modifying operations")
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

	aid, err := parseHexFlag("aid", svAID)
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
	if !card.Features.SV {
		printWarning("Card does not advertise the Stored Value feature")
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

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		printError(err.Error())
		return
	}
	if err := m.PrepareSvGet(getOp); err != nil {
		printError(err.Error())
		return
	}
	if err := m.ProcessCommands(ctx, reader.ChannelKeepOpen); err != nil {
		printError(fmt.Sprintf("SV Get failed: %v", err))
		return
	}

	var d, t [2]byte
	copy(d[:], date)
	copy(t[:], tm)
	switch svOp {
	case "debit":
		err = m.PrepareSvDebit(svAmount, d, t, [2]byte{})
	case "reload":
		err = m.PrepareSvReload(svAmount, d, t, [2]byte{})
	case "undebit":
		err = m.PrepareSvUndebit(svAmount, d, t, [2]byte{})
	}
	if err != nil {
		printError(err.Error())
		return
	}
	if err := m.PrepareCloseSecureSession(); err != nil {
		printError(err.Error())
		return
	}
	if err := m.ProcessCommands(ctx, reader.ChannelCloseAfter); err != nil {
		printError(fmt.Sprintf("SV operation failed: %v", err))
		return
	}

	output.PrintSvState(card)
	printSuccess("Done!")
}
