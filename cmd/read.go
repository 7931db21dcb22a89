package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calypsonet/keyple-calypso-go/config"
	"github.com/calypsonet/keyple-calypso-go/output"
	"github.com/calypsonet/keyple-calypso-go/reader"
	"github.com/calypsonet/keyple-calypso-go/session"
)

var (
	// Read command flags
	listReadersFlag bool
	readAID         string
	readSfi         uint8
	readFromRecord  uint8
	readToRecord    uint8
	readExpectedLen int
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read Calypso card files",
	Long: `Select a Calypso application and read its files.

Examples:
  # List available readers
  calypso read --list

  # Select the default transit application and read the environment file
  calypso read --sfi 07

  # Read contract records 1-4 of a specific application
  calypso read --aid 325041592E5359532E4444463031 --sfi 9 --to 4

  # Dump the card image as JSON
  calypso read --sfi 07 --json`,
	Run: runRead,
}

func init() {
	readCmd.Flags().BoolVarP(&listReadersFlag, "list", "l", false,
		"List available smart card readers")
	readCmd.Flags().StringVar(&readAID, "aid", "325041592E5359532E4444463031",
		"Application AID to select (hex, empty for power-on data classification)")
	readCmd.Flags().Uint8Var(&readSfi, "sfi", 0x07,
		"SFI of the file to read (decimal)")
	readCmd.Flags().Uint8Var(&readFromRecord, "from", 1,
		"First record number to read")
	readCmd.Flags().Uint8Var(&readToRecord, "to", 1,
		"Last record number to read")
	readCmd.Flags().IntVar(&readExpectedLen, "length", 29,
		"Expected record length in bytes")

	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) {
	if listReadersFlag {
		if err := listReaders(); err != nil {
			printError(err.Error())
		}
		return
	}

	cfg, err := loadConfig(config.ValidationReadOnly)
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

	var aid []byte
	if readAID != "" {
		if aid, err = parseHexFlag("aid", readAID); err != nil {
			printError(err.Error())
			return
		}
	}

	ctx := context.Background()
	card, err := selectCard(ctx, rdr, aid)
	if err != nil {
		printError(fmt.Sprintf("Card selection failed: %v", err))
		return
	}

	settings, err := sessionSettings(cfg)
	if err != nil {
		printError(err.Error())
		return
	}
	m := session.New(card, nil, rdr, settings)
	m.Logger = engineLogger()

	if readToRecord < readFromRecord {
		readToRecord = readFromRecord
	}
	for rec := readFromRecord; rec <= readToRecord; rec++ {
		if err := m.PrepareReadRecords(readSfi, rec, readExpectedLen); err != nil {
			printError(err.Error())
			return
		}
	}
	if err := m.ProcessCommands(ctx, reader.ChannelCloseAfter); err != nil {
		printError(fmt.Sprintf("Read failed: %v", err))
		return
	}

	if outputJSON {
		dump, err := json.MarshalIndent(card, "", "  ")
		if err != nil {
			printError(fmt.Sprintf("JSON export failed: %v", err))
			return
		}
		fmt.Println(string(dump))
		return
	}

	output.PrintCardInfo(card)
	output.PrintFiles(card)
	printSuccess("Done!")
}
