package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/command"
	"github.com/calypsonet/keyple-calypso-go/config"
	"github.com/calypsonet/keyple-calypso-go/iso7816"
	"github.com/calypsonet/keyple-calypso-go/output"
	"github.com/calypsonet/keyple-calypso-go/reader"
	"github.com/calypsonet/keyple-calypso-go/samsim"
	"github.com/calypsonet/keyple-calypso-go/session"
)

// printError prints an error message using the output package
func printError(msg string) {
	output.PrintError(msg)
}

// printSuccess prints a success message unless JSON output is requested
func printSuccess(msg string) {
	if !outputJSON {
		output.PrintSuccess(msg)
	}
}

// printWarning prints a warning message unless JSON output is requested
func printWarning(msg string) {
	if !outputJSON {
		output.PrintWarning(msg)
	}
}

// listReaders prints the list of available smart card readers
func listReaders() error {
	readers, err := reader.ListPCSCReaders()
	if err != nil {
		return fmt.Errorf("failed to list readers: %w", err)
	}
	output.PrintReaderList(readers)
	return nil
}

// engineLogger returns the slog logger injected into the transaction
// manager: discarded unless --verbose.
func engineLogger() *slog.Logger {
	if !verbose {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// loadConfig loads the YAML configuration when --config was given, in the
// validation mode the calling flow needs. Flags override config values.
func loadConfig(mode config.ValidationMode) (*config.Config, error) {
	if configPath == "" {
		return nil, nil
	}
	return config.LoadWithMode(configPath, mode)
}

// resolveCardReaderIndex picks the card reader slot: flag first, then
// config, then auto-select if exactly one reader is present.
func resolveCardReaderIndex(cfg *config.Config) (int, error) {
	if cardReaderIndex >= 0 {
		return cardReaderIndex, nil
	}
	if cfg != nil && cfg.Reader.CardReaderIndex != nil {
		return *cfg.Reader.CardReaderIndex, nil
	}
	readers, err := reader.ListPCSCReaders()
	if err != nil {
		return 0, fmt.Errorf("failed to list readers: %w", err)
	}
	if len(readers) == 0 {
		return 0, fmt.Errorf("no smart card readers found")
	}
	if len(readers) == 1 {
		printSuccess(fmt.Sprintf("Auto-selected reader: %s", readers[0]))
		return 0, nil
	}
	output.PrintReaderList(readers)
	return 0, fmt.Errorf("multiple readers found, use -r <index> to select one")
}

// connectCard connects the card reader slot and prints its identity.
func connectCard(cfg *config.Config) (*reader.PCSCReader, error) {
	idx, err := resolveCardReaderIndex(cfg)
	if err != nil {
		return nil, err
	}
	rdr, err := reader.ConnectPCSCReaderByIndex(idx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if !outputJSON {
		output.PrintReaderInfo(rdr.Name(), strings.ToUpper(hex.EncodeToString(rdr.PowerOnData())))
	}
	return rdr, nil
}

// identifySam connects the SAM reader slot, decodes its power-on data and
// reports the SAM product. The secure flows below drive the simulated SAM
// for session cryptography; a physical SAM is identified but not driven.
func identifySam(cfg *config.Config) {
	idx := samReaderIndex
	if idx < 0 && cfg != nil && cfg.Reader.SamReaderIndex != nil {
		idx = *cfg.Reader.SamReaderIndex
	}
	if idx < 0 {
		printWarning("No SAM reader configured, using simulated SAM")
		return
	}
	sam, err := reader.ConnectPCSCReaderByIndex(idx)
	if err != nil {
		printWarning(fmt.Sprintf("SAM reader: %v (using simulated SAM)", err))
		return
	}
	defer sam.Close()
	atr, err := reader.DecodeSamATR(sam.PowerOnData())
	if err != nil {
		printWarning(fmt.Sprintf("SAM ATR: %v", err))
		return
	}
	printSuccess(fmt.Sprintf("SAM detected: %s (serial %X)", atr.Product, atr.SerialNumber[:]))
}

// newSimulatedSam builds the samsim crypto service. The key is read from
// the controlling TTY without echo; an empty entry uses a zero test key.
func newSimulatedSam(kif, kvc byte) (*samsim.SAM, error) {
	key := make([]byte, 16)
	if term.IsTerminal(int(os.Stdin.Fd())) && !outputJSON {
		fmt.Fprintf(os.Stderr, "Simulated SAM key for KIF=%02X KVC=%02X (hex, empty for zero key): ", kif, kvc)
		line, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read SAM key: %w", err)
		}
		if len(line) > 0 {
			key, err = hex.DecodeString(strings.TrimSpace(string(line)))
			if err != nil || (len(key) != 16 && len(key) != 24) {
				return nil, fmt.Errorf("SAM key must be 16 or 24 hex-encoded bytes")
			}
		}
	}
	return samsim.New(samsim.KeyEntry{KIF: kif, KVC: kvc, Key: key}), nil
}

// selectCard runs the card selection step: Select by AID when one is
// given, power-on data classification otherwise.
func selectCard(ctx context.Context, rdr reader.CardReader, aid []byte) (*calypso.CalypsoCard, error) {
	if len(aid) == 0 {
		return calypso.DetectFromPowerOnData(rdr.PowerOnData())
	}

	req := &reader.CardRequest{APDUs: [][]byte{command.EncodeSelectApplication(aid).Bytes()}}
	resp, err := rdr.TransmitCardRequest(ctx, req, reader.ChannelKeepOpen)
	if err != nil {
		return nil, fmt.Errorf("select application: %w", err)
	}
	if len(resp.APDUs) != 1 {
		return nil, fmt.Errorf("select application: no response")
	}
	parsed, err := iso7816.ParseResponseAPDU(resp.APDUs[0])
	if err != nil {
		return nil, err
	}
	if parsed.SW() != 0x9000 {
		return nil, fmt.Errorf("select application failed: SW=%04X", parsed.SW())
	}
	return calypso.DetectFromFCI(parsed.Data)
}

// sessionSettings merges config-file settings with defaults for flows that
// run without a config file.
func sessionSettings(cfg *config.Config) (session.Settings, error) {
	if cfg == nil {
		return session.Settings{MultiSessionEnabled: true}, nil
	}
	return cfg.SessionSettings()
}

func parseHexFlag(name, value string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid hex for --%s: %w", name, err)
	}
	return raw, nil
}
