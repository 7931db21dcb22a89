// Package output renders the Calypso card image and transaction results as
// colored console tables. It is diagnostic glue for the CLI only; the
// engine itself never imports it.
package output

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/dictionaries"
	"github.com/calypsonet/keyple-calypso-go/fixture"
)

// Color styles
var (
	colorHeader  = text.Colors{text.FgCyan, text.Bold}
	colorLabel   = text.Colors{text.FgYellow}
	colorValue   = text.Colors{text.FgWhite}
	colorSuccess = text.Colors{text.FgGreen}
	colorError   = text.Colors{text.FgRed}
	colorWarn    = text.Colors{text.FgYellow}
)

// getTableStyle returns the default table style
func getTableStyle() table.Style {
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Color.Row = text.Colors{text.FgWhite}
	style.Color.RowAlternate = text.Colors{text.FgHiWhite}
	style.Options.SeparateRows = false
	return style
}

// newTable creates a new table writer with default settings
func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(getTableStyle())
	t.Style().Options.SeparateRows = false
	return t
}

// PrintError prints an error message
func PrintError(msg string) {
	fmt.Println(colorError.Sprintf("✗ Error: %s", msg))
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	fmt.Println(colorSuccess.Sprintf("✓ %s", msg))
}

// PrintWarning prints a warning message
func PrintWarning(msg string) {
	fmt.Println(colorWarn.Sprintf("⚠ %s", msg))
}

// PrintReaderList prints the list of available smart card readers
func PrintReaderList(readers []string) {
	fmt.Println()
	t := newTable()
	t.SetTitle("AVAILABLE SMART CARD READERS")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 8},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})

	if len(readers) == 0 {
		t.AppendRow(table.Row{"Status", colorWarn.Sprint("No readers found")})
	} else {
		for i, r := range readers {
			t.AppendRow(table.Row{fmt.Sprintf("[%d]", i), r})
		}
	}
	t.Render()
}

// PrintReaderInfo prints the connected reader name and the card's power-on data
func PrintReaderInfo(readerName, powerOnData string) {
	fmt.Println()
	t := newTable()
	t.SetTitle("READER & CARD INFO")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 15},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	t.AppendRow(table.Row{"Reader", readerName})
	t.AppendRow(table.Row{"ATR", powerOnData})
	t.Render()
}

func featureList(f calypso.FeatureFlags) string {
	var features []string
	if f.ExtendedMode {
		features = append(features, "extended-mode")
	}
	if f.RatificationOnDeselect {
		features = append(features, "ratification-on-deselect")
	}
	if f.SV {
		features = append(features, "SV")
	}
	if f.PIN {
		features = append(features, "PIN")
	}
	if f.PKI {
		features = append(features, "PKI")
	}
	if len(features) == 0 {
		return "none"
	}
	return strings.Join(features, ", ")
}

func bufferUnitName(product dictionaries.ProductType) string {
	caps, ok := dictionaries.Capabilities[product]
	if ok && caps.BufferUnit == dictionaries.UnitBytes {
		return "bytes"
	}
	return "commands"
}

// PrintCardInfo prints the card image header: product type, serial, AID,
// feature flags and session buffer capacity
func PrintCardInfo(card *calypso.CalypsoCard) {
	fmt.Println()
	t := newTable()
	t.SetTitle("CALYPSO CARD")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 22},
		{Number: 2, Colors: colorValue, WidthMin: 44},
	})

	t.AppendRow(table.Row{"Product Type", card.ProductType.String()})
	t.AppendRow(table.Row{"Class Byte", fmt.Sprintf("%02X", card.ClassByte)})
	t.AppendRow(table.Row{"Serial Number", strings.ToUpper(hex.EncodeToString(card.SerialNumber[:]))})
	if len(card.DFAID) > 0 {
		t.AppendRow(table.Row{"DF AID", strings.ToUpper(hex.EncodeToString(card.DFAID))})
	}
	t.AppendRow(table.Row{"Startup Info", strings.ToUpper(hex.EncodeToString(card.StartupInfo[:]))})
	t.AppendRow(table.Row{"Features", featureList(card.Features)})
	if card.DFInvalidated {
		t.AppendRow(table.Row{"DF Status", colorError.Sprint("INVALIDATED")})
	}
	if card.HCE {
		t.AppendRow(table.Row{"HCE", "yes"})
	}
	t.AppendRow(table.Row{"Session Buffer", fmt.Sprintf("%d %s", card.SessionModificationCapacity, bufferUnitName(card.ProductType))})
	if card.Patch.CounterValuePostponed {
		t.AppendRow(table.Row{"Patch", "counter-value-postponed"})
	}
	t.Render()
}

func efTypeName(f *calypso.ElementaryFile) string {
	if !f.Header.HasType {
		return "?"
	}
	switch f.Header.Type {
	case calypso.EFTypeBinary:
		return "BINARY"
	case calypso.EFTypeLinear:
		return "LINEAR"
	case calypso.EFTypeCyclic:
		return "CYCLIC"
	case calypso.EFTypeSimulatedCounters:
		return "SIM_COUNTERS"
	case calypso.EFTypeCounters:
		return "COUNTERS"
	default:
		return "?"
	}
}

// PrintFiles prints every EF of the card image with its records
func PrintFiles(card *calypso.CalypsoCard) {
	if len(card.Files) == 0 {
		PrintWarning("No files read")
		return
	}

	fmt.Println()
	t := newTable()
	t.SetTitle("ELEMENTARY FILES")
	t.AppendHeader(table.Row{"SFI", "LID", "Type", "Rec", "Content"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 5},
		{Number: 2, Colors: colorValue, WidthMin: 6},
		{Number: 3, Colors: colorValue, WidthMin: 10},
		{Number: 4, Colors: colorValue, WidthMin: 4},
		{Number: 5, Colors: colorValue, WidthMin: 40},
	})

	for _, ef := range card.Files {
		lid := "-"
		if ef.Header.HasLID {
			lid = fmt.Sprintf("%04X", ef.Header.LID)
		}

		if len(ef.CyclicRecords) > 0 {
			for i, rec := range ef.CyclicRecords {
				t.AppendRow(table.Row{
					fmt.Sprintf("%02X", ef.SFI), lid, efTypeName(ef), i + 1,
					strings.ToUpper(hex.EncodeToString(rec)),
				})
			}
			continue
		}

		nums := make([]int, 0, len(ef.Records))
		for n := range ef.Records {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		if len(nums) == 0 {
			t.AppendRow(table.Row{fmt.Sprintf("%02X", ef.SFI), lid, efTypeName(ef), "-", "(header only)"})
		}
		for _, n := range nums {
			t.AppendRow(table.Row{
				fmt.Sprintf("%02X", ef.SFI), lid, efTypeName(ef), n,
				strings.ToUpper(hex.EncodeToString(ef.Records[n])),
			})
		}
	}
	t.Render()
}

// PrintSvState prints the stored-value fields of the card image, if an
// SV Get has populated them
func PrintSvState(card *calypso.CalypsoCard) {
	if !card.Dynamic.HasSvBalance {
		return
	}

	fmt.Println()
	t := newTable()
	t.SetTitle("STORED VALUE")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 22},
		{Number: 2, Colors: colorValue, WidthMin: 20},
	})
	t.AppendRow(table.Row{"Balance", card.Dynamic.SvBalance})
	t.AppendRow(table.Row{"Last Transaction", card.Dynamic.SvLastTNum})
	t.AppendRow(table.Row{"KVC", fmt.Sprintf("%02X", card.Dynamic.SvKvc)})
	t.Render()
}

// PrintScenarioResults prints the per-scenario pass/fail rows followed by a
// summary table
func PrintScenarioResults(results []fixture.Result) {
	if len(results) == 0 {
		PrintWarning("No scenario results")
		return
	}

	fmt.Println()
	t := newTable()
	t.SetTitle("SCENARIO RESULTS")
	t.AppendHeader(table.Row{"Status", "Scenario", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 6},
		{Number: 2, Colors: colorValue, WidthMin: 30},
		{Number: 3, Colors: colorValue, WidthMin: 40},
	})

	passed := 0
	for _, r := range results {
		status := colorSuccess.Sprint("PASS")
		detail := r.Detail
		if !r.Passed {
			status = colorError.Sprint("FAIL")
			detail = r.Error
		} else {
			passed++
		}
		t.AppendRow(table.Row{status, r.Name, detail})
	}
	t.Render()

	fmt.Println()
	s := newTable()
	s.SetTitle("SUMMARY")
	s.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 12},
		{Number: 2, Colors: colorValue, WidthMin: 10},
	})
	s.AppendRow(table.Row{"Total", len(results)})
	s.AppendRow(table.Row{"Passed", colorSuccess.Sprintf("%d", passed)})
	s.AppendRow(table.Row{"Failed", colorError.Sprintf("%d", len(results)-passed)})
	s.AppendRow(table.Row{"Pass Rate", fmt.Sprintf("%.1f%%", float64(passed)/float64(len(results))*100)})
	s.Render()
}
