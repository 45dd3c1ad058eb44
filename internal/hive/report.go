package hive

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// PrintSummary writes the stage table and the run outputs to w
func PrintSummary(w io.Writer, result *Result) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                      Execution Summary                       ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Stage", "Status", "Duration", "Tx Hash"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, sr := range result.StageResults {
		table.Append([]string{
			fmt.Sprintf("%d", sr.Stage+1),
			sr.Stage.String(),
			stageStatus(sr),
			sr.Duration.Round(time.Millisecond).String(),
			feltString(sr.TxHash),
		})
	}
	table.SetFooter([]string{"", "", "", result.Duration.Round(time.Millisecond).String(), ""})
	table.Render()

	fmt.Fprintln(w)
	printField(w, "Class Hash", feltString(result.ClassHash))
	printField(w, "Contract", feltString(result.ContractAddress))
	if result.BalanceAfter != nil {
		printField(w, "Balance", fmt.Sprintf("%s -> %s", result.BalanceBefore, result.BalanceAfter))
	}
	printField(w, "Custom Signature", result.CustomSignatureOutcome)

	if result.Success() {
		fmt.Fprintln(w, "\n"+color.GreenString("Lifecycle run completed successfully"))
		return
	}
	fmt.Fprintln(w, "\n"+color.RedString("Lifecycle run completed with errors"))
	for _, err := range result.Errors {
		fmt.Fprintf(w, "  - %v\n", err)
	}
}

func stageStatus(sr *StageResult) string {
	if sr.Success {
		return color.GreenString("OK")
	}
	return color.RedString("FAILED")
}

func printField(w io.Writer, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %-18s %s\n", color.CyanString(name+":"), value)
}
