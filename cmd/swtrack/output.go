package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/breeze-rmm/swtrack/internal/inventory"
)

var (
	successText = color.New(color.FgGreen).SprintFunc()
	warningText = color.New(color.FgYellow, color.Bold).SprintFunc()
	errorText   = color.New(color.FgRed, color.Bold).SprintFunc()
)

func statusText(s inventory.Status) string {
	switch s {
	case inventory.StatusInstalled:
		return color.GreenString(string(s))
	case inventory.StatusTrial:
		return color.YellowString(string(s))
	case inventory.StatusExpired:
		return color.RedString(string(s))
	default:
		return color.New(color.Faint).Sprint(string(s))
	}
}

// printRecords writes a table with 1-based indexes, the form users pass to
// edit and remove.
func printRecords(w io.Writer, records []inventory.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No software tracked yet. Run 'swtrack scan' or 'swtrack add'.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tVERSION\tINSTALLED\tSTATUS")
	for i, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, r.Name, r.Version, r.DateString(), statusText(r.Status))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nTotal software in database: %d\n", len(records))
	return err
}
