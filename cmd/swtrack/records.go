package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/storage"
	"github.com/breeze-rmm/swtrack/internal/tracker"
)

var (
	recName    string
	recVersion string
	recDate    string
	recStatus  string

	exportFormat string
	exportOutput string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked software",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), a.svc.ListAll())
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a software record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		rec, index, err := a.svc.AddRecord(tracker.RecordInput{
			Name:        recName,
			Version:     recVersion,
			InstalledOn: recDate,
			Status:      recStatus,
		})
		if err := warnOnPersist(cmd, err); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s #%d %s (%s)\n", successText("Added"), index+1, rec.Name, rec.Version)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <index>",
	Short: "Edit the record at a list index",
	Long:  "Edit the record shown at <index> by 'swtrack list'. Flags that are not given keep their current value.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		current, ok := a.svc.Get(index)
		if !ok {
			return fmt.Errorf("no record at index %s", args[0])
		}

		in := overlay(current, cmd)
		found, err := a.svc.UpdateRecord(index, in)
		if err := warnOnPersist(cmd, err); err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no record at index %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s record %s\n", successText("Updated"), args[0])
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <index>",
	Aliases: []string{"rm"},
	Short:   "Remove the record at a list index",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		rec, _ := a.svc.Get(index)
		found, err := a.svc.RemoveRecord(index)
		if err := warnOnPersist(cmd, err); err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no record at index %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successText("Removed"), rec.Name)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the inventory as YAML or JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if exportOutput != "" && exportOutput != "-" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", exportOutput, err)
			}
			defer f.Close()
			w = f
		}
		return storage.Export(w, a.svc.ListAll(), exportFormat)
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringVar(&recName, "name", "", "program name")
		c.Flags().StringVar(&recVersion, "version", "", "program version (default Unknown)")
		c.Flags().StringVar(&recDate, "date", "", "install date, YYYY-MM-DD (default today)")
		c.Flags().StringVar(&recStatus, "status", "", "Installed, Trial, Expired or Not Installed (default Installed)")
	}
	addCmd.MarkFlagRequired("name")

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "yaml", "yaml or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
}

// parseIndex converts a 1-based list index to a store index.
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid index %q: use the number shown by 'swtrack list'", s)
	}
	return n - 1, nil
}

// overlay starts from the current record and applies only the flags the user
// set.
func overlay(current inventory.Record, cmd *cobra.Command) tracker.RecordInput {
	in := tracker.RecordInput{
		Name:        current.Name,
		Version:     current.Version,
		InstalledOn: current.DateString(),
		Status:      string(current.Status),
	}
	flags := cmd.Flags()
	if flags.Changed("name") {
		in.Name = recName
	}
	if flags.Changed("version") {
		in.Version = recVersion
	}
	if flags.Changed("date") {
		in.InstalledOn = recDate
	}
	if flags.Changed("status") {
		in.Status = recStatus
	}
	return in
}

// warnOnPersist prints a save failure as a warning and lets the command
// succeed; the change is still applied in memory for this run.
func warnOnPersist(cmd *cobra.Command, err error) error {
	var pe *inventory.PersistError
	if errors.As(err, &pe) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", warningText("Warning:"), pe)
		return nil
	}
	return err
}
