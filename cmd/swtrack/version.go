package main

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "swtrack v%s\n", version)

		info, err := host.Info()
		if err != nil {
			fmt.Fprintf(out, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return
		}
		fmt.Fprintf(out, "Platform: %s %s (%s)\n", info.Platform, info.PlatformVersion, info.KernelArch)
		if info.OS != "windows" {
			fmt.Fprintln(out, warningText("Note:"), "registry scanning needs Windows; list/add/edit/remove work everywhere.")
		}
	},
}
