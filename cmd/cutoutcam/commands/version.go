package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/CutoutCam/internal/api"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CutoutCam version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cutoutcam %s (%s %s/%s)\n", api.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
