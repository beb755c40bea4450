package commands

import (
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printf(cmd, "fraudeagle %s\n", version)
			printf(cmd, "  go:   %s\n", runtime.Version())
			printf(cmd, "  os:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
