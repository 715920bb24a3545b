package main

import (
	"fmt"
	"os"

	"github.com/example/pockettts/internal/server"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(_ *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(os.Stdout, server.BuildVersion())
		},
	}
}
