package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/small-frappuccino/kokobot/pkg/app"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kokobot version %s\n", app.AppVersion())
		},
	}
}
