// Package main is the entry point of the Kokobot Discord bot.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/small-frappuccino/kokobot/pkg/app"
)

func newRootCmd() *cobra.Command {
	var opts app.Options

	root := &cobra.Command{
		Use:   "kokobot",
		Short: "Kokobot Discord bot",
		Long: `Kokobot keeps short notes for a Discord server, mixes members into
random groups, pages through member lists and runs the self-service
roles channel. The bot token is read from KOKOBOT_TOKEN.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to settings.toml (env "+app.EnvConfig+")")
	flags.StringVar(&opts.DBPath, "db", "", "Path to the notes database (env "+app.EnvDBPath+")")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn or error (env "+app.EnvLogLevel+")")
	flags.StringVar(&opts.LogDir, "log-dir", "", "Directory for kokobot.log (env "+app.EnvLogDir+")")
	root.Flags().StringVar(&opts.ControlAddr, "control-addr", "", "Listen address of the control server (env "+app.EnvControlAddr+")")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newConfigCmd(&opts))
	return root
}

func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
