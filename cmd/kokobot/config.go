package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/small-frappuccino/kokobot/pkg/app"
)

func newConfigCmd(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Check settings.toml and print the effective settings",
		Long: `Loads settings.toml the way the bot does at startup, writing the
defaults first when the file does not exist, and reports whether it is valid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, cfg, err := app.LoadSettings(*opts)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "settings: %s\n", path)
			fmt.Fprintf(out, "prefix: %s\n", cfg.Prefix)
			fmt.Fprintf(out, "page size: %d, expiry: %s\n", cfg.Interactive.PageSize, cfg.Interactive.Expiry.Duration)
			fmt.Fprintf(out, "mixer groups: %d (%d-%d)\n", cfg.Mixer.DefaultGroups, cfg.Mixer.MinGroups, cfg.Mixer.MaxGroups)
			if cfg.Roles.Enabled {
				fmt.Fprintf(out, "roles channel: *%s*, purged every %s\n", cfg.Roles.ChannelName, cfg.Roles.PurgeInterval.Duration)
			} else {
				fmt.Fprintln(out, "roles channel: disabled")
			}
			if len(cfg.AdminRoles) > 0 {
				fmt.Fprintf(out, "admin roles: %s\n", strings.Join(cfg.AdminRoles, ", "))
			}
			return nil
		},
	}
}
