package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand(version, commit string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "paystream",
		Short: "Pay-per-second video playback over a payment channel",
		Long: `paystream plays a video in the terminal and streams micro-payments to its
creator through a clearnode while it plays. Pausing stops the payments.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/paystream/config.yml)")

	root.AddCommand(newWatchCommand(&configPath))
	root.AddCommand(newConvertCommand())
	return root
}
