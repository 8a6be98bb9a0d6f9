package main

import (
	"fmt"

	"github.com/fwojciec/paystream"
	"github.com/spf13/cobra"
)

func newConvertCommand() *cobra.Command {
	var asset string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert amounts between human and base units",
	}
	cmd.PersistentFlags().StringVar(&asset, "asset", paystream.DefaultAsset, "asset symbol; eth uses 18 decimals, anything else 6")

	cmd.AddCommand(&cobra.Command{
		Use:     "to-base VALUE",
		Short:   "Convert a human decimal to base units",
		Example: "  paystream convert to-base 2.5 --asset usdc   # 2500000",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := paystream.ToBaseUnits(args[0], paystream.Decimals(asset))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "from-base VALUE",
		Short:   "Convert base units to a human decimal",
		Example: "  paystream convert from-base 2500000 --asset usdc   # 2.5",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := paystream.ParseAmount(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), paystream.FromBaseUnits(args[0], paystream.Decimals(asset)))
			return nil
		},
	})

	return cmd
}
