package cli

import (
	"github.com/spf13/cobra"

	"rangewatch/internal/app"
	"rangewatch/internal/registry"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Price every configured pool once and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context())
	},
}

var (
	priceDecimals0 int32
	priceDecimals1 int32
	priceInvert    bool
)

var priceCmd = &cobra.Command{
	Use:   "price <sqrt-price>",
	Short: "Convert a raw Q64.64 sqrt price into a display price",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		a.Out = cmd.OutOrStdout()
		return a.Price(app.PriceOptions{
			Raw:       args[0],
			Decimals0: priceDecimals0,
			Decimals1: priceDecimals1,
			Invert:    priceInvert,
		})
	},
}

func init() {
	priceCmd.Flags().Int32Var(&priceDecimals0, "decimals0", registry.DefaultDecimals, "Decimals of token A")
	priceCmd.Flags().Int32Var(&priceDecimals1, "decimals1", registry.DefaultDecimals, "Decimals of token B")
	priceCmd.Flags().BoolVar(&priceInvert, "invert", false, "Print 1/price")
}
