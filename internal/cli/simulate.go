package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"rangewatch/internal/app"
	"rangewatch/internal/registry"
)

var (
	simulateName   string
	simulateSqrt   string
	simulateMin    string
	simulateMax    string
	simulateInvert bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic pool price through one cycle to test alert delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSqrt == "" {
			return errors.New("--sqrt-price is required")
		}

		lower, upper, err := registry.ParseBounds(simulateMin, simulateMax)
		if err != nil {
			return err
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Name:      simulateName,
			SqrtPrice: simulateSqrt,
			Min:       lower,
			Max:       upper,
			Invert:    simulateInvert,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateName, "name", "SIMULATED/POOL", "Display name of the synthetic pool")
	simulateCmd.Flags().StringVar(&simulateSqrt, "sqrt-price", "", "Raw Q64.64 sqrt price to report")
	simulateCmd.Flags().StringVar(&simulateMin, "min", "0.5", "Lower bound of the range")
	simulateCmd.Flags().StringVar(&simulateMax, "max", "2", "Upper bound of the range")
	simulateCmd.Flags().BoolVar(&simulateInvert, "invert", false, "Report the inverted price")
}
