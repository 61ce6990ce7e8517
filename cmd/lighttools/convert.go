package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/lighttools/internal/level"
)

func convertCommand() *cobra.Command {
	var minStr, maxStr string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert between variable values and levels",
		Args:  cobra.ExactArgs(0),
	}
	cmd.PersistentFlags().StringVar(&minStr, "min", "0", "Scale minimum")
	cmd.PersistentFlags().StringVar(&maxStr, "max", "100", "Scale maximum")

	cmd.AddCommand(&cobra.Command{
		Use:   "to-level VALUE",
		Short: "Map a variable value onto 0-100",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			scale := parseScale(c, minStr, maxStr)
			conv, ok := scale.ToLevel(args[0])
			if !ok {
				return fmt.Errorf("not a number: %q", args[0])
			}
			fmt.Fprintln(c.OutOrStdout(), conv.Level)
			if conv.Clamped {
				fmt.Fprintf(c.ErrOrStderr(), "value clamped to %v\n", conv.Value)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "to-variable LEVEL",
		Short: "Map a 0-100 level onto the scale",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			lvl, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("level must be an integer: %w", err)
			}
			fmt.Fprintln(c.OutOrStdout(), parseScale(c, minStr, maxStr).ToVariable(lvl))
			return nil
		},
	})

	return cmd
}

func parseScale(c *cobra.Command, minStr, maxStr string) level.Scale {
	scale, ok := level.ParseScale(minStr, maxStr)
	if !ok {
		fmt.Fprintf(c.ErrOrStderr(), "invalid scale %s..%s, using 0..100\n", minStr, maxStr)
	}
	return scale
}

func relayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relay LEVEL",
		Short: "Show the relay states a level quantizes to",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			lvl, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("level must be an integer: %w", err)
			}
			pair := level.PairForLevel(lvl)
			fmt.Fprintf(c.OutOrStdout(), "level=%d relay1=%t relay2=%t speed=%d\n",
				pair.Level(), pair.Relay1, pair.Relay2, level.SpeedIndex(pair.Level()))
			return nil
		},
	}
}
