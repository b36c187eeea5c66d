package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/grillo/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (auth token redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}
			out, err := settings.Dump()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})

	return cmd
}
