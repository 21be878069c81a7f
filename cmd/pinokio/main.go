// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package main is the entry point to the PinokioCloud control plane server
// and CLI.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

var instanceID string

var rootCmd = &cobra.Command{
	Use:   "pinokio",
	Short: "Pinokio is a control plane to install, run, and expose AI apps on ephemeral GPU hosts.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		populateEnv(cmd)

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			setLogLevel(level)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Usage()
	},
	SilenceErrors: true,
}

// populateEnv binds every flag to a PINOKIO_* environment variable, flags
// taking precedence.
func populateEnv(cmd *cobra.Command) {
	v := viper.New()
	v.SetEnvPrefix("PINOKIO")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = cmd.Flags().Set(f.Name, v.GetString(f.Name))
		}
	})
}

func init() {
	instanceID = model.NewID()

	rootCmd.PersistentFlags().String("log-level", "", "The logging level: debug, info, warn, error.")

	rootCmd.AddCommand(newCmdServer())
	rootCmd.AddCommand(newCmdApp())
	rootCmd.AddCommand(newCmdProcess())
	rootCmd.AddCommand(newCmdTunnel())
	rootCmd.AddCommand(newCmdCache())
	rootCmd.AddCommand(newCmdMetrics())
	rootCmd.AddCommand(newCmdRecovery())
	rootCmd.AddCommand(newCmdWebhook())
	rootCmd.AddCommand(newCmdPlatform())
	rootCmd.AddCommand(newCmdSchema())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error(err.Error())
		os.Exit(model.ExitCode(err))
	}
}
