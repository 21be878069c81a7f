// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func newCmdMetrics() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Inspect system telemetry and alerts.",
	}
	setClientFlags(cmd)

	cmd.AddCommand(newCmdMetricsCurrent())
	cmd.AddCommand(newCmdMetricsHistory())
	cmd.AddCommand(newCmdAlerts())

	return cmd
}

func newCmdMetricsCurrent() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show the most recent telemetry sample.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			sample, err := client.CurrentMetrics()
			if err != nil {
				return err
			}

			return printJSON(sample)
		},
	}

	return cmd
}

func newCmdMetricsHistory() *cobra.Command {
	var flags clientFlags
	var window int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show telemetry samples within a trailing window.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			history, err := client.MetricsHistory(window)
			if err != nil {
				return err
			}

			return printJSON(history)
		},
	}
	cmd.Flags().IntVar(&window, "window", 3600, "Window size in seconds.")

	return cmd
}

func newCmdAlerts() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List open and recently closed alerts.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			alerts, err := client.ListAlerts()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(alerts))
			for _, alert := range alerts {
				state := "open"
				if !alert.IsOpen() {
					state = "closed"
				}
				rows = append(rows, []string{
					alert.ID,
					alert.Metric,
					string(alert.Severity),
					fmt.Sprintf("%.1f", alert.Value),
					fmt.Sprintf("%.1f", alert.Threshold),
					state,
				})
			}
			return output(flags, alerts, []string{"ID", "METRIC", "SEVERITY", "VALUE", "THRESHOLD", "STATE"}, rows)
		},
	}

	return cmd
}
