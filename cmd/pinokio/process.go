// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func newCmdProcess() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Manipulate processes tracked by the supervisor.",
	}
	setClientFlags(cmd)

	cmd.AddCommand(newCmdProcessList())
	cmd.AddCommand(newCmdProcessStop())
	cmd.AddCommand(newCmdProcessRestart())

	return cmd
}

func newCmdProcessList() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List supervised processes.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			records, err := client.ListProcesses()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				ports := ""
				for i, port := range record.PortsOwned {
					if i > 0 {
						ports += ","
					}
					ports += strconv.Itoa(port)
				}
				rows = append(rows, []string{
					record.ID,
					record.AppID,
					strconv.Itoa(record.PID),
					string(record.Status),
					ports,
					strconv.Itoa(record.RestartCount),
				})
			}
			return output(flags, records, []string{"ID", "APP", "PID", "STATUS", "PORTS", "RESTARTS"}, rows)
		},
	}

	return cmd
}

func newCmdProcessStop() *cobra.Command {
	var flags clientFlags
	var grace int
	var forceAfter int

	cmd := &cobra.Command{
		Use:   "stop <process>",
		Short: "Stop a supervised process.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			err := client.StopProcess(args[0], &model.StopProcessRequest{
				GraceSeconds:      grace,
				ForceAfterSeconds: forceAfter,
			})
			if err != nil {
				return err
			}

			logger.Infof("Stopped process %s", args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&grace, "grace", 10, "Seconds to wait for graceful shutdown.")
	cmd.Flags().IntVar(&forceAfter, "force-after", 5, "Seconds before escalating to SIGKILL.")

	return cmd
}

func newCmdProcessRestart() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "restart <process>",
		Short: "Restart a supervised process with its original command.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			if err := client.RestartProcess(args[0]); err != nil {
				return err
			}

			logger.Infof("Restarted process %s", args[0])
			return nil
		},
	}

	return cmd
}
