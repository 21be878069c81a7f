// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func newCmdApp() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manipulate apps managed by the control plane.",
	}
	setClientFlags(cmd)

	cmd.AddCommand(newCmdAppList())
	cmd.AddCommand(newCmdAppState())
	cmd.AddCommand(newCmdAppAnalyze())
	cmd.AddCommand(newCmdAppInstall())
	cmd.AddCommand(newCmdAppStart())
	cmd.AddCommand(newCmdAppStop())
	cmd.AddCommand(newCmdAppUninstall())

	return cmd
}

func newCmdAppList() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known apps and their states.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			records, err := client.ListApps()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				rows = append(rows, []string{record.AppID, record.Status, record.ProfileHash})
			}
			return output(flags, records, []string{"APP", "STATE", "PROFILE"}, rows)
		},
	}

	return cmd
}

func newCmdAppState() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "state <app>",
		Short: "Show one app's state and health.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			status, err := client.GetAppState(args[0])
			if err != nil {
				return err
			}

			return printJSON(status)
		},
	}

	return cmd
}

func newCmdAppAnalyze() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "analyze <app>",
		Short: "Analyze an app's source tree into a profile.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			profile, err := client.AnalyzeApp(args[0])
			if err != nil {
				return err
			}

			return printJSON(profile)
		},
	}

	return cmd
}

func newCmdAppInstall() *cobra.Command {
	var flags clientFlags
	var inputsJSON string
	var strategy string

	cmd := &cobra.Command{
		Use:   "install <app>",
		Short: "Install an app.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			request := &model.InstallAppRequest{Strategy: model.ResolutionStrategy(strategy)}
			if inputsJSON != "" {
				if err := json.Unmarshal([]byte(inputsJSON), &request.Inputs); err != nil {
					return model.WrapError(model.ErrInvalidInput, err, "inputs must be a JSON object")
				}
			}

			client := model.NewClient(flags.serverAddress)
			handle, err := client.InstallApp(args[0], request)
			if err != nil {
				return err
			}

			return printJSON(handle)
		},
	}
	cmd.Flags().StringVar(&inputsJSON, "inputs", "", "Installer inputs as a JSON object keyed by field id.")
	cmd.Flags().StringVar(&strategy, "strategy", string(model.StrategyUseLatest), "Dependency conflict strategy.")

	return cmd
}

func newCmdAppStart() *cobra.Command {
	var flags clientFlags
	var withTunnel bool
	var daemon bool
	var maxRestarts int

	cmd := &cobra.Command{
		Use:   "start <app>",
		Short: "Start an installed app.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			request := &model.StartAppRequest{Tunnel: withTunnel}
			if daemon {
				request.Daemon = &model.DaemonSpec{
					RestartPolicy: model.RestartOnFailure,
					MaxRestarts:   maxRestarts,
				}
			}

			client := model.NewClient(flags.serverAddress)
			handle, err := client.StartApp(args[0], request)
			if err != nil {
				return err
			}

			return printJSON(handle)
		},
	}
	cmd.Flags().BoolVar(&withTunnel, "tunnel", false, "Open a public tunnel to the app.")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Supervise the app as a daemon with restarts.")
	cmd.Flags().IntVar(&maxRestarts, "max-restarts", 3, "Restart budget for daemon supervision.")

	return cmd
}

func newCmdAppStop() *cobra.Command {
	var flags clientFlags
	var grace int
	var forceAfter int

	cmd := &cobra.Command{
		Use:   "stop <app>",
		Short: "Stop a running app.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			err := client.StopApp(args[0], &model.StopAppRequest{
				GraceSeconds:      grace,
				ForceAfterSeconds: forceAfter,
			})
			if err != nil {
				return err
			}

			logger.Infof("Stopped app %s", args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&grace, "grace", 10, "Seconds to wait for graceful shutdown.")
	cmd.Flags().IntVar(&forceAfter, "force-after", 5, "Seconds before escalating to SIGKILL.")

	return cmd
}

func newCmdAppUninstall() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "uninstall <app>",
		Short: "Uninstall an app, removing its environment.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			if err := client.UninstallApp(args[0]); err != nil {
				return err
			}

			logger.Infof("Uninstalled app %s", args[0])
			return nil
		},
	}

	return cmd
}
