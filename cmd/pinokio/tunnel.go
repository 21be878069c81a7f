// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func newCmdTunnel() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunnel",
		Short: "Manipulate public tunnels.",
	}
	setClientFlags(cmd)

	cmd.AddCommand(newCmdTunnelList())
	cmd.AddCommand(newCmdTunnelOpen())
	cmd.AddCommand(newCmdTunnelStatus())
	cmd.AddCommand(newCmdTunnelClose())

	return cmd
}

func newCmdTunnelList() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tunnels in the url book.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			tunnels, err := client.ListTunnels()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(tunnels))
			for _, tunnel := range tunnels {
				rows = append(rows, []string{
					tunnel.ID,
					string(tunnel.Provider),
					strconv.Itoa(tunnel.LocalPort),
					string(tunnel.Status),
					tunnel.URL,
				})
			}
			return output(flags, tunnels, []string{"ID", "PROVIDER", "PORT", "STATUS", "URL"}, rows)
		},
	}

	return cmd
}

func newCmdTunnelOpen() *cobra.Command {
	var flags clientFlags
	var provider string
	var port int
	var appID string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a tunnel to a local port.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			if port <= 0 {
				return model.NewError(model.ErrInvalidInput, "--port is required")
			}

			client := model.NewClient(flags.serverAddress)
			tunnel, err := client.OpenTunnel(&model.OpenTunnelRequest{
				Provider: model.TunnelProvider(provider),
				Port:     port,
				Options:  model.TunnelOptions{AppID: appID},
			})
			if err != nil {
				return err
			}

			return printJSON(tunnel)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", string(model.ProviderCloudflare), "Tunnel provider: ngrok, cloudflare, localtunnel, serveo, custom.")
	cmd.Flags().IntVar(&port, "port", 0, "Local port to expose.")
	cmd.Flags().StringVar(&appID, "app", "", "App id to associate with the tunnel.")

	return cmd
}

func newCmdTunnelStatus() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "status <tunnel>",
		Short: "Show one tunnel's status and analytics.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			tunnel, err := client.GetTunnel(args[0])
			if err != nil {
				return err
			}

			return printJSON(tunnel)
		},
	}

	return cmd
}

func newCmdTunnelClose() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "close <tunnel>",
		Short: "Close a tunnel; closing twice is not an error.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			if err := client.CloseTunnel(args[0]); err != nil {
				return err
			}

			logger.Infof("Closed tunnel %s", args[0])
			return nil
		},
	}

	return cmd
}
