// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func newCmdWebhook() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manipulate state change webhooks.",
	}
	setClientFlags(cmd)

	cmd.AddCommand(newCmdWebhookList())
	cmd.AddCommand(newCmdWebhookCreate())
	cmd.AddCommand(newCmdWebhookDelete())

	return cmd
}

func newCmdWebhookList() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered webhooks.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			webhooks, err := client.ListWebhooks()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(webhooks))
			for _, webhook := range webhooks {
				rows = append(rows, []string{webhook.ID, webhook.OwnerID, webhook.URL})
			}
			return output(flags, webhooks, []string{"ID", "OWNER", "URL"}, rows)
		},
	}

	return cmd
}

func newCmdWebhookCreate() *cobra.Command {
	var flags clientFlags
	var owner string
	var url string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a webhook for state change events.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			webhook, err := client.CreateWebhook(&model.CreateWebhookRequest{OwnerID: owner, URL: url})
			if err != nil {
				return err
			}

			return printJSON(webhook)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "An opaque identifier describing the owner of the webhook.")
	cmd.Flags().StringVar(&url, "url", "", "The callback URL of the webhook.")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func newCmdWebhookDelete() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "delete <webhook>",
		Short: "Delete a webhook.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			if err := client.DeleteWebhook(args[0]); err != nil {
				return err
			}

			logger.Infof("Deleted webhook %s", args[0])
			return nil
		},
	}

	return cmd
}
