// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func newCmdRecovery() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Manipulate error recovery patterns and history.",
	}
	setClientFlags(cmd)

	cmd.AddCommand(newCmdRecoveryPatterns())
	cmd.AddCommand(newCmdRecoveryAddPattern())
	cmd.AddCommand(newCmdRecoveryRemovePattern())
	cmd.AddCommand(newCmdRecoveryHistory())

	return cmd
}

func newCmdRecoveryPatterns() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List registered recovery patterns.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			patterns, err := client.ListRecoveryPatterns()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(patterns))
			for _, pattern := range patterns {
				rows = append(rows, []string{
					pattern.ID,
					pattern.Name,
					string(pattern.Category),
					string(pattern.Severity),
				})
			}
			return output(flags, patterns, []string{"ID", "NAME", "CATEGORY", "SEVERITY"}, rows)
		},
	}

	return cmd
}

func newCmdRecoveryAddPattern() *cobra.Command {
	var flags clientFlags
	var file string

	cmd := &cobra.Command{
		Use:   "add-pattern",
		Short: "Register a recovery pattern from a JSON file.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			data, err := os.ReadFile(file)
			if err != nil {
				return model.WrapError(model.ErrNotFound, err, "failed to read pattern file")
			}

			var pattern model.ErrorPattern
			if err = json.Unmarshal(data, &pattern); err != nil {
				return model.WrapError(model.ErrInvalidInput, err, "pattern file is not valid JSON")
			}

			client := model.NewClient(flags.serverAddress)
			created, err := client.AddRecoveryPattern(&model.AddPatternRequest{Pattern: pattern})
			if err != nil {
				return err
			}

			return printJSON(created)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the pattern JSON file.")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newCmdRecoveryRemovePattern() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "remove-pattern <pattern>",
		Short: "Remove a recovery pattern.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			if err := client.RemoveRecoveryPattern(args[0]); err != nil {
				return err
			}

			logger.Infof("Removed pattern %s", args[0])
			return nil
		},
	}

	return cmd
}

func newCmdRecoveryHistory() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the retained recovery results.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			results, err := client.RecoveryHistory()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(results))
			for _, result := range results {
				rows = append(rows, []string{
					result.ID,
					result.PatternID,
					result.AppID,
					string(result.Action),
					boolString(result.Succeeded),
				})
			}
			return output(flags, results, []string{"ID", "PATTERN", "APP", "ACTION", "SUCCEEDED"}, rows)
		},
	}

	return cmd
}
