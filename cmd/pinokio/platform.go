// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/internal/platform"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

func newCmdPlatform() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platform",
		Short: "Inspect the detected hosting platform.",
	}

	cmd.AddCommand(newCmdPlatformDetect())
	cmd.AddCommand(newCmdPlatformCapabilities())

	return cmd
}

// newCmdPlatformDetect runs detection locally; it needs no server.
func newCmdPlatformDetect() *cobra.Command {
	var basePath string
	var override string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect the hosting platform of this machine.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true

			detector := platform.NewDetector(logger, model.PlatformKind(override), basePath)
			return printJSON(detector.Detect())
		},
	}
	cmd.Flags().StringVar(&basePath, "base-path", "", "Override the detected base path.")
	cmd.Flags().StringVar(&override, "platform-override", "", "Skip detection and assume this platform kind.")

	return cmd
}

func newCmdPlatformCapabilities() *cobra.Command {
	var required string

	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Validate required capabilities against this machine.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true

			detector := platform.NewDetector(logger, "", "")
			detected := detector.Detect()

			names := strings.Split(required, ",")
			check := platform.ValidateCapabilities(detected, names, nil)
			return printJSON(check)
		},
	}
	cmd.Flags().StringVar(&required, "required", "gpu,outbound_network", "Comma-separated capability names to validate.")

	return cmd
}
