// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/internal/store"
)

func newCmdSchema() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manipulate the metadata index schema.",
	}

	cmd.AddCommand(newCmdSchemaMigrate())

	return cmd
}

func newCmdSchemaMigrate() *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the metadata index to the latest schema.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true

			sqlStore, err := store.New(database, logger)
			if err != nil {
				return err
			}
			defer sqlStore.Close()

			return sqlStore.Migrate()
		},
	}
	cmd.Flags().StringVar(&database, "database", "sqlite3://pinokio.db", "The sqlite dsn of the metadata index.")

	return cmd
}
