// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// setClientFlags registers the flags shared by every client subcommand.
func setClientFlags(command *cobra.Command) {
	command.PersistentFlags().String("server", defaultLocalServerAPI, "The control plane server whose API will be queried.")
	command.PersistentFlags().Bool("json", false, "Output the data as raw JSON instead of a table.")
}

type clientFlags struct {
	serverAddress string
	outputJSON    bool
}

func (flags *clientFlags) addFlags(command *cobra.Command) {
	flags.serverAddress, _ = command.Flags().GetString("server")
	flags.outputJSON, _ = command.Flags().GetBool("json")
}

// printJSON writes the value to stdout as indented JSON.
func printJSON(value interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "    ")
	return encoder.Encode(value)
}

// output prints the value as JSON when requested, otherwise via the table
// renderer.
func output(flags clientFlags, value interface{}, columns []string, rows [][]string) error {
	if flags.outputJSON || len(columns) == 0 {
		return printJSON(value)
	}

	printTable(columns, rows)
	return nil
}

func boolString(b bool) string {
	return fmt.Sprintf("%t", b)
}
