// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
)

func printTable(columnNames []string, values [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(columnNames)

	for _, v := range values {
		table.Append(v)
	}
	table.Render()
}
