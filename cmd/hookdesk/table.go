package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
)

func newTable(headers ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header(headers...)
	return table
}
