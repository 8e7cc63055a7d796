package render

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// printTable renders a borderless, left-aligned table in the style of
// kubectl get output.
func printTable(w io.Writer, tab Tabular) error {
	t := tablewriter.NewWriter(w)
	t.SetHeader(tab.TableHeader())
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(true)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetTablePadding("   ")
	t.SetNoWhiteSpace(true)
	t.AppendBulk(tab.TableRows())
	t.Render()
	return nil
}
