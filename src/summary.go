package pix2pix

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Summary writes per-block channel widths and parameter counts for both
// networks.
func (m *Model) Summary(w io.Writer) error {
	fmt.Fprintf(w, "pix2pix model %s (%s)\n\n", m.runID, m.opts.Direction)

	rows := make([][]string, 0, len(m.netG.blocks))
	for d, b := range m.netG.blocks {
		s := b.stage
		rows = append(rows, []string{
			strconv.Itoa(d),
			s.Variant.String(),
			fmt.Sprintf("%d->%d", s.ConvIn, s.ConvOut),
			fmt.Sprintf("%d->%d", s.UpIn, s.UpOut),
			strconv.FormatBool(s.Dropout),
			strconv.Itoa(b.ownParams()),
		})
	}
	renderTable(w, []string{"DEPTH", "VARIANT", "CONV", "UP", "DROPOUT", "PARAMS"}, rows)

	rows = rows[:0]
	for i, st := range m.netD.stages {
		rows = append(rows, []string{
			strconv.Itoa(i),
			strconv.Itoa(m.netD.widths[i]),
			strconv.Itoa(countParams(st.parameters())),
		})
	}
	rows = append(rows, []string{"final", "1", strconv.Itoa(countParams(m.netD.final.parameters()))})
	renderTable(w, []string{"STAGE", "WIDTH", "PARAMS"}, rows)

	rows = rows[:0]
	for _, info := range m.FreezeInfo() {
		rows = append(rows, []string{info.Net.String(), strconv.Itoa(info.Parameters), strconv.FormatBool(info.Frozen)})
	}
	renderTable(w, []string{"NET", "PARAMS", "FROZEN"}, rows)
	return nil
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
	fmt.Fprintln(w)
}

// RenderLosses writes the current losses as a two-column table.
func RenderLosses(w io.Writer, losses []Scalar) {
	rows := make([][]string, len(losses))
	for i, l := range losses {
		rows[i] = []string{l.Name, strconv.FormatFloat(l.Value, 'f', 4, 64)}
	}
	renderTable(w, []string{"LOSS", "VALUE"}, rows)
}
