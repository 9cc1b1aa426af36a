package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/livepdf/internal/scroll"
)

const (
	mapCmdUse   = "map"
	mapCmdShort = "Compute the preview scroll target for a document position"
	mapCmdLong  = `Compute where the preview scrolls for an editor position, or with
--ratio, which editor position a preview scroll ratio corresponds to.

Page heights are optional; when given, the target is also reported as a
page and an offset within it.`
)

// Errors returned by the map command.
var (
	ErrNoLines         = errors.New("total lines must be positive")
	ErrInvalidPosition = errors.New("invalid document position")
)

type mapCommand struct {
	globals  *Globals
	line     int
	fraction float64
	total    int
	pages    []float64
	ratio    float64
}

// NewMapCommand creates the map subcommand.
func NewMapCommand(g *Globals) *cobra.Command {
	mc := &mapCommand{globals: g}

	cmd := &cobra.Command{
		Use:   mapCmdUse,
		Short: mapCmdShort,
		Long:  mapCmdLong,
		Args:  cobra.NoArgs,
		RunE:  mc.run,
	}

	cmd.Flags().IntVarP(&mc.line, "line", "l", 0, "zero-based top visible line")
	cmd.Flags().Float64VarP(&mc.fraction, "fraction", "f", 0, "scrolled fraction of the top line (0-1)")
	cmd.Flags().IntVarP(&mc.total, "total", "t", 0, "total lines in the document")
	cmd.Flags().Float64SliceVarP(&mc.pages, "pages", "p", nil, "page heights in points, comma separated")
	cmd.Flags().Float64VarP(&mc.ratio, "ratio", "r", 0, "preview scroll ratio to map back to a line")

	return cmd
}

func (mc *mapCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := mc.globals.loadConfig()
	if err != nil {
		return err
	}
	mapper, err := scroll.NewMapper(cfg.ScrollConfig())
	if err != nil {
		return err
	}
	if mc.total <= 0 {
		return ErrNoLines
	}

	pages := scroll.PageGeometry(mc.pages)
	tbl := table.NewWriter()
	tbl.SetOutputMirror(cmd.OutOrStdout())
	tbl.SetStyle(table.StyleLight)

	if cmd.Flags().Changed("ratio") {
		pos := mapper.DocumentPosition(mc.ratio, pages, mc.total)
		tbl.AppendHeader(table.Row{"Ratio", "Line", "Fraction", "Total"})
		tbl.AppendRow(table.Row{formatFloat(mc.ratio), pos.Line, formatFloat(pos.Fraction), pos.TotalLines})
		tbl.Render()
		return nil
	}

	if mc.line < 0 || mc.fraction < 0 || mc.fraction > 1 {
		return fmt.Errorf("line %d fraction %v: %w", mc.line, mc.fraction, ErrInvalidPosition)
	}
	pos := scroll.Position{Line: mc.line, Fraction: mc.fraction, TotalLines: mc.total}
	st := mapper.State(pos, pages)

	tbl.AppendHeader(table.Row{"Raw", "Ratio", "Offset", "Page", "Page Offset"})
	tbl.AppendRow(table.Row{
		formatFloat(pos.Raw()),
		formatFloat(st.Ratio),
		formatPageValue(st.Page, st.Offset),
		formatPage(st.Page),
		formatPageValue(st.Page, st.PageOffset),
	})
	tbl.Render()
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// formatPage renders a zero-based page index as one-based.
func formatPage(page int) string {
	if page < 0 {
		return "-"
	}
	return strconv.Itoa(page + 1)
}

func formatPageValue(page int, v float64) string {
	if page < 0 {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
