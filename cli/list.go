package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/foomo/geocat-mcp/render"
	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		regionType string
		dump       bool
	)
	cmd := &cobra.Command{
		Use:   "list <type> [search]",
		Short: "List shared objects of a type (contacts, extents, keywords, formats)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := vo.ParseKind(args[0])
			if err != nil {
				return err
			}
			var q string
			if len(args) > 1 {
				q = args[1]
			}
			var validated string
			if kind == vo.KindExtents && regionType != "" {
				validated = "gn:" + regionType
			}

			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			records, err := rt.newService().LoadRecords(cmd.Context(), kind, q, validated)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dump {
				spew.Fdump(out, records)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVALIDATED\tDESCRIPTION")
			for _, record := range records {
				desc, err := render.Description(record.Desc)
				if err != nil {
					desc = vo.Markdown(record.Desc)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\n", record.ID, bool(record.Validated), oneLine(string(desc)))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&regionType, "region-type", "", "Only list extents of this region type, e.g. kantone")
	cmd.Flags().BoolVar(&dump, "dump", false, "Dump the raw records")
	return cmd
}

func oneLine(s string) string {
	const maxWidth = 80
	runes := []rune(s)
	for i, r := range runes {
		if r == '\n' || r == '\r' {
			runes[i] = ' '
		}
	}
	if len(runes) > maxWidth {
		return string(runes[:maxWidth-1]) + "…"
	}
	return string(runes)
}
