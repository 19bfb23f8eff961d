package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/form"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <form.yaml>",
		Short: "Check a form definition without opening a browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := form.LoadFile(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Form %s is valid.\n", def.Name)
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PAGE\tFIELDS\tSECTIONS\tURL")
			for _, p := range def.Pages {
				url := p.URL
				if url == "" {
					url = "-"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", p.Name, len(p.Fields), len(p.Sections), url)
			}
			return tw.Flush()
		},
	}
}
