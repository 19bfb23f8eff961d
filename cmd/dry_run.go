package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/form"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/render/memtree"
)

func newDryRunCmd(cfg *config.Config) *cobra.Command {
	var (
		pageName  string
		htmlOut   string
		framework string
		out       reportOptions
	)

	dryRunCmd := &cobra.Command{
		Use:   "dry-run <form.yaml> <page.html>",
		Short: "Fill a saved HTML snapshot offline",
		Long: `Dry-run fills one page of a form against a saved HTML document instead
of a live browser. Script blocks of type text/x-formpilot-fixture in the
document stand in for the page's framework (handlers, dropdowns that render on
click). The filled document can be written out with --html-out.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			def, err := form.LoadFile(args[0])
			if err != nil {
				return err
			}
			page, err := pickPage(def, pageName)
			if err != nil {
				return err
			}

			docPath, err := homedir.Expand(args[1])
			if err != nil {
				return fmt.Errorf("failed to expand document path: %w", err)
			}
			tree, err := memtree.Load(docPath, memtree.WithLogger(logger))
			if err != nil {
				return err
			}

			if framework == "" {
				framework = def.Framework
			}
			reporter, err := out.reporter(cmd)
			if err != nil {
				return err
			}
			runner := &pageRunner{cfg: cfg, def: def, framework: framework, reporter: reporter, logger: logger}
			if err := runner.run(ctx, tree, page); err != nil {
				return errors.Join(err, reporter.Close())
			}
			if err := reporter.Close(); err != nil {
				return err
			}

			if htmlOut != "" {
				if err := writeDocument(tree, htmlOut); err != nil {
					return err
				}
				logger.Info("Filled document written.", zap.String("path", htmlOut))
			}
			return runner.verdict(out.strict)
		},
	}

	dryRunCmd.Flags().StringVarP(&pageName, "page", "p", "", "page to fill (required when the form has several)")
	dryRunCmd.Flags().StringVar(&htmlOut, "html-out", "", "write the filled document to this file")
	dryRunCmd.Flags().StringVar(&framework, "framework", "", "override the form's framework: react, vue or native")
	out.register(dryRunCmd)
	return dryRunCmd
}

// pickPage returns the named page, or the only page when no name is given.
func pickPage(def *form.Definition, name string) (form.Page, error) {
	if name != "" {
		return def.Page(name)
	}
	if len(def.Pages) != 1 {
		return form.Page{}, fmt.Errorf("form %q has %d pages; choose one with --page", def.Name, len(def.Pages))
	}
	return def.Pages[0], nil
}

func writeDocument(tree *memtree.Tree, path string) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand output path: %w", err)
	}
	f, err := os.Create(expanded)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", expanded, err)
	}
	if err := tree.WriteHTML(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	return f.Close()
}
