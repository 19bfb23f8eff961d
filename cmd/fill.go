package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/form"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/render"
	"github.com/xkilldash9x/formpilot/internal/reporting"
	"github.com/xkilldash9x/formpilot/internal/sequencer"
)

// session is a live page the fill command drives.
type session interface {
	Tree() render.Tree
	Goto(ctx context.Context, url string) error
	Close() error
}

// sessionOpener opens a session.
type sessionOpener func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (session, error)

// sessionFactory is read when the command tree is built; tests replace it
// with one backed by an in-memory tree.
var sessionFactory sessionOpener = openBrowserSession

func openBrowserSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (session, error) {
	s, err := browser.NewSession(ctx, cfg, "", logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// reportOptions are the output flags shared by fill and dry-run.
type reportOptions struct {
	format string
	output string
	strict bool
}

func (o *reportOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", "text", "report format: text or json")
	cmd.Flags().StringVarP(&o.output, "output", "o", "stdout", "report destination file, or stdout")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "exit non-zero when any step fails")
}

// reporter writes to the command's output for stdout, so tests can capture it.
func (o *reportOptions) reporter(cmd *cobra.Command) (reporting.Reporter, error) {
	if o.output == "" || o.output == "stdout" {
		return reporting.ToWriter(o.format, cmd.OutOrStdout())
	}
	return reporting.New(o.format, o.output)
}

func newFillCmd(cfg *config.Config, open sessionOpener) *cobra.Command {
	var (
		pages     []string
		url       string
		engine    string
		remoteURL string
		headless  bool
		framework string
		out       reportOptions
	)

	fillCmd := &cobra.Command{
		Use:   "fill <form.yaml>",
		Short: "Fill one or more pages of a form in a live browser",
		Long: `Fill loads a form definition and fills its pages in order in a live
browser. Each page is opened at its url unless the page has none, in which
case the document already showing is filled. With --remote-url the command
attaches to a running Chrome (started with --remote-debugging-port) so that
pages behind a manual login can be filled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			def, err := form.LoadFile(args[0])
			if err != nil {
				return err
			}
			selected, err := selectPages(def, pages)
			if err != nil {
				return err
			}
			if url != "" && len(selected) != 1 {
				return fmt.Errorf("--url needs exactly one page, got %d", len(selected))
			}

			// Flags override the config file and environment.
			if cmd.Flags().Changed("engine") {
				cfg.SetBrowserEngine(engine)
			}
			if cmd.Flags().Changed("remote-url") {
				cfg.SetBrowserRemoteURL(remoteURL)
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if framework == "" {
				framework = def.Framework
			}

			reporter, err := out.reporter(cmd)
			if err != nil {
				return err
			}

			sess, err := open(ctx, cfg.Browser(), logger)
			if err != nil {
				return errors.Join(fmt.Errorf("failed to open browser: %w", err), reporter.Close())
			}
			defer func() {
				if err := sess.Close(); err != nil {
					logger.Warn("Failed to close browser.", zap.Error(err))
				}
			}()

			runner := &pageRunner{cfg: cfg, def: def, framework: framework, reporter: reporter, logger: logger}
			for _, page := range selected {
				target := page.URL
				if url != "" {
					target = url
				}
				if target != "" {
					logger.Info("Opening page.", zap.String("page", page.Name), zap.String("url", target))
					if err := sess.Goto(ctx, target); err != nil {
						return errors.Join(err, reporter.Close())
					}
				} else {
					logger.Info("Page has no url; filling the current document.", zap.String("page", page.Name))
				}
				if err := runner.run(ctx, sess.Tree(), page); err != nil {
					return errors.Join(err, reporter.Close())
				}
			}
			if err := reporter.Close(); err != nil {
				return err
			}
			return runner.verdict(out.strict)
		},
	}

	fillCmd.Flags().StringSliceVarP(&pages, "page", "p", nil, "page to fill (repeatable; default all pages in order)")
	fillCmd.Flags().StringVar(&url, "url", "", "open this url instead of the page's own (single page only)")
	fillCmd.Flags().StringVar(&engine, "engine", "", "browser engine: chromedp or playwright")
	fillCmd.Flags().StringVar(&remoteURL, "remote-url", "", "attach to a running Chrome at this DevTools url")
	fillCmd.Flags().BoolVar(&headless, "headless", false, "run the browser headless")
	fillCmd.Flags().StringVar(&framework, "framework", "", "override the form's framework: react, vue or native")
	out.register(fillCmd)
	return fillCmd
}

// pageRunner fills pages against a tree and feeds the reports to a reporter.
type pageRunner struct {
	cfg       config.Interface
	def       *form.Definition
	framework string
	reporter  reporting.Reporter
	logger    *zap.Logger

	failed int
	total  int
}

// run fills one page. The report is written even when the run was canceled.
func (r *pageRunner) run(ctx context.Context, tree render.Tree, page form.Page) error {
	seq, err := sequencer.Assemble(tree, r.cfg, r.def.Name, r.framework, r.logger)
	if err != nil {
		return err
	}
	report, runErr := seq.Run(ctx, page)
	sum := report.Summary()
	r.failed += sum.Failed
	r.total += sum.Total
	if err := r.reporter.Write(&report); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to write report: %w", err))
	}
	return runErr
}

func (r *pageRunner) verdict(strict bool) error {
	if strict && r.failed > 0 {
		return fmt.Errorf("%d of %d steps failed", r.failed, r.total)
	}
	return nil
}

// selectPages returns the named pages in the order given, or every page.
func selectPages(def *form.Definition, names []string) ([]form.Page, error) {
	if len(names) == 0 {
		return def.Pages, nil
	}
	pages := make([]form.Page, 0, len(names))
	for _, name := range names {
		p, err := def.Page(name)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, nil
}
