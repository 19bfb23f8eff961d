// Package cdp drives a Chromium tab over the DevTools protocol with chromedp.
// It either launches a browser or attaches to one the operator already has
// open, which is how forms behind a manual login are filled.
package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

const launchTimeout = 30 * time.Second

// Page is one chromedp tab.
type Page struct {
	logger     *zap.Logger
	navTimeout time.Duration
	attached   bool

	tabCtx    context.Context
	cancelTab context.CancelFunc
	cancels   []context.CancelFunc
}

// Open launches Chromium, or attaches to cfg.RemoteURL when it is set.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Page{
		logger:     logger.Named("cdp"),
		navTimeout: cfg.NavigationTimeout,
		attached:   cfg.RemoteURL != "",
	}
	var err error
	if p.attached {
		err = p.attach(ctx, cfg)
	} else {
		err = p.launch(ctx, cfg)
	}
	if err != nil {
		p.release()
		return nil, err
	}
	return p, nil
}

func (p *Page) launch(ctx context.Context, cfg config.BrowserConfig) error {
	p.logger.Info("Launching browser.", zap.Bool("headless", cfg.Headless))
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	p.cancels = append(p.cancels, allocCancel)

	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(p.logger.Sugar().Debugf))
	p.tabCtx, p.cancelTab = tabCtx, tabCancel

	// The first Run starts the browser and must not carry a deadline, or the
	// deadline would end the whole process.
	if err := chromedp.Run(tabCtx); err != nil {
		return fmt.Errorf("browser failed to start: %w", err)
	}
	checkCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()
	if err := p.run(checkCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("browser failed to respond: %w", err)
	}
	p.logger.Info("Browser launched.")
	return nil
}

func (p *Page) attach(ctx context.Context, cfg config.BrowserConfig) error {
	p.logger.Info("Attaching to running browser.", zap.String("remote_url", cfg.RemoteURL))
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	p.cancels = append(p.cancels, allocCancel)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(p.logger.Sugar().Debugf))
	p.cancels = append(p.cancels, browserCancel)
	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.RemoteURL, err)
	}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return fmt.Errorf("failed to list browser targets: %w", err)
	}
	info, err := pickTarget(targets, cfg.TargetURLContains)
	if err != nil {
		return err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(info.TargetID))
	p.tabCtx, p.cancelTab = tabCtx, tabCancel
	if err := chromedp.Run(tabCtx); err != nil {
		return fmt.Errorf("failed to attach to tab %s: %w", info.URL, err)
	}
	p.logger.Info("Attached to tab.", zap.String("url", info.URL), zap.String("title", info.Title))
	return nil
}

// Evaluate runs expression in the tab and returns its string result.
func (p *Page) Evaluate(ctx context.Context, expression string) (string, error) {
	var out string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exc, err := runtime.Evaluate(expression).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("page script threw: %s", describeException(exc))
		}
		return decodeString(res, &out)
	}))
	return out, err
}

// Navigate loads url and waits for the load event, bounded by the
// configured navigation timeout.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()
	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Close releases the tab. A launched browser is shut down; an attached one
// is only disconnected from.
func (p *Page) Close() error {
	var err error
	if p.tabCtx != nil && !p.attached {
		err = chromedp.Cancel(p.tabCtx)
	}
	p.release()
	return err
}

func (p *Page) release() {
	if p.cancelTab != nil {
		p.cancelTab()
	}
	for i := len(p.cancels) - 1; i >= 0; i-- {
		p.cancels[i]()
	}
	p.cancels = nil
}

// run executes actions against the tab. It is bound to ctx through a child
// of the tab context, so ending ctx stops the actions without closing the tab.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.tabCtx == nil {
		return fmt.Errorf("tab is not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// allocatorOptions starts from chromedp's defaults without the automation
// flag, then applies the configured flags.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	for _, arg := range cfg.Args {
		name, value := parseArg(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseArg turns "--name=value" into a flag name and value; a bare
// "--name" is a boolean switch.
func parseArg(arg string) (string, interface{}) {
	parts := strings.SplitN(strings.TrimSpace(arg), "=", 2)
	name := strings.TrimLeft(parts[0], "-")
	if len(parts) == 2 {
		return name, parts[1]
	}
	return name, true
}

// pickTarget chooses the tab to drive: the first page whose URL contains
// urlContains, or the first non-blank page when no filter is given.
func pickTarget(targets []*target.Info, urlContains string) (*target.Info, error) {
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if urlContains == "" {
			if t.URL != "about:blank" {
				return t, nil
			}
			continue
		}
		if strings.Contains(t.URL, urlContains) {
			return t, nil
		}
	}
	if urlContains == "" {
		return nil, fmt.Errorf("no open tab to attach to")
	}
	return nil, fmt.Errorf("no open tab matches %q", urlContains)
}

func describeException(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

func decodeString(res *runtime.RemoteObject, out *string) error {
	if res == nil || res.Type != runtime.TypeString {
		kind := "nothing"
		if res != nil {
			kind = string(res.Type)
		}
		return fmt.Errorf("page script returned %s, want a string", kind)
	}
	if err := jsoniter.Unmarshal([]byte(res.Value), out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}
