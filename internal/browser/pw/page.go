// Package pw drives Chromium or Firefox through playwright-go.
package pw

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

const (
	installTimeout = 5 * time.Minute
	launchTimeout  = 60 * time.Second
)

// evalWrapper runs a source string in the page's global scope. Handing the
// string over as an argument keeps playwright from guessing whether it is a
// function.
const evalWrapper = `source => (0, eval)(source)`

// Page is one playwright page in its own browser.
type Page struct {
	logger     *zap.Logger
	navTimeout time.Duration

	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

// Open starts the playwright driver, launches cfg.BrowserType and opens a
// blank page. With cfg.Install the driver and browser are downloaded first.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Page{logger: logger.Named("playwright"), navTimeout: cfg.NavigationTimeout}

	if cfg.Install {
		if err := p.ensureInstallation(ctx, cfg.BrowserType); err != nil {
			return nil, err
		}
	}

	driver, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	p.pw = driver

	browserType := driver.Chromium
	if cfg.BrowserType == "firefox" {
		browserType = driver.Firefox
	}
	p.logger.Info("Launching browser.", zap.String("browser_type", cfg.BrowserType), zap.Bool("headless", cfg.Headless))
	browser, err := browserType.Launch(launchOptions(cfg))
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to launch %s: %w", cfg.BrowserType, err)
	}
	p.browser = browser

	p.page, err = p.browser.NewPage()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	p.logger.Info("Browser launched.", zap.String("browser_version", p.browser.Version()))
	return p, nil
}

func (p *Page) ensureInstallation(ctx context.Context, browserType string) error {
	p.logger.Info("Verifying Playwright browser installation...", zap.String("browser_type", browserType))
	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	// Install blocks without a context.
	errCh := make(chan error, 1)
	go func() {
		errCh <- playwright.Install(&playwright.RunOptions{Browsers: []string{browserType}})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

// Evaluate runs expression in the page and returns its string result.
func (p *Page) Evaluate(ctx context.Context, expression string) (string, error) {
	return withContext(ctx, func() (string, error) {
		v, err := p.page.Evaluate(evalWrapper, expression)
		if err != nil {
			return "", err
		}
		return asString(v)
	})
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	timeout := p.navTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	_, err := withContext(ctx, func() (playwright.Response, error) {
		return p.page.Goto(url, playwright.PageGotoOptions{
			Timeout:   playwright.Float(float64(timeout.Milliseconds())),
			WaitUntil: playwright.WaitUntilStateLoad,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Close shuts the browser and the driver down, returning the first error.
func (p *Page) Close() error {
	var firstErr error
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			p.logger.Error("Failed to close browser instance.", zap.Error(err))
			firstErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			p.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to stop playwright driver: %w", err)
			}
		}
	}
	return firstErr
}

func launchOptions(cfg config.BrowserConfig) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Timeout:  playwright.Float(float64(launchTimeout.Milliseconds())),
	}
	var args []string
	if cfg.BrowserType != "firefox" {
		// Stability flags for containers; Chromium only.
		args = append(args, "--disable-gpu", "--no-sandbox", "--disable-dev-shm-usage")
	}
	opts.Args = append(args, cfg.Args...)
	return opts
}

// withContext runs a blocking playwright call and returns early when ctx
// ends. The call itself keeps running until playwright returns.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("page script returned %T, want a string", v)
	}
	return s, nil
}
