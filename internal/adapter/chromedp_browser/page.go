package chromedp_browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
)

const (
	viewportWidth    = 1920
	viewportHeight   = 1080
	pageSetupTimeout = 15 * time.Second
	pollInterval     = 500 * time.Millisecond
)

const webdriverMask = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
window.chrome = { runtime: {} };
`

const clickNationalPhase = `(() => {
	const el = Array.from(document.querySelectorAll('a, button'))
		.find(e => e.textContent.includes('National Phase'));
	if (!el) return false;
	el.click();
	return true;
})()`

// stealth applies the client identity to a fresh tab.
func stealth(userAgent string) chromedp.Tasks {
	return chromedp.Tasks{
		emulation.SetUserAgentOverride(userAgent).WithAcceptLanguage("en-US,en;q=0.9"),
		emulation.SetDeviceMetricsOverride(viewportWidth, viewportHeight, 1, false),
		emulation.SetLocaleOverride().WithLocale("en-US"),
		emulation.SetTimezoneOverride("America/New_York"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(webdriverMask).Do(ctx)
			return err
		}),
	}
}

// Page is one tab in its own browser context.
type Page struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opts      Options
	logger    *zap.Logger
	closeOnce sync.Once
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) (repository.NavigationResult, error) {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return repository.NavigationResult{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return repository.NavigationResult{}, fmt.Errorf("%w after %s: %s", repository.ErrNavigationTimeout, timeout, url)
	default:
		return repository.NavigationResult{}, fmt.Errorf("%w: %v", repository.ErrNavigationFailed, err)
	}

	if resp == nil {
		return repository.NavigationResult{}, nil
	}
	status := int(resp.Status)
	return repository.NavigationResult{Status: status, OK: status >= 200 && status <= 299}, nil
}

func (p *Page) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) bool {
	quoted := make([]string, len(selectors))
	for i, s := range selectors {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	js := fmt.Sprintf("[%s].some(s => document.querySelector(s) !== null)", strings.Join(quoted, ","))

	deadline := time.Now().Add(timeout)
	for {
		var found bool
		if err := p.run(ctx, pollInterval, chromedp.Evaluate(js, &found)); err == nil && found {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(min(pollInterval, remaining)):
		}
	}
}

func (p *Page) Scroll(ctx context.Context, target repository.ScrollTarget) error {
	js := "window.scrollTo(0, 0); true"
	if target == repository.ScrollBottom {
		js = "window.scrollTo(0, document.body.scrollHeight); true"
	}
	var ok bool
	return p.run(ctx, pageSetupTimeout, chromedp.Evaluate(js, &ok))
}

// Scrape reads the bibliographic fields from the detail view, then opens the national
// phase view when the page offers one and reads the family countries and download link
// from it. The second phase is best-effort.
func (p *Page) Scrape(ctx context.Context) (*entity.Attributes, error) {
	html, err := p.outerHTML(ctx)
	if err != nil {
		return nil, err
	}
	attrs, err := ParseBibliographic(html)
	if err != nil {
		return nil, err
	}

	var clicked bool
	if err := p.run(ctx, pageSetupTimeout, chromedp.Evaluate(clickNationalPhase, &clicked)); err != nil {
		p.logger.Debug("National phase view unavailable", zap.Error(err))
	}
	if clicked {
		if p.opts.PhaseWait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.opts.PhaseWait):
			}
		}
		if phase, err := p.outerHTML(ctx); err != nil {
			p.logger.Debug("National phase view unreadable", zap.Error(err))
		} else {
			html = phase
		}
	}

	countries, link, err := ParseFamily(html, p.opts.BaseURL)
	if err != nil {
		p.logger.Debug("Family data unparsable", zap.Error(err))
		return attrs, nil
	}
	attrs.FamilyCountries, attrs.DocumentLink = countries, link
	return attrs, nil
}

func (p *Page) outerHTML(ctx context.Context) (string, error) {
	timeout := time.Minute
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	var html string
	if err := p.run(ctx, timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Close closes the tab and disposes of its browser context.
func (p *Page) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
