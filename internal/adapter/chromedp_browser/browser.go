package chromedp_browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/repository"
)

// Options configures the Chrome sessions started by a factory.
type Options struct {
	Headless bool
	// BaseURL resolves relative document links.
	BaseURL string
	// PhaseWait is how long the page is given to render the national phase view after it is opened.
	PhaseWait time.Duration
}

// Browser is one Chrome process. Pages opened on it run in separate browser
// contexts, so they share no cookies or storage.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	identities  *IdentityPool
	opts        Options
	logger      *zap.Logger
	closeOnce   sync.Once
	closeErr    error
}

// NewFactory returns a repository.BrowserFactory that starts a Chrome session per call,
// each behind the next proxy of identities.
func NewFactory(opts Options, identities *IdentityPool, logger *zap.Logger) repository.BrowserFactory {
	return func(ctx context.Context) (repository.Browser, error) {
		return New(ctx, opts, identities, logger)
	}
}

// New launches Chrome. ctx bounds the start-up only; the session lives until Close.
func New(ctx context.Context, opts Options, identities *IdentityPool, logger *zap.Logger) (*Browser, error) {
	if identities == nil {
		identities = NewIdentityPool(nil, nil)
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(viewportWidth, viewportHeight),
		chromedp.UserAgent(identities.UserAgent()),
	)
	proxy := identities.Proxy()
	if proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(browserCtx)
	if !stop() {
		err = fmt.Errorf("chrome start-up interrupted: %w", ctx.Err())
	}
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	logger.Info("Browser started", zap.Bool("headless", opts.Headless), zap.Bool("proxy", proxy != ""))
	return &Browser{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		identities:  identities,
		opts:        opts,
		logger:      logger.Named("browser"),
	}, nil
}

// NewPage opens a tab in a fresh browser context with a random identity.
func (b *Browser) NewPage(ctx context.Context) (repository.Page, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, fmt.Errorf("browser closed: %w", err)
	}
	tabCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())

	setupCtx, setupCancel := context.WithTimeout(tabCtx, pageSetupTimeout)
	defer setupCancel()
	stop := context.AfterFunc(ctx, setupCancel)
	defer stop()

	if err := chromedp.Run(setupCtx, stealth(b.identities.UserAgent())); err != nil {
		cancel()
		return nil, fmt.Errorf("prepare page: %w", err)
	}
	return &Page{ctx: tabCtx, cancel: cancel, opts: b.opts, logger: b.logger}, nil
}

// Close terminates Chrome and every page still open on it.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = chromedp.Cancel(b.ctx)
		b.allocCancel()
		b.logger.Info("Browser closed")
	})
	return b.closeErr
}
