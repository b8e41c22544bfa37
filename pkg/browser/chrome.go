package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	zlog "github.com/rs/zerolog/log"
)

const defaultOpTimeout = 5 * time.Second

const (
	textJS         = `function() { return (this.innerText || this.textContent || "").trim(); }`
	attributeJS    = `function(name) { return this.getAttribute(name) || ""; }`
	hrefJS         = `function() { return this.href || this.getAttribute("href") || ""; }`
	interactableJS = `function() {
		if (this.disabled || this.getAttribute("aria-disabled") === "true") return false;
		const r = this.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	}`
	scrollIntoViewJS = `function() { this.scrollIntoView({behavior: "smooth", block: "center"}); }`
	clickJS          = `function() { this.click(); }`
	scrollToEndJS    = `function() { this.scrollTop = this.scrollHeight; }`
	windowToEndJS    = `window.scrollTo(0, document.body.scrollHeight)`
	bodyTextJS       = `document.body ? document.body.innerText : ""`
)

// stealthJS hides the usual automation fingerprints before any page script runs.
const stealthJS = `
	Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
	Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
	Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
	window.chrome = {runtime: {}, loadTimes: function() {}, csi: function() {}, app: {}};
`

// Options configures how Chrome is started or attached to.
type Options struct {
	// RemoteURL attaches to an already running Chrome (devtools websocket URL)
	// instead of starting one. Useful to reuse a logged-in profile.
	RemoteURL    string
	Headless     bool
	UserDataDir  string
	ProxyServer  string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	OpTimeout    time.Duration
}

// Chrome is a Page backed by one chromedp tab.
type Chrome struct {
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	opTimeout   time.Duration
}

type nodeElement struct {
	node *cdp.Node
}

func (e nodeElement) String() string {
	return fmt.Sprintf("%s#%d", e.node.LocalName, e.node.NodeID)
}

func buildChromeOptions(opts Options) []chromedp.ExecAllocatorOption {
	width, height := opts.WindowWidth, opts.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.WindowSize(width, height),
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}
	return allocOpts
}

// Launch starts (or attaches to) Chrome and opens the tab used for scanning.
func Launch(opts Options) (*Chrome, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
		zlog.Info().Str("remote", opts.RemoteURL).Msg("🔌 Attaching to running Chrome")
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), buildChromeOptions(opts)...)
	}

	tab, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	err := chromedp.Run(tab, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := cdppage.AddScriptToEvaluateOnNewDocument(stealthJS).Do(ctx)
		return err
	}))
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	timeout := opts.OpTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	zlog.Info().Bool("headless", opts.Headless).Msg("🌐 Chrome ready")

	return &Chrome{
		tab:         tab,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		opTimeout:   timeout,
	}, nil
}

// Close closes the tab and, if we started it, the browser.
func (c *Chrome) Close() {
	if c.tabCancel != nil {
		c.tabCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	zlog.Info().Msg("🧹 Chrome closed")
}

// run executes actions on the tab, bounded by the op timeout and by ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(c.tab, c.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

func (c *Chrome) callOn(ctx context.Context, el Element, fn string, res interface{}, args ...interface{}) error {
	ne, ok := el.(nodeElement)
	if !ok {
		return fmt.Errorf("element %v does not belong to chrome", el)
	}
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callFunctionOnNode(ctx, ne.node, fn, res, args...)
	}))
}

// callFunctionOnNode runs fn with this bound to node and decodes its return
// value into res (nil discards it).
func callFunctionOnNode(ctx context.Context, node *cdp.Node, fn string, res interface{}, args ...interface{}) error {
	obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
	if err != nil {
		return fmt.Errorf("resolve node %d: %w", node.NodeID, err)
	}
	// fails once the page navigated away, which is fine
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

	return chromedp.CallFunctionOn(fn, res, onObject(obj.ObjectID), args...).Do(ctx)
}

func onObject(id runtime.RemoteObjectID) chromedp.CallOption {
	return func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return p.WithObjectID(id)
	}
}

func (c *Chrome) QueryAll(ctx context.Context, selector string, scope Element) ([]Element, error) {
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if scope != nil {
		ne, ok := scope.(nodeElement)
		if !ok {
			return nil, fmt.Errorf("scope %v does not belong to chrome", scope)
		}
		opts = append(opts, chromedp.FromNode(ne.node))
	}

	var nodes []*cdp.Node
	if err := c.run(ctx, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, nodeElement{node: n})
	}
	return elements, nil
}

func (c *Chrome) Text(ctx context.Context, el Element) (string, error) {
	var text string
	err := c.callOn(ctx, el, textJS, &text)
	return text, err
}

func (c *Chrome) Attribute(ctx context.Context, el Element, name string) (string, error) {
	var value string
	err := c.callOn(ctx, el, attributeJS, &value, name)
	return value, err
}

func (c *Chrome) Href(ctx context.Context, el Element) (string, error) {
	var href string
	err := c.callOn(ctx, el, hrefJS, &href)
	return href, err
}

func (c *Chrome) Interactable(ctx context.Context, el Element) (bool, error) {
	var ok bool
	err := c.callOn(ctx, el, interactableJS, &ok)
	return ok, err
}

func (c *Chrome) ScrollIntoView(ctx context.Context, el Element) error {
	return c.callOn(ctx, el, scrollIntoViewJS, nil)
}

func (c *Chrome) Click(ctx context.Context, el Element) error {
	return c.callOn(ctx, el, clickJS, nil)
}

func (c *Chrome) ScrollToEnd(ctx context.Context, el Element) error {
	if el == nil {
		return c.run(ctx, chromedp.Evaluate(windowToEndJS, nil))
	}
	return c.callOn(ctx, el, scrollToEndJS, nil)
}

func (c *Chrome) BodyText(ctx context.Context) (string, error) {
	var text string
	err := c.run(ctx, chromedp.Evaluate(bodyTextJS, &text))
	return text, err
}

func (c *Chrome) URL(ctx context.Context) (string, error) {
	var loc string
	err := c.run(ctx, chromedp.Location(&loc))
	return loc, err
}

// Navigate loads url. Page loads get a longer budget than single operations.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(c.tab, 6*c.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// SaveFailure stores a screenshot and the page HTML under dir for diagnosis.
func (c *Chrome) SaveFailure(ctx context.Context, dir, name string) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")

	if err := os.MkdirAll(dir, 0755); err != nil {
		zlog.Warn().Err(err).Str("dir", dir).Msg("Failure directory could not be created")
		return
	}

	var buf []byte
	if err := c.run(ctx, chromedp.FullScreenshot(&buf, 90)); err == nil && len(buf) > 0 {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", name, timestamp))
		if err := os.WriteFile(path, buf, 0644); err == nil {
			zlog.Debug().Str("file", filepath.Base(path)).Msg("🔧 Failure screenshot saved")
		}
	}

	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err == nil && html != "" {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.html", name, timestamp))
		if err := os.WriteFile(path, []byte(html), 0644); err == nil {
			zlog.Debug().Str("file", filepath.Base(path)).Msg("🔧 Failure HTML saved")
		}
	}
}
