package browserdriver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/time/rate"

	"github.com/r3e-network/qa-automation-core/internal/classifier"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// namedKeys maps the PRESS_KEY step value vocabulary to go-rod key codes.
var namedKeys = map[string]input.Key{
	"ENTER":      input.Enter,
	"TAB":        input.Tab,
	"ESCAPE":     input.Escape,
	"BACKSPACE":  input.Backspace,
	"DELETE":     input.Delete,
	"ARROWUP":    input.ArrowUp,
	"ARROWDOWN":  input.ArrowDown,
	"ARROWLEFT":  input.ArrowLeft,
	"ARROWRIGHT": input.ArrowRight,
	"SPACE":      input.Space,
}

// RodDriver opens go-rod-backed Sessions. Only CHROME/CHROMIUM/EDGE are
// rod-launchable (all are Chromium-family DevTools-protocol targets);
// FIREFOX/WEBKIT are rejected at Open per §4.B's closed BrowserKind set
// carrying no guarantee every kind maps to a driver build.
type RodDriver struct {
	// openLimiter bounds how fast Open may fork new browser processes,
	// independent of the orchestrator's worker-pool size — a burst of
	// scheduled fires or retries should never fork more headless Chromium
	// instances than the host can bear.
	openLimiter *rate.Limiter
}

// NewRodDriver constructs a RodDriver with no rate limit on session opens.
func NewRodDriver() *RodDriver { return &RodDriver{} }

// NewRodDriverWithRateLimit constructs a RodDriver that allows at most r
// session opens per second, with burst b.
func NewRodDriverWithRateLimit(r rate.Limit, b int) *RodDriver {
	return &RodDriver{openLimiter: rate.NewLimiter(r, b)}
}

func (d *RodDriver) Open(ctx context.Context, opts LaunchOptions) (Session, error) {
	switch opts.Browser {
	case model.BrowserChrome, model.BrowserChromium, model.BrowserEdge:
	default:
		return nil, fmt.Errorf("browserdriver: %s is not launchable by this driver", opts.Browser)
	}

	if d.openLimiter != nil {
		if err := d.openLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("browserdriver: rate limit wait: %w", err)
		}
	}

	u, err := launcher.New().Headless(opts.Headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("browserdriver: launch failed: %w", err)
	}

	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browserdriver: connect failed: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("browserdriver: page open failed: %w", err)
	}

	width, height := opts.ViewportWidth, opts.ViewportHeight
	if width == 0 {
		width = 1280
	}
	if height == 0 {
		height = 720
	}
	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: width, Height: height})

	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &rodSession{browser: browser, page: page, defaultTimeout: timeout}, nil
}

type rodSession struct {
	browser        *rod.Browser
	page           *rod.Page
	defaultTimeout time.Duration
}

func (s *rodSession) timeoutFor(ms int) time.Duration {
	if ms <= 0 {
		return s.defaultTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *rodSession) Execute(ctx context.Context, step model.Step) StepOutcome {
	p := s.page.Context(ctx).Timeout(s.timeoutFor(step.TimeoutMs))
	phase := classifier.PhaseAction
	if model.IsAssertion(step.Action) {
		phase = classifier.PhaseAssertion
	}

	var err error
	switch step.Action {
	case model.ActionNavigate:
		err = p.Navigate(step.Value)
	case model.ActionReload:
		err = p.Reload()
	case model.ActionGoBack:
		err = p.NavigateBack()
	case model.ActionClick:
		err = clickBySelector(p, step.Locator)
	case model.ActionHover:
		err = hoverBySelector(p, step.Locator)
	case model.ActionFill:
		err = fillBySelector(p, step.Locator, step.Value)
	case model.ActionClear:
		err = fillBySelector(p, step.Locator, "")
	case model.ActionWaitForLoad:
		err = p.WaitLoad()
	case model.ActionWaitForSelector:
		_, err = resolveElement(p, step.Locator)
	case model.ActionWaitForURL:
		err = waitForURL(p, step.Value)
	case model.ActionAssertVisible:
		err = assertVisible(p, step.Locator)
	case model.ActionAssertHidden:
		err = assertHidden(p, step.Locator)
	case model.ActionAssertText:
		err = assertText(p, step.Locator, step.Value)
	case model.ActionAssertURL:
		err = assertURL(p, step.Value)
	case model.ActionSelectOption:
		err = selectOption(p, step.Locator, step.Value)
	case model.ActionCheck:
		err = setChecked(p, step.Locator, true)
	case model.ActionUncheck:
		err = setChecked(p, step.Locator, false)
	case model.ActionPressKey:
		err = pressKey(p, step.Value)
	case model.ActionAssertTitle:
		err = assertTitle(p, step.Value)
	case model.ActionAssertCount:
		err = assertCount(p, step.Locator, step.Value)
	case model.ActionAssertValue:
		err = assertValue(p, step.Locator, step.Value)
	case model.ActionAssertEnabled:
		err = assertEnabled(p, step.Locator, true)
	case model.ActionAssertDisabled:
		err = assertEnabled(p, step.Locator, false)
	default:
		return StepOutcome{Success: false, ExceptionKind: "configuration_error",
			Message: fmt.Sprintf("unrecognized step action %q", step.Action), Phase: classifier.PhaseSetup}
	}

	if err != nil {
		kind, msg := classifyRodError(err)
		return StepOutcome{Success: false, ExceptionKind: kind, Message: msg, Phase: phase}
	}
	return StepOutcome{Success: true, Phase: phase}
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(true, nil)
}

func (s *rodSession) Close() error {
	if s.browser == nil {
		return nil
	}
	return s.browser.Close()
}

func clickBySelector(p *rod.Page, selector string) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func hoverBySelector(p *rod.Page, selector string) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return err
	}
	return el.Hover()
}

func fillBySelector(p *rod.Page, selector, value string) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func waitForURL(p *rod.Page, want string) error {
	info, err := p.Info()
	if err != nil {
		return err
	}
	if !strings.Contains(info.URL, want) {
		return fmt.Errorf("waiting for selector: url %q does not yet contain %q", info.URL, want)
	}
	return nil
}

func assertVisible(p *rod.Page, selector string) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return fmt.Errorf("no node found for selector %q: %w", selector, err)
	}
	visible, err := el.Visible()
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("assertion_error: element %q is not visible", selector)
	}
	return nil
}

func assertHidden(p *rod.Page, selector string) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return nil // absent counts as hidden
	}
	visible, err := el.Visible()
	if err != nil {
		return err
	}
	if visible {
		return fmt.Errorf("assertion_error: element %q is visible, expected hidden", selector)
	}
	return nil
}

func assertText(p *rod.Page, selector, want string) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return fmt.Errorf("no node found for selector %q: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return err
	}
	if !strings.Contains(text, want) {
		return fmt.Errorf("assertion_error: expected text %q to contain %q", text, want)
	}
	return nil
}

func assertURL(p *rod.Page, want string) error {
	info, err := p.Info()
	if err != nil {
		return err
	}
	if !strings.Contains(info.URL, want) {
		return fmt.Errorf("assertion_error: expected url %q to contain %q", info.URL, want)
	}
	return nil
}

func selectOption(p *rod.Page, selector, value string) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return fmt.Errorf("no node found for selector %q: %w", selector, err)
	}
	return el.Select([]string{value}, true, rod.SelectorTypeValue)
}

func setChecked(p *rod.Page, selector string, want bool) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return fmt.Errorf("no node found for selector %q: %w", selector, err)
	}
	prop, err := el.Property("checked")
	if err != nil {
		return err
	}
	if prop.Bool() == want {
		return nil
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func pressKey(p *rod.Page, keyName string) error {
	key, ok := namedKeys[strings.ToUpper(keyName)]
	if !ok {
		return fmt.Errorf("configuration_error: unrecognized key %q", keyName)
	}
	return p.Keyboard.Type(key)
}

func assertTitle(p *rod.Page, want string) error {
	info, err := p.Info()
	if err != nil {
		return err
	}
	if !strings.Contains(info.Title, want) {
		return fmt.Errorf("assertion_error: expected title %q to contain %q", info.Title, want)
	}
	return nil
}

func assertCount(p *rod.Page, selector, wantStr string) error {
	s, value := parseLocator(selector)
	var elems rod.Elements
	var err error
	if s == strategyXPath {
		elems, err = p.ElementsX(value)
	} else {
		elems, err = p.Elements(selector)
	}
	if err != nil {
		return fmt.Errorf("no node found for selector %q: %w", selector, err)
	}
	want := 0
	fmt.Sscanf(wantStr, "%d", &want)
	if len(elems) != want {
		return fmt.Errorf("assertion_error: expected %d elements matching %q, got %d", want, selector, len(elems))
	}
	return nil
}

func assertValue(p *rod.Page, selector, want string) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return fmt.Errorf("no node found for selector %q: %w", selector, err)
	}
	prop, err := el.Property("value")
	if err != nil {
		return err
	}
	if prop.String() != want {
		return fmt.Errorf("assertion_error: expected value %q, got %q", want, prop.String())
	}
	return nil
}

func assertEnabled(p *rod.Page, selector string, wantEnabled bool) error {
	el, err := resolveElement(p, selector)
	if err != nil {
		return fmt.Errorf("no node found for selector %q: %w", selector, err)
	}
	prop, err := el.Property("disabled")
	if err != nil {
		return err
	}
	enabled := !prop.Bool()
	if enabled != wantEnabled {
		return fmt.Errorf("assertion_error: expected enabled=%v for %q, got %v", wantEnabled, selector, enabled)
	}
	return nil
}

// classifyRodError derives a best-effort (exceptionKind, message) pair from
// a go-rod error so the core Classifier (which expects driver-agnostic
// strings) can categorize it without importing rod itself.
func classifyRodError(err error) (string, string) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "context deadline exceeded"), strings.Contains(lower, "timeout"):
		return "timeout_error", msg
	case strings.Contains(lower, "no such element"), strings.Contains(lower, "no node found"):
		return "element_not_found", msg
	case strings.Contains(lower, "assertion_error"):
		return "assertion_error", msg
	case strings.Contains(lower, "detached"), strings.Contains(lower, "stale"):
		return "stale_element_reference", msg
	case strings.Contains(lower, "net::err_"), strings.Contains(lower, "connection"):
		return "network_error", msg
	default:
		return "driver_error", msg
	}
}
