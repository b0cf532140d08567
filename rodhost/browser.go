// Package rodhost runs the tamper engine against a real Chrome page through
// the DevTools protocol. A Browser owns the Chrome process (local launch or
// remote connection); a Host adapts one stealth tab to page.Host.
package rodhost

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Stealth modes.
const (
	Headless = "headless"
	Headful  = "headful" // under Xvfb
)

// Config configures the browser.
type Config struct {
	// Remote is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	Remote string

	// Stealth is Headless (default) or Headful.
	Stealth string

	// Bin overrides the Chrome binary used for local launches.
	Bin string

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Stealth == "" {
		c.Stealth = Headless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser is a connected Chrome instance.
type Browser struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

// Launch starts Chrome (or connects to cfg.Remote).
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	cfg.defaults()
	b := &Browser{cfg: cfg}
	if err := b.launch(ctx); err != nil {
		b.cleanup()
		return nil, err
	}
	return b, nil
}

func (b *Browser) launch(ctx context.Context) error {
	log := b.cfg.Logger

	if b.cfg.Stealth == Headful && b.cfg.Remote == "" {
		if err := b.startXvfb(); err != nil {
			return fmt.Errorf("rodhost: xvfb: %w", err)
		}
	}

	wsURL := b.cfg.Remote
	if wsURL != "" {
		log.Info("rodhost: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		if b.cfg.Stealth == Headful {
			l = l.Headless(false).Env("DISPLAY=" + b.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodhost: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("rodhost: launched local chrome", "url", wsURL, "stealth", b.cfg.Stealth)
	}

	rb := rod.New().ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		return fmt.Errorf("rodhost: connect: %w", err)
	}
	b.browser = rb
	return nil
}

// Rod returns the underlying rod browser.
func (b *Browser) Rod() *rod.Browser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.browser
}

// Close shuts down Chrome and Xvfb.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.cleanup()
}

func (b *Browser) cleanup() error {
	var err error
	if b.browser != nil {
		// A remote browser is shared; only disconnect from it.
		if b.cfg.Remote == "" {
			err = b.browser.Close()
		}
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	b.stopXvfb()
	return err
}

func (b *Browser) startXvfb() error {
	if b.xvfb != nil {
		return nil
	}
	display := b.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	b.xvfb = cmd
	// Give Xvfb a moment to initialise.
	time.Sleep(500 * time.Millisecond)
	b.cfg.Logger.Info("rodhost: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (b *Browser) stopXvfb() {
	if b.xvfb == nil {
		return
	}
	if b.xvfb.Process != nil {
		b.xvfb.Process.Kill()
		b.xvfb.Wait()
	}
	b.cfg.Logger.Info("rodhost: xvfb stopped")
	b.xvfb = nil
}
