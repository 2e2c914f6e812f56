package capability

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
	"github.com/pkg/browser"
)

// ErrUnavailable is returned by adapters with no backend on this host.
var ErrUnavailable = errors.New("capability unavailable on this host")

func init() {
	// xdg-open and friends chatter on stdout; keep the sensor's output clean.
	browser.Stdout = io.Discard
}

// ProbeResult records which backend serves each capability ("" when none).
type ProbeResult struct {
	OS        string `json:"os"`
	Clipboard string `json:"clipboard"`
	Notify    string `json:"notify"`
	Open      string `json:"open"`
}

// Probe inspects the host and builds the capability set.
type Probe struct {
	goos     string
	lookPath func(string) (string, error)

	clipboardUnsupported bool
	readAll              func() (string, error)
	writeAll             func(string) error
	notify               func(title, message string) error
	openURL              func(string) error
}

func NewProbe() *Probe {
	return &Probe{
		goos:                 runtime.GOOS,
		lookPath:             exec.LookPath,
		clipboardUnsupported: clipboard.Unsupported,
		readAll:              clipboard.ReadAll,
		writeAll:             clipboard.WriteAll,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		openURL: browser.OpenURL,
	}
}

// Tools the libraries shell out to on Unix desktops, in their preference order.
var (
	unixClipboardTools = []string{"wl-copy", "xclip", "xsel"}
	unixOpenTools      = []string{"xdg-open", "x-www-browser", "www-browser", "wslview"}
)

func (p *Probe) firstTool(names []string) string {
	for _, name := range names {
		if _, err := p.lookPath(name); err == nil {
			return name
		}
	}
	return ""
}

func (p *Probe) clipboardBackend() string {
	if p.clipboardUnsupported {
		return ""
	}
	switch p.goos {
	case "darwin":
		return "pbpaste/pbcopy"
	case "windows":
		return "win32"
	default:
		if t := p.firstTool(unixClipboardTools); t != "" {
			return t
		}
		return "clipboard"
	}
}

func (p *Probe) notifyBackend() string {
	switch p.goos {
	case "darwin":
		return "osascript"
	case "windows":
		return "toast"
	default:
		return "dbus"
	}
}

func (p *Probe) openBackend() string {
	switch p.goos {
	case "darwin":
		return "open"
	case "windows":
		return "url.dll"
	default:
		return p.firstTool(unixOpenTools)
	}
}

// Detect builds the capability set for this host. Capabilities without a
// backend are still returned; they fail with ErrUnavailable when used.
func (p *Probe) Detect() (Set, ProbeResult) {
	res := ProbeResult{
		OS:        p.goos,
		Clipboard: p.clipboardBackend(),
		Notify:    p.notifyBackend(),
		Open:      p.openBackend(),
	}

	clip := &Clipboard{}
	if res.Clipboard != "" {
		clip.readAll, clip.writeAll = p.readAll, p.writeAll
	}
	opener := &BrowserOpener{}
	if res.Open != "" {
		opener.open = p.openURL
	}

	return Set{
		Content:  clip,
		Notifier: &DesktopNotifier{notify: p.notify},
		Opener:   opener,
	}, res
}

// Clipboard is the system clipboard, through github.com/atotto/clipboard.
type Clipboard struct {
	readAll  func() (string, error)
	writeAll func(string) error
}

func (c *Clipboard) Read() (string, error) {
	if c.readAll == nil {
		return "", fmt.Errorf("clipboard read: %w", ErrUnavailable)
	}
	text, err := c.readAll()
	if err != nil {
		return "", fmt.Errorf("clipboard read: %w", err)
	}
	return text, nil
}

func (c *Clipboard) Overwrite(content string) error {
	if c.writeAll == nil {
		return fmt.Errorf("clipboard write: %w", ErrUnavailable)
	}
	if err := c.writeAll(content); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	return nil
}

// DesktopNotifier raises notifications through github.com/gen2brain/beeep.
type DesktopNotifier struct {
	notify func(title, message string) error
}

func (n *DesktopNotifier) Notify(title, message string) error {
	if n.notify == nil {
		return fmt.Errorf("notify: %w", ErrUnavailable)
	}
	if err := n.notify(title, message); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// BrowserOpener hands URLs to the default browser via github.com/pkg/browser.
type BrowserOpener struct {
	open func(string) error
}

func (o *BrowserOpener) Open(url string) error {
	if o.open == nil {
		return fmt.Errorf("open url: %w", ErrUnavailable)
	}
	if err := o.open(url); err != nil {
		return fmt.Errorf("open url: %w", err)
	}
	return nil
}
