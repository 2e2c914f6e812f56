// Package capability defines the host capabilities the sensor core drives
// (clipboard, desktop notifications, URL launching) and provides adapters
// that shell out to the platform's standard tools.
package capability

//go:generate mockgen -source=capability.go -destination=mocks/mocks.go -package=mocks ContentSource,Notifier,URLOpener

// ContentSource is the monitored content, the system clipboard in practice.
type ContentSource interface {
	Read() (string, error)
	Overwrite(content string) error
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title, message string) error
}

// URLOpener opens a URL in the user's browser.
type URLOpener interface {
	Open(url string) error
}

// Set bundles the capabilities handed to the dispatcher and the monitor loop.
type Set struct {
	Content  ContentSource
	Notifier Notifier
	Opener   URLOpener
}
