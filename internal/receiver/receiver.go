// Package receiver models the client-side push receiver: the background
// worker that decodes push payloads, surfaces OS notifications, and routes
// notification clicks back into the app. The platform pieces (notification
// display, window management, cache storage, worker lifecycle) are
// interfaces so the event contract is testable on its own.
package receiver

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// State is the worker lifecycle state.
type State int

const (
	StateInstalling State = iota
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Notification is the renderable notification content.
type Notification struct {
	Title              string
	Body               string
	Icon               string
	URL                string
	Tag                string
	Data               map[string]interface{}
	RequireInteraction bool
}

// ClickEvent describes a user interaction with a displayed notification.
type ClickEvent struct {
	NotificationID string
	Action         string // "" for the notification body, "close" to dismiss
	URL            string // target captured when the notification was shown
}

// Presenter displays and dismisses OS-level notifications.
// Close of an unknown or already-closed id must be a no-op: the platform
// may deliver a click for a notification the user dismissed concurrently.
type Presenter interface {
	Show(ctx context.Context, id string, n Notification) error
	Close(ctx context.Context, id string) error
}

// Window is an open page context.
type Window interface {
	Origin() string
	Focus(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
}

// Clients manages the page contexts this worker controls.
type Clients interface {
	List(ctx context.Context) ([]Window, error)
	OpenWindow(ctx context.Context, url string) (Window, error)
	Claim(ctx context.Context) error
}

// Caches is the named-cache storage the worker cleans on activation.
type Caches interface {
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// Lifecycle exposes the worker's own lifecycle controls.
type Lifecycle interface {
	SkipWaiting(ctx context.Context) error
}

// Config holds receiver behavior settings.
type Config struct {
	// Origin of the hosting app; click handling only reuses windows from
	// this origin.
	Origin string
	// StaleCachePrefixes name the cache generations deleted on activate.
	StaleCachePrefixes []string
	// Defaults render when a push payload is missing or unreadable. A
	// push must always surface something; silent drops are not an option.
	DefaultTitle string
	DefaultBody  string
	DefaultIcon  string
	DefaultURL   string
}

// Worker is the receiver state machine. All event handlers take an
// *Extension: asynchronous work must be registered on it or the platform is
// free to tear the worker down mid-flight, silently dropping the
// notification. Making the token a required parameter keeps that contract
// visible at every call site.
type Worker struct {
	cfg       Config
	presenter Presenter
	clients   Clients
	caches    Caches
	lifecycle Lifecycle
	logger    *zap.Logger

	mu    sync.Mutex
	state State
}

// New creates a Worker in the installing state.
func New(cfg Config, presenter Presenter, clients Clients, caches Caches, lifecycle Lifecycle, logger *zap.Logger) *Worker {
	if cfg.DefaultURL == "" {
		cfg.DefaultURL = "/"
	}
	return &Worker{
		cfg:       cfg,
		presenter: presenter,
		clients:   clients,
		caches:    caches,
		lifecycle: lifecycle,
		logger:    logger,
		state:     StateInstalling,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// HandleInstall requests immediate activation; there is no deferred-waiting
// phase for this worker.
func (w *Worker) HandleInstall(ctx context.Context, ext *Extension) {
	ext.WaitUntil(func(ctx context.Context) error {
		if err := w.lifecycle.SkipWaiting(ctx); err != nil {
			w.logger.Warn("skip waiting failed", zap.Error(err))
		}
		w.setState(StateActivating)
		return nil
	})
}

// HandleActivate claims open page contexts and evicts stale caches by name
// prefix. Eviction is name-based only; cache contents are never inspected.
func (w *Worker) HandleActivate(ctx context.Context, ext *Extension) {
	ext.WaitUntil(func(ctx context.Context) error {
		if err := w.clients.Claim(ctx); err != nil {
			w.logger.Warn("client claim failed", zap.Error(err))
		}

		names, err := w.caches.Names(ctx)
		if err != nil {
			w.logger.Warn("cache enumeration failed", zap.Error(err))
		} else {
			for _, name := range names {
				if !w.staleCache(name) {
					continue
				}
				if _, err := w.caches.Delete(ctx, name); err != nil {
					w.logger.Warn("cache delete failed",
						zap.String("cache", name),
						zap.Error(err),
					)
				}
			}
		}

		w.setState(StateActive)
		return nil
	})
}

func (w *Worker) staleCache(name string) bool {
	for _, prefix := range w.cfg.StaleCachePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// HandlePush decodes the payload and renders a notification. Decode and
// render errors are absorbed here: a handler that throws starves every
// following push until the worker restarts, so the worst outcome allowed is
// a generic fallback notification.
func (w *Worker) HandlePush(ctx context.Context, ext *Extension, id string, payload []byte) {
	n := w.decodePayload(payload)

	ext.WaitUntil(func(ctx context.Context) error {
		if err := w.presenter.Show(ctx, id, n); err != nil {
			w.logger.Error("notification render failed",
				zap.String("notification_id", id),
				zap.Error(err),
			)
		}
		return nil
	})
}

// HandleNotificationClick closes the notification, then either stops (close
// action) or brings the app to the foreground. Reusing an existing window
// is always preferred over opening a new one.
func (w *Worker) HandleNotificationClick(ctx context.Context, ext *Extension, click ClickEvent) {
	// Close first, unconditionally. Presenter.Close is idempotent, so a
	// double-fired click cannot error or close someone else's notification.
	if err := w.presenter.Close(ctx, click.NotificationID); err != nil {
		w.logger.Warn("notification close failed",
			zap.String("notification_id", click.NotificationID),
			zap.Error(err),
		)
	}

	if click.Action == "close" {
		return
	}

	target := click.URL
	if target == "" {
		target = w.cfg.DefaultURL
	}

	ext.WaitUntil(func(ctx context.Context) error {
		if err := w.focusOrOpen(ctx, target); err != nil {
			w.logger.Error("window activation failed",
				zap.String("url", target),
				zap.Error(err),
			)
		}
		return nil
	})
}

// focusOrOpen reuses the first same-origin window, navigating it to the
// target; only when none exists is a new window opened.
func (w *Worker) focusOrOpen(ctx context.Context, url string) error {
	windows, err := w.clients.List(ctx)
	if err != nil {
		return err
	}

	for _, win := range windows {
		if win.Origin() != w.cfg.Origin {
			continue
		}
		if err := win.Focus(ctx); err != nil {
			return err
		}
		return win.Navigate(ctx, url)
	}

	_, err = w.clients.OpenWindow(ctx, url)
	return err
}

// Message is a page-to-worker message.
type Message struct {
	Type string `json:"type"`
}

// HandleMessage reacts to page messages. SKIP_WAITING triggers the same
// transition as install; everything else is ignored.
func (w *Worker) HandleMessage(ctx context.Context, ext *Extension, msg Message) {
	if msg.Type != "SKIP_WAITING" {
		return
	}
	ext.WaitUntil(func(ctx context.Context) error {
		if err := w.lifecycle.SkipWaiting(ctx); err != nil {
			w.logger.Warn("skip waiting failed", zap.Error(err))
		}
		return nil
	})
}
