// Package events is the boundary between the lifecycle core and whatever
// presents state to the user (tray, window, log). Notifications are
// fire-and-forget: emitters never wait for or act on the receiver.
package events

import "log/slog"

// Event names sent to the presentation collaborator.
const (
	ProcessExited    = "process-exited"
	RestartCompleted = "restart-completed"
	DownloadStatus   = "download-status"
	DownloadProgress = "download-progress"
)

// Notifier receives lifecycle notifications. Implementations must not block;
// callers invoke Notify inline from supervisor and updater code paths.
type Notifier interface {
	Notify(event string, payload map[string]any)
}

// LogNotifier is the default Notifier: it writes every event to slog.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(event string, payload map[string]any) {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := make([]any, 0, 2*len(payload)+2)
	attrs = append(attrs, "event", event)
	for k, v := range payload {
		attrs = append(attrs, k, v)
	}
	l.Info("notify", attrs...)
}

// NopNotifier discards all notifications. Used in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(string, map[string]any) {}
