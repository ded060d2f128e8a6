package daemon

import (
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	"github.com/shaneisley/acqsched/pkg/logging"
)

// Notifier reports daemon state to a service manager.
type Notifier interface {
	Notify(state string)
}

// SystemdNotifier sends sd_notify messages. Outside systemd every
// notification is silently dropped.
type SystemdNotifier struct {
	logger *logging.Logger
}

// NewSystemdNotifier creates a notifier that logs delivery failures to logger
func NewSystemdNotifier(logger *logging.Logger) *SystemdNotifier {
	return &SystemdNotifier{logger: logger}
}

// Notify sends state, e.g. "READY=1" or "STATUS=...".
func (n *SystemdNotifier) Notify(state string) {
	if _, err := sddaemon.SdNotify(false, state); err != nil && n.logger != nil {
		n.logger.Debug("sd_notify failed", "state", state, "error", err.Error())
	}
}

// WatchdogInterval returns the interval systemd expects keep-alives at, or 0
// when the watchdog is not enabled for this process.
func WatchdogInterval() time.Duration {
	interval, err := sddaemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return interval
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}
