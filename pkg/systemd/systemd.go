package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd (when running under Type=notify) that the bot is
// up and polling. Outside systemd this is a no-op.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping signals a clean shutdown is in progress.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
