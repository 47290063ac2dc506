// Package notifier provides desktop notifications for long regeneration runs
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/pysqlcipher/amalgam/pkg/logger"
)

// Notifier reports regeneration outcomes
type Notifier interface {
	RegenerationSucceeded(dir string, duration time.Duration)
	RegenerationFailed(err error)
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	// Sound plays a beep after a failure
	Sound bool
}

// DesktopNotifier sends notifications through beeep
type DesktopNotifier struct {
	enabled bool
	sound   bool
	logger  logger.Logger

	notify func(title, message string) error
	beep   func() error
}

// New creates a new desktop notifier
func New(config Config, log logger.Logger) *DesktopNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DesktopNotifier{
		enabled: config.Enabled,
		sound:   config.Sound,
		logger:  log,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
}

// RegenerationSucceeded notifies that the amalgamation was staged
func (n *DesktopNotifier) RegenerationSucceeded(dir string, duration time.Duration) {
	if !n.enabled {
		return
	}
	n.send("✅ Amalgamation updated", fmt.Sprintf("Staged into %s in %s", dir, formatDuration(duration)))
}

// RegenerationFailed notifies that regeneration stopped with err
func (n *DesktopNotifier) RegenerationFailed(err error) {
	if !n.enabled {
		return
	}
	n.send("❌ Amalgamation update failed", firstLine(err.Error()))

	if n.sound {
		if err := n.beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func (n *DesktopNotifier) send(title, message string) {
	if err := n.notify(title, message); err != nil {
		// Headless hosts have no notification daemon
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

// Nop discards notifications
type Nop struct{}

func (Nop) RegenerationSucceeded(string, time.Duration) {}
func (Nop) RegenerationFailed(error)                    {}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
