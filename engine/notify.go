package engine

import (
	"fmt"

	"codemerge/logger"
)

// Level is the severity of a notification
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification reports something the user should see that is not visible in
// the preview itself, such as a failed reconcile that fell back to the original.
type Notification struct {
	Level   Level
	Path    string
	Message string
	Err     error
}

func (n Notification) String() string {
	if n.Err != nil {
		return fmt.Sprintf("%s: %s: %v", n.Path, n.Message, n.Err)
	}
	return fmt.Sprintf("%s: %s", n.Path, n.Message)
}

// Notifications returns the channel notifications are delivered on
func (e *Engine) Notifications() <-chan Notification {
	return e.notifications
}

// notify never blocks: when the channel is full the oldest notification is dropped
func (e *Engine) notify(n Notification) {
	switch n.Level {
	case LevelError:
		logger.Error("%s", n)
	case LevelWarn:
		logger.Warn("%s", n)
	default:
		logger.Info("%s", n)
	}

	for {
		select {
		case e.notifications <- n:
			return
		default:
		}
		select {
		case dropped := <-e.notifications:
			logger.Debug("notification dropped: %s", dropped)
		default:
		}
	}
}
