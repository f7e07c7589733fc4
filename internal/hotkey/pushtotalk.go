package hotkey

import (
	"context"

	"github.com/yok-tottii/ezvoice/internal/logger"
)

// Recorder is started and stopped by hotkey events
type Recorder interface {
	StartRecording() error
	StopRecording()
}

// Bind forwards Pressed events to StartRecording and Released events to
// StopRecording until ctx is done or events is closed.
func Bind(ctx context.Context, events <-chan Event, rec Recorder, log *logger.Logger) {
	if log == nil {
		log = logger.Discard()
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}

			switch event.Type {
			case Pressed:
				if err := rec.StartRecording(); err != nil {
					log.Warn("Failed to start recording: %v", err)
				}
			case Released:
				rec.StopRecording()
			}

		case <-ctx.Done():
			return
		}
	}
}
