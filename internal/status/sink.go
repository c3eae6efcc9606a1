package status

import (
	"time"

	"go.uber.org/zap"
)

// Sink adapts the broker to the dispatch.Notifier shape: every engine notice
// is logged and pushed to feed subscribers.
type Sink struct {
	broker Broker
	log    *zap.Logger
}

func NewSink(b Broker, log *zap.Logger) *Sink {
	return &Sink{broker: b, log: log.Named("notice")}
}

func (s *Sink) Notify(level, message string) {
	switch level {
	case "error":
		s.log.Error(message)
	case "warn":
		s.log.Warn(message)
	default:
		s.log.Info(message)
	}
	s.broker.Publish(Notice{Level: level, Message: message, Time: time.Now().UTC()})
}
