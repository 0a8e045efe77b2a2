package status

import "go.uber.org/zap"

// Bus is the outbound side of the message bus.
type Bus interface {
	Publish(subject string, data []byte) error
}

// Sink observes every outbound message before it is sent.
type Sink interface {
	Record(subject string, data []byte)
}

// Mirror records each message to the sink and then hands it to the bus.
type Mirror struct {
	next Bus
	sink Sink
}

func NewMirror(next Bus, sink Sink) *Mirror {
	return &Mirror{next: next, sink: sink}
}

func (m *Mirror) Publish(subject string, data []byte) error {
	m.sink.Record(subject, data)
	return m.next.Publish(subject, data)
}

// LogSink writes outbound messages to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(subject string, data []byte) {
	s.logger.Info("publish", zap.String("topic", subject), zap.ByteString("payload", data))
}
