package app

import (
	"fmt"

	"github.com/rs/zerolog"
	tlog "go.temporal.io/sdk/log"
)

var _ tlog.Logger = (*temporalLogger)(nil)

// temporalLogger routes Temporal SDK logs into zerolog.
type temporalLogger struct {
	log zerolog.Logger
}

func newTemporalLogger(log zerolog.Logger) *temporalLogger {
	return &temporalLogger{log: log.With().Str("component", "temporal").Logger()}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.emit(l.log.Debug(), msg, keyvals)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.emit(l.log.Info(), msg, keyvals)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.emit(l.log.Warn(), msg, keyvals)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.emit(l.log.Error(), msg, keyvals)
}

func (l *temporalLogger) emit(evt *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		evt = evt.Interface(fmt.Sprint(keyvals[i]), keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		evt = evt.Interface("extra", keyvals[len(keyvals)-1])
	}
	evt.Msg(msg)
}
