package expertsurvey

import (
	"context"

	"pkt.systems/expertsurvey/core"
	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnSurveyEvent(event schema.SurveyEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSurveyEvent(event)
	}
}

// logSink writes every state change to the audit log.
type logSink struct {
	log pslog.Logger
}

func (s logSink) OnSurveyEvent(event schema.SurveyEvent) {
	log := s.log
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	fields := []any{"type", string(event.Type)}
	if event.Row.Valid() {
		fields = append(fields, "row", int(event.Row))
	}
	if event.Email != "" {
		fields = append(fields, "reviewer", string(event.Email))
	}
	if event.Rows > 0 {
		fields = append(fields, "rows", event.Rows)
	}
	log.Info("audit survey event", fields...)
}
