package core

import "pkt.systems/expertsurvey/schema"

// EventSink receives survey state changes from the core service.
type EventSink interface {
	OnSurveyEvent(event schema.SurveyEvent)
}
