// Package events turns upstream data-change notifications into recompute
// triggers.
package events

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-engine/internal/model"
)

// ErrInvalidEvent is the root of every validation failure.
var ErrInvalidEvent = eris.New("events: invalid event")

// Changed entities accepted from the data-change notifier.
const (
	EntityAssessment     = "assessment"
	EntityQuestionnaire  = "questionnaire"
	EntityHealthTracking = "health_tracking"
)

var entitySources = map[string]model.TriggerSource{
	EntityAssessment:     model.SourceAssessment,
	EntityQuestionnaire:  model.SourceQuestionnaire,
	EntityHealthTracking: model.SourceHealthTracking,
}

// ChangeEvent says a user's upstream records changed. The delta itself is
// not carried; only the fact that a recompute is due.
type ChangeEvent struct {
	UserID        string    `json:"userId"`
	ChangedEntity string    `json:"changedEntity"`
	OccurredAt    time.Time `json:"occurredAt,omitempty"`
}

// Trigger validates the event and converts it. Events without a timestamp
// are stamped with now.
func (e ChangeEvent) Trigger(now time.Time) (model.Trigger, error) {
	userID := strings.TrimSpace(e.UserID)
	if userID == "" {
		return model.Trigger{}, eris.Wrap(ErrInvalidEvent, "missing userId")
	}
	src, ok := entitySources[strings.ToLower(strings.TrimSpace(e.ChangedEntity))]
	if !ok {
		return model.Trigger{}, eris.Wrapf(ErrInvalidEvent, "unknown changedEntity %q", e.ChangedEntity)
	}
	at := e.OccurredAt
	if at.IsZero() {
		at = now
	}
	return model.Trigger{UserID: userID, Source: src, At: at.UTC()}, nil
}
