package activity

import (
	"context"

	log "github.com/sirupsen/logrus"

	"focusflow-api/domain"
)

// LogSink writes each record as a structured log entry.
type LogSink struct {
	Log *log.Logger
}

func (s LogSink) Publish(_ context.Context, a domain.Activity) error {
	fields := log.Fields{
		"kind":       a.Kind,
		"project":    a.ProjectID,
		"occurredAt": a.OccurredAt,
	}
	if a.Actor != "" {
		fields["actor"] = a.Actor
	}
	if len(a.Employees) > 0 {
		fields["employees"] = a.Employees
	}
	if a.Bucket != nil {
		fields["bucket"] = a.Bucket.String()
	}
	if a.TaskID != "" {
		fields["task"] = a.TaskID
	}
	s.Log.WithFields(fields).Info("activity")
	return nil
}
