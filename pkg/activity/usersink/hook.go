// Package usersink records settings activity in a go-users ActivitySink.
package usersink

import (
	"context"

	"github.com/goliatone/go-replica/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook writes one ActivityRecord per event.
type Hook struct {
	Sink usertypes.ActivitySink
	// TenantID is used when the event carries none.
	TenantID uuid.UUID
}

var _ activity.Hook = Hook{}

// Notify implements activity.Hook. Actor IDs that are not UUIDs, such as
// role names, land in Data["actor"].
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil || event.Verb == "" {
		return nil
	}
	data := event.Fields()
	actor, err := uuid.Parse(event.ActorID)
	if err != nil {
		actor = uuid.Nil
		if event.ActorID != "" {
			if data == nil {
				data = map[string]any{}
			}
			data["actor"] = event.ActorID
		}
	}
	tenant, err := uuid.Parse(event.TenantID)
	if err != nil {
		tenant = h.TenantID
	}
	namespace := event.Namespace
	if namespace == "" {
		namespace = activity.ObjectType
	}
	return h.Sink.Log(ctx, usertypes.ActivityRecord{
		ActorID:    actor,
		TenantID:   tenant,
		Verb:       event.Verb,
		ObjectType: activity.ObjectType,
		ObjectID:   namespace,
		Channel:    event.Channel,
		Data:       data,
		OccurredAt: event.OccurredAt,
	})
}
