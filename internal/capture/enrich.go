package capture

import (
	"context"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
	"github.com/aevon-lab/aevon-capture/internal/core/storage"
	"github.com/google/uuid"
)

const (
	propLib                = "$lib"
	propActiveFeatureFlags = "$active_feature_flags"
	libWeb                 = "web"
)

// FlagEvaluator lists the feature flags enabled for a distinct id.
type FlagEvaluator interface {
	ActiveFlags(ctx context.Context, teamID int64, distinctID string) ([]string, error)
}

// BatchContext is shared by every event of one request.
type BatchContext struct {
	Tenant     *storage.Tenant
	ClientIP   string
	SiteURL    string
	ReceivedAt time.Time
	SentAt     *time.Time
}

// Enricher stamps server-side fields onto normalized events.
type Enricher struct {
	flags   FlagEvaluator
	newUUID func() (uuid.UUID, error)
}

func NewEnricher(flags FlagEvaluator) *Enricher {
	return &Enricher{flags: flags, newUUID: uuid.NewV7}
}

// Enrich fills flags, uuid, ip and timestamps. A failing flag evaluator leaves
// $active_feature_flags unset rather than rejecting the event.
func (e *Enricher) Enrich(ctx context.Context, evt *v1.Event, batch BatchContext) error {
	if e.flags != nil && needsFeatureFlags(evt.Properties) {
		active, err := e.flags.ActiveFlags(ctx, batch.Tenant.ID, evt.DistinctID)
		if err != nil {
			slog.Warn("Feature flag evaluation failed", "team_id", batch.Tenant.ID, "error", err)
		} else {
			if active == nil {
				active = []string{}
			}
			evt.Properties[propActiveFeatureFlags] = active
		}
	}

	id, err := e.newUUID()
	if err != nil {
		return err
	}
	evt.UUID = id.String()

	if !batch.Tenant.AnonymizeIPs {
		evt.IP = batch.ClientIP
	}
	evt.TeamID = batch.Tenant.ID
	evt.SiteURL = batch.SiteURL
	evt.ReceivedAt = batch.ReceivedAt
	evt.SentAt = batch.SentAt
	return nil
}

// needsFeatureFlags is true for web events without a usable flag list.
func needsFeatureFlags(props map[string]interface{}) bool {
	if lib, _ := props[propLib].(string); lib != libWeb {
		return false
	}
	switch v := props[propActiveFeatureFlags].(type) {
	case nil:
		return true
	case []interface{}:
		return len(v) == 0
	case []string:
		return len(v) == 0
	default:
		return false
	}
}
