// Package reconcile applies build status events delivered by the build
// system's webhook to the stored builds and deployments.
package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/riverly-dev/riverly/internal/platform/cloudbuild"
	"github.com/riverly-dev/riverly/internal/platform/correlation"
	"github.com/riverly-dev/riverly/internal/platform/telemetry"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// Event outcomes recorded on the webhook counter.
const (
	OutcomeApplied     = "applied"
	OutcomeNoMatch     = "no_match"
	OutcomeDiscarded   = "discarded"
	OutcomeUnknown     = "unknown_status"
	OutcomeUnsupported = "unsupported_kind"
	OutcomeFailed      = "failed"
)

// Payload is the webhook body. Only the fields used for reconciliation are
// decoded.
type Payload struct {
	Context    PayloadContext    `json:"context"`
	Attributes PayloadAttributes `json:"attributes"`
	Build      PayloadBuild      `json:"build"`
}

type PayloadContext struct {
	EventID string `json:"eventId"`
}

type PayloadAttributes struct {
	BuildID string `json:"buildId"`
	Status  string `json:"status"`
}

type PayloadBuild struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Tags       []string      `json:"tags"`
	FinishTime *time.Time    `json:"finishTime,omitempty"`
	Results    *BuildResults `json:"results,omitempty"`
}

type BuildResults struct {
	Images []BuiltImage `json:"images"`
}

type BuiltImage struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Reconciler turns webhook payloads into combined build and deployment
// updates.
type Reconciler struct {
	db      database.Database
	metrics *telemetry.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// New returns a Reconciler. metrics may be nil.
func New(db database.Database, metrics *telemetry.Metrics, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		db:      db,
		metrics: metrics,
		log:     log.With("component", "reconciler"),
		now:     time.Now,
	}
}

// Handle applies one payload and reports whether it was accepted. It never
// returns an error: malformed or uncorrelated events are discarded, events
// for unknown records are accepted without effect, and storage failures are
// logged and reported as not accepted.
func (r *Reconciler) Handle(ctx context.Context, payload []byte) bool {
	ok, outcome := r.handle(ctx, payload)
	r.metrics.RecordWebhookEvent(ctx, outcome)
	return ok
}

func (r *Reconciler) handle(ctx context.Context, payload []byte) (bool, string) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.log.Warn("discarding malformed build event", "error", err)
		return false, OutcomeDiscarded
	}
	if p.Context.EventID == "" && p.Attributes.BuildID == "" {
		r.log.Warn("discarding build event without event or build id")
		return false, OutcomeDiscarded
	}

	tags := correlation.Decode(p.Build.Tags)
	if !tags.Complete() {
		r.log.Warn("discarding build event without correlation tags",
			"event_id", p.Context.EventID, "external_build_id", p.Attributes.BuildID)
		return false, OutcomeDiscarded
	}

	external := p.Attributes.Status
	if external == "" {
		external = p.Build.Status
	}
	log := r.log.With(
		"event_id", p.Context.EventID,
		"deployment_id", tags.DeploymentID,
		"build_id", tags.BuildID,
		"external_status", external,
	)

	switch tags.Kind {
	case correlation.KindBuildDeploy:
	case correlation.KindBuild, correlation.KindDeploy:
		log.Info("ignoring build event for split job kind", "kind", tags.Kind)
		return true, OutcomeUnsupported
	default:
		log.Warn("ignoring build event with unknown job kind", "kind", tags.Kind)
		return true, OutcomeUnsupported
	}

	status := cloudbuild.MapStatus(external)
	if status == models.StatusUnknown {
		log.Warn("skipping update for unrecognised build status")
		return true, OutcomeUnknown
	}

	event := models.BuildEvent{
		BuildID:      tags.BuildID,
		DeploymentID: tags.DeploymentID,
		Status:       status,
	}
	if cloudbuild.IsTerminalStatus(external) {
		builtAt := r.now().UTC()
		if p.Build.FinishTime != nil {
			builtAt = p.Build.FinishTime.UTC()
		}
		event.BuiltAt = &builtAt
	}
	if status == models.StatusReady && p.Build.Results != nil && len(p.Build.Results.Images) > 0 {
		img := p.Build.Results.Images[0]
		if img.Name != "" {
			event.ImageRef = &img.Name
		}
		if img.Digest != "" {
			event.ImageDigest = &img.Digest
		}
	}

	matched, err := r.db.ApplyBuildEvent(ctx, nil, event)
	if err != nil {
		log.Error("failed to apply build event", "error", err)
		return false, OutcomeFailed
	}
	if !matched {
		log.Info("build event matched no records")
		return true, OutcomeNoMatch
	}
	log.Info("build event applied", "status", status)
	return true, OutcomeApplied
}
