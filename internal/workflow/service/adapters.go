package service

import (
	"context"

	versionmodels "examen/internal/version/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// LatestProvider is the slice of the version manager the approval gate
// reads.
type LatestProvider interface {
	Latest(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*versionmodels.EntityVersion, error)
}

// VersionApprovalGate adapts the version manager to the activity manager's
// approval gate port. The two managers reference each other, so the gate is
// constructed empty and bound once the version manager exists; binding
// happens during startup wiring, before any request runs.
type VersionApprovalGate struct {
	versions LatestProvider
}

// NewVersionApprovalGate creates an unbound gate. Until Bind, every
// approval reads as not yet requested.
func NewVersionApprovalGate() *VersionApprovalGate {
	return &VersionApprovalGate{}
}

// Bind points the gate at the version manager.
func (g *VersionApprovalGate) Bind(versions LatestProvider) {
	g.versions = versions
}

// ApprovalState reports whether the entity's current version is approved
// and which version number that is. An entity with no versions at all
// reads as (false, 0); the approval activity then explains that nothing
// was submitted yet.
func (g *VersionApprovalGate) ApprovalState(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (bool, int, error) {
	if g.versions == nil {
		return false, 0, nil
	}
	v, err := g.versions.Latest(ctx, entityType, entityID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return v.Status == versionmodels.StatusApproved, v.Number, nil
}

// PhaseCompletionHook adapts the orchestrator to the activity manager's
// phase hook port. Like the gate it breaks a construction cycle: the
// activity manager needs the hook before the orchestrator exists. An
// unbound hook ignores notifications.
type PhaseCompletionHook struct {
	orch *Orchestrator
}

// NewPhaseCompletionHook creates an unbound hook.
func NewPhaseCompletionHook() *PhaseCompletionHook {
	return &PhaseCompletionHook{}
}

// Bind points the hook at the orchestrator.
func (h *PhaseCompletionHook) Bind(orch *Orchestrator) {
	h.orch = orch
}

// OnAllActivitiesDone closes the phase whose activities just finished.
func (h *PhaseCompletionHook) OnAllActivitiesDone(ctx context.Context, phaseID id.PhaseID, actor id.ActorID) error {
	if h.orch == nil {
		return nil
	}
	return h.orch.HandleActivitiesDone(ctx, phaseID, actor)
}
