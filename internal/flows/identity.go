package flows

import (
	"context"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate/internal/audit"
	"github.com/prospectcrm/crmgate/internal/metrics"
	"github.com/prospectcrm/crmgate/session"
)

// RunUpdateIdentity replaces the current identity with next in one atomic
// swap. Profile edits cannot change the user: next must carry the current ID.
// The credential expiry is kept from the current identity when next has none.
func RunUpdateIdentity(ctx context.Context, s Session, next *session.Identity, deps IdentityDeps) (*session.Identity, error) {
	if next == nil || next.ID <= 0 {
		return nil, deps.Errors.InvalidIdentity
	}
	cur := s.Store.State().Identity
	if cur == nil {
		return nil, deps.Errors.NotAuthenticated
	}

	candidate := next.Clone()
	if candidate.ExpiresAt == 0 {
		candidate.ExpiresAt = cur.ExpiresAt
	}
	prev, ok := s.Store.ReplaceIdentity(candidate)
	if !ok {
		if prev == nil {
			return nil, deps.Errors.NotAuthenticated
		}
		return nil, deps.Errors.InvalidIdentity
	}

	deps.inc(metrics.MetricIdentityUpdated)
	ev := identityEvent(audit.EventIdentityUpdate, s, candidate)
	ev.Success = true
	if prev.Role != candidate.Role {
		ev.Metadata = map[string]string{"previous_role": prev.Role.String()}
	}
	deps.emit(ctx, ev)
	deps.log().Debug("identity updated",
		zap.String("session_id", s.ID),
		zap.Int64("user_id", candidate.ID),
	)
	return candidate.Clone(), nil
}
