package flows

import (
	"context"

	"github.com/prospectcrm/crmgate/backend"
	"github.com/prospectcrm/crmgate/session"
)

// Service binds one dependency set to the flows so callers hold a single value.
type Service struct {
	deps Deps
}

// New returns a Service using deps for every flow.
func New(deps Deps) *Service {
	return &Service{deps: deps}
}

func (s *Service) Bootstrap(ctx context.Context, sess Session, entryPath string) BootstrapOutcome {
	return RunBootstrap(ctx, sess, entryPath, s.deps.Bootstrap)
}

func (s *Service) Login(ctx context.Context, sess Session, creds backend.Credentials) (*session.Identity, error) {
	return RunLogin(ctx, sess, creds, s.deps.Auth)
}

func (s *Service) Register(ctx context.Context, sess Session, reg backend.Registration) (*session.Identity, error) {
	return RunRegister(ctx, sess, reg, s.deps.Auth)
}

func (s *Service) Logout(ctx context.Context, sess Session) LogoutResult {
	return RunLogout(ctx, sess, s.deps.Logout)
}

func (s *Service) Unauthorized(ctx context.Context, sess Session) bool {
	return RunUnauthorized(ctx, sess, s.deps.Logout)
}

func (s *Service) UpdateIdentity(ctx context.Context, sess Session, next *session.Identity) (*session.Identity, error) {
	return RunUpdateIdentity(ctx, sess, next, s.deps.Identity)
}
