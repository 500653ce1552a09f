// Package credentials resolves a usable identity from the locally cached
// credential records the portal keeps between sessions. Resolution is a
// pure walk over an ordered list of candidate sources; the first source
// yielding a well-formed, unexpired token wins.
package credentials

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"dmp-portal-client/internal/domain"
	apperrors "dmp-portal-client/pkg/errors"
	"dmp-portal-client/pkg/logger"
)

// Candidate is one possible identity loaded from a source.
type Candidate struct {
	Token  string
	UserID int64
	Role   domain.Role
}

// Source loads a candidate credential. Load returns (nil, nil) when the
// source has nothing cached; an error means the source itself is broken
// and is treated the same way.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Candidate, error)
}

// Resolver picks the highest-priority usable candidate.
type Resolver struct {
	sources []Source
	parser  *jwt.Parser
	now     func() time.Time
}

// NewResolver creates a resolver over the given sources, in priority order.
func NewResolver(sources ...Source) *Resolver {
	return &Resolver{
		sources: sources,
		parser:  jwt.NewParser(),
		now:     time.Now,
	}
}

// Resolve walks the sources in priority order and returns the first
// identity backed by a well-formed, unexpired token. No side effects.
// Returns a NotAuthenticated error when no source yields a token;
// callers must not attempt a connection in that case.
func (r *Resolver) Resolve(ctx context.Context) (*domain.Identity, error) {
	for _, src := range r.sources {
		cand, err := src.Load(ctx)
		if err != nil {
			logger.Debug("credential source failed",
				zap.String("source", src.Name()),
				zap.Error(err))
			continue
		}
		if cand == nil || cand.Token == "" {
			continue
		}

		identity, ok := r.identityFrom(cand)
		if !ok {
			logger.Debug("credential source rejected",
				zap.String("source", src.Name()))
			continue
		}

		logger.Debug("identity resolved",
			zap.String("source", src.Name()),
			zap.Int64("user_id", identity.ID),
			zap.String("role", string(identity.Role)))
		return identity, nil
	}

	return nil, apperrors.NotAuthenticatedError()
}

// Token resolves the identity and returns its bearer token. This makes
// the resolver usable directly as the request channel's token provider,
// so every call picks up the current highest-priority credential.
func (r *Resolver) Token(ctx context.Context) (string, error) {
	identity, err := r.Resolve(ctx)
	if err != nil {
		return "", err
	}
	return identity.Token, nil
}

// identityFrom validates the candidate's token and fills in id/role from
// token claims when the record itself does not carry them. The signature
// is not verified here; the server remains the authority and rejects bad
// tokens on use.
func (r *Resolver) identityFrom(cand *Candidate) (*domain.Identity, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := r.parser.ParseUnverified(cand.Token, claims); err != nil {
		return nil, false
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if exp.Before(r.now()) {
			return nil, false
		}
	}

	identity := &domain.Identity{
		ID:    cand.UserID,
		Role:  cand.Role,
		Token: cand.Token,
	}
	if identity.ID == 0 {
		identity.ID = claimUserID(claims)
	}
	if identity.Role == "" {
		identity.Role = claimRole(claims)
	}
	return identity, true
}

func claimUserID(claims jwt.MapClaims) int64 {
	for _, key := range []string{"user_id", "id", "sub"} {
		switch v := claims[key].(type) {
		case float64:
			return int64(v)
		case string:
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}

func claimRole(claims jwt.MapClaims) domain.Role {
	role, _ := claims["role"].(string)
	switch role {
	case "patient":
		return domain.RolePatient
	case "professional", "medecin", "professionnel":
		return domain.RoleProfessional
	}
	return ""
}
