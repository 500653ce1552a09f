package credentials

import (
	"context"
	"errors"

	"dmp-portal-client/internal/domain"
	"dmp-portal-client/internal/localstate"
)

// StateSource reads one cached identity record from the local state store.
type StateSource struct {
	store  *localstate.Store
	source string
	role   domain.Role
}

// NewStateSource creates a source over a localstate credential row.
// role overrides the stored role when the record predates role tracking;
// pass "" to keep whatever the record (or token claims) say.
func NewStateSource(store *localstate.Store, source string, role domain.Role) *StateSource {
	return &StateSource{store: store, source: source, role: role}
}

// Name implements Source.
func (s *StateSource) Name() string { return s.source }

// Load implements Source.
func (s *StateSource) Load(_ context.Context) (*Candidate, error) {
	rec, err := s.store.Credential(s.source)
	if errors.Is(err, localstate.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cand := &Candidate{
		Token:  rec.Token,
		UserID: rec.UserID,
		Role:   rec.Role,
	}
	if s.role != "" {
		cand.Role = s.role
	}
	return cand, nil
}

// DefaultSources is the portal's fixed candidate order: the primary
// session token first, then the token embedded in the cached patient
// record, then the one in the cached professional record.
func DefaultSources(store *localstate.Store) []Source {
	return []Source{
		NewStateSource(store, localstate.SourcePrimaryToken, ""),
		NewStateSource(store, localstate.SourcePatientRecord, domain.RolePatient),
		NewStateSource(store, localstate.SourceProfessionalRecord, domain.RoleProfessional),
	}
}

// StaticSource is an in-memory source, used by tests and by callers that
// already hold a token.
type StaticSource struct {
	SourceName string
	Candidate  *Candidate
}

// Name implements Source.
func (s *StaticSource) Name() string { return s.SourceName }

// Load implements Source.
func (s *StaticSource) Load(_ context.Context) (*Candidate, error) {
	return s.Candidate, nil
}
