package directory

import "context"

// StaticProvider serves a fixed set of providers. Used in dev builds and
// tests when no directory endpoint is configured.
type StaticProvider struct {
	records map[string]ProviderRecord // keyed by provider id
	byUser  map[string]string         // user id -> provider id
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		records: map[string]ProviderRecord{},
		byUser:  map[string]string{},
	}
}

func (s *StaticProvider) Add(rec ProviderRecord, userID string) *StaticProvider {
	s.records[rec.ProviderID] = rec
	if userID != "" {
		s.byUser[userID] = rec.ProviderID
	}
	return s
}

func (s *StaticProvider) GetProvider(_ context.Context, providerID string) (ProviderRecord, error) {
	rec, ok := s.records[providerID]
	if !ok {
		return ProviderRecord{}, ErrProviderUnknown
	}
	return rec, nil
}

func (s *StaticProvider) ResolveProviderID(_ context.Context, userID string) (string, error) {
	return s.byUser[userID], nil
}
