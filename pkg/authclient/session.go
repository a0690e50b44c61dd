package authclient

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the client's single owned auth state: the stored tokens, the return-to
// location and a generation counter. Every logout or new login bumps the generation,
// so results of requests started under an older generation are discarded.
type Session struct {
	id    string
	mu    sync.Mutex
	store Storage
	gen   uint64
}

func NewSession(store Storage) *Session {
	if store == nil {
		store = NewMemoryStorage()
	}
	return &Session{id: uuid.NewString(), store: store}
}

// ID identifies the session for the refresh single-flight guard.
func (s *Session) ID() string { return s.id }

func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.store.Get(KeyAccess)
	return v
}

func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.store.Get(KeyRefresh)
	return v
}

// snapshot returns the current access token together with the generation it belongs to.
func (s *Session) snapshot() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.store.Get(KeyAccess)
	return v, s.gen
}

// start begins a new session generation with freshly issued tokens.
// An empty refresh removes any refresh token left from an earlier session.
func (s *Session) start(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if err := s.store.Set(KeyAccess, access); err != nil {
		return err
	}
	if refresh == "" {
		return s.store.Delete(KeyRefresh)
	}
	return s.store.Set(KeyRefresh, refresh)
}

// update stores renewed tokens if the session is still at generation gen.
// The refresh token is only replaced when a new one was issued.
func (s *Session) update(gen uint64, access, refresh string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false, nil
	}
	if err := s.store.Set(KeyAccess, access); err != nil {
		return false, err
	}
	if refresh != "" {
		if err := s.store.Set(KeyRefresh, refresh); err != nil {
			return false, err
		}
	}
	return true, nil
}

// setRefresh stores refresh unless a login or logout moved the session past gen.
func (s *Session) setRefresh(gen uint64, refresh string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false, nil
	}
	return true, s.store.Set(KeyRefresh, refresh)
}

func (s *Session) clearRefresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(KeyRefresh)
}

// clear drops both tokens and starts a new generation. Used by logout.
func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	_ = s.store.Delete(KeyAccess)
	_ = s.store.Delete(KeyRefresh)
}

// end closes generation gen after the refresh chain failed, remembering returnTo.
// Only the first caller for a generation gets true, so the login redirect happens once.
func (s *Session) end(gen uint64, returnTo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.gen++
	_ = s.store.Delete(KeyAccess)
	_ = s.store.Delete(KeyRefresh)
	if returnTo != "" {
		_ = s.store.Set(KeyReturnTo, returnTo)
	}
	return true
}

// takeReturnTo returns and forgets the location recorded when the session expired.
func (s *Session) takeReturnTo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.store.Get(KeyReturnTo)
	if v != "" {
		_ = s.store.Delete(KeyReturnTo)
	}
	return v
}
