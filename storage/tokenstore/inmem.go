package tokenstore

import (
	"strings"
	"sync"

	"github.com/unihub/unihub/core/session"
)

type memStore struct {
	mutex         sync.RWMutex
	token         string
	profile       *session.User
	notifDisabled bool
}

var _ Store = (*memStore)(nil)

// NewMemStore returns a Store that forgets everything when the process exits.
func NewMemStore() Store {
	return &memStore{}
}

func (s *memStore) Token() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.token
}

func (s *memStore) SetToken(token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.token = strings.TrimSpace(token)
	return nil
}

func (s *memStore) ClearToken() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.token = ""
	return nil
}

func (s *memStore) Profile() (*session.User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.profile == nil {
		return nil, nil
	}
	usr := *s.profile
	return &usr, nil
}

func (s *memStore) SetProfile(usr session.User) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.profile = &usr
	return nil
}

func (s *memStore) ClearProfile() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.profile = nil
	return nil
}

func (s *memStore) NotificationsEnabled() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return !s.notifDisabled
}

func (s *memStore) SetNotificationsEnabled(enabled bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.notifDisabled = !enabled
	return nil
}

func (s *memStore) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.token = ""
	s.profile = nil
	s.notifDisabled = false
	return nil
}
