package tokenstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/unihub/unihub/core/session"
)

const (
	tokenFile         = "token"
	profileFile       = "user.json"
	notificationsFile = "notifications_enabled"
)

type fileStore struct {
	dir string
	mu  sync.Mutex
}

var _ Store = (*fileStore)(nil)

// NewFileStore returns a Store persisting its slots as files under dir,
// creating it when missing.
func NewFileStore(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("tokenstore: no state dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "creating state dir %s", dir)
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *fileStore) read(name string) (string, error) {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // missing is fine
		}
		return "", errors.Wrapf(err, "reading %s", name)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *fileStore) write(name string, data []byte) error {
	tmp := s.path(name + ".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "writing %s", name)
	}
	return errors.Wrapf(os.Rename(tmp, s.path(name)), "replacing %s", name)
}

func (s *fileStore) remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", name)
	}
	return nil
}

func (s *fileStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, _ := s.read(tokenFile)
	return tok
}

func (s *fileStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(tokenFile, []byte(strings.TrimSpace(token)))
}

func (s *fileStore) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(tokenFile)
}

func (s *fileStore) Profile() (*session.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.read(profileFile)
	if err != nil || raw == "" {
		return nil, err
	}
	var usr session.User
	if err := json.Unmarshal([]byte(raw), &usr); err != nil {
		return nil, errors.Wrap(err, "decoding profile")
	}
	return &usr, nil
}

func (s *fileStore) SetProfile(usr session.User) error {
	data, err := json.Marshal(usr)
	if err != nil {
		return errors.Wrap(err, "encoding profile")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(profileFile, data)
}

func (s *fileStore) ClearProfile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(profileFile)
}

// NotificationsEnabled defaults to true; only an explicit "false" turns popups off.
func (s *fileStore) NotificationsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, _ := s.read(notificationsFile)
	return val != "false"
}

func (s *fileStore) SetNotificationsEnabled(enabled bool) error {
	val := "true"
	if !enabled {
		val = "false"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(notificationsFile, []byte(val))
}

func (s *fileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{tokenFile, profileFile, notificationsFile} {
		if err := s.remove(name); err != nil {
			return err
		}
	}
	return nil
}
