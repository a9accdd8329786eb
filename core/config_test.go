package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_stateDir(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantProf string
		wantDir  func(t *testing.T, dir string)
	}{
		{
			name:     "default profile",
			wantProf: "default",
			wantDir: func(t *testing.T, dir string) {
				assert.Equal(t, filepath.Join("UniHub", "default"), filepath.Join(filepath.Base(filepath.Dir(dir)), filepath.Base(dir)))
			},
		},
		{
			name:     "named profile",
			env:      map[string]string{"UNIHUB_PROFILE": " Dev Box "},
			wantProf: "dev_box",
			wantDir: func(t *testing.T, dir string) {
				assert.Equal(t, "dev_box", filepath.Base(dir))
			},
		},
		{
			name:     "explicit dir wins",
			env:      map[string]string{"UNIHUB_PROFILE": "staging", "UNIHUB_STATE_DIR": "/tmp/unihub-state"},
			wantProf: "staging",
			wantDir: func(t *testing.T, dir string) {
				assert.Equal(t, "/tmp/unihub-state", dir)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("UNIHUB_ENV", "TEST")
			t.Setenv("XDG_CONFIG_HOME", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			conf := NewConfig()
			assert.Equal(t, tt.wantProf, conf.Profile)
			tt.wantDir(t, conf.StateDir)
		})
	}
}

func TestProfileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "default"},
		{in: " Dev Box ", want: "dev_box"},
		{in: "prod/2", want: "prod2"},
		{in: "ünï", want: "n"},
		{in: "..", want: "default"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, profileName(tt.in))
		})
	}
}
