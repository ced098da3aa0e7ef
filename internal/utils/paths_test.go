package utils

import (
	"path/filepath"
	"testing"
)

func TestHomeEnvOverridesPlatformPaths(t *testing.T) {
	root := t.TempDir()
	t.Setenv(HomeEnv, root)

	paths := GetAppPaths("")
	if paths.DataDir != root || paths.ConfigDir != root {
		t.Errorf("Expected data and config under %s, got %+v", root, paths)
	}
	if paths.LogDir != filepath.Join(root, "logs") {
		t.Errorf("Unexpected log dir %s", paths.LogDir)
	}

	tests := []struct {
		name string
		dir  string
		want string
	}{
		{"relative", "recovery", filepath.Join(root, "recovery")},
		{"absolute", filepath.Join(root, "elsewhere"), filepath.Join(root, "elsewhere")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := paths.GetRecoveryDir(tt.dir); got != tt.want {
				t.Errorf("GetRecoveryDir(%q) = %s, want %s", tt.dir, got, tt.want)
			}
		})
	}
}
