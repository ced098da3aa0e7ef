package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

// HomeEnv, when set, roots every app directory under one path
const HomeEnv = "SECURE_GROUPS_HOME"

type AppPaths struct {
	ConfigDir string
	LogDir    string
	DataDir   string
}

func GetAppPaths(appName string) *AppPaths {
	if appName == "" {
		appName = "secure-groups"
	}

	paths := platformPaths(appName)
	if root := os.Getenv(HomeEnv); root != "" {
		paths = &AppPaths{
			ConfigDir: root,
			LogDir:    filepath.Join(root, "logs"),
			DataDir:   root,
		}
	}

	for _, dir := range []string{paths.ConfigDir, paths.LogDir, paths.DataDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			// Unwritable home, keep everything next to the binary
			return &AppPaths{ConfigDir: ".", LogDir: ".", DataDir: "."}
		}
	}
	return paths
}

func platformPaths(appName string) *AppPaths {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if homeDir, err = os.Getwd(); err != nil {
			homeDir = "."
		}
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		dir := filepath.Join(appData, appName)
		return &AppPaths{ConfigDir: dir, LogDir: dir, DataDir: dir}

	case "darwin":
		dir := filepath.Join(homeDir, "Library", "Application Support", appName)
		return &AppPaths{
			ConfigDir: dir,
			LogDir:    filepath.Join(homeDir, "Library", "Logs", appName),
			DataDir:   dir,
		}

	case "linux":
		return &AppPaths{
			ConfigDir: filepath.Join(xdgDir("XDG_CONFIG_HOME", homeDir, ".config"), appName),
			LogDir:    filepath.Join(xdgDir("XDG_CACHE_HOME", homeDir, ".cache"), appName, "logs"),
			DataDir:   filepath.Join(xdgDir("XDG_DATA_HOME", homeDir, ".local", "share"), appName),
		}

	default:
		dir := filepath.Join(homeDir, "."+appName)
		return &AppPaths{ConfigDir: dir, LogDir: dir, DataDir: dir}
	}
}

func xdgDir(env, homeDir string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	return filepath.Join(append([]string{homeDir}, fallback...)...)
}

// GetDataPath returns the path to a data file
func (ap *AppPaths) GetDataPath(filename string) string {
	return filepath.Join(ap.DataDir, filename)
}

// GetRecoveryDir returns the directory holding the recovery log entries
func (ap *AppPaths) GetRecoveryDir(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(ap.DataDir, name)
}
