package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"
)

// GetDataDir returns the platform-specific data directory for Tonearm
func GetDataDir() (string, error) {
	switch runtime.GOOS {
	case osWindows:
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Tonearm"), nil
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming", "Tonearm"), nil
	case osDarwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "Tonearm"), nil
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "tonearm"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "tonearm"), nil
	}
}

// GetCacheDir returns the platform-specific cache directory for Tonearm
func GetCacheDir() (string, error) {
	switch runtime.GOOS {
	case osWindows:
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "Tonearm", "Cache"), nil
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local", "Tonearm", "Cache"), nil
	case osDarwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Caches", "Tonearm"), nil
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			return filepath.Join(xdgCache, "tonearm"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".cache", "tonearm"), nil
	}
}

// GetConfigDir returns the platform-specific configuration directory for Tonearm
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case osWindows:
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Tonearm"), nil
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming", "Tonearm"), nil
	case osDarwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Preferences", "Tonearm"), nil
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "tonearm"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "tonearm"), nil
	}
}
