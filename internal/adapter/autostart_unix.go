//go:build !windows && !darwin

package adapter

import (
	"fmt"
	"os"
	"path/filepath"
)

func autostartDesktopPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config/autostart/proxyctl.desktop"), nil
}

func (Gops) RegisterAutostart(appPath string) error {
	p, err := autostartDesktopPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create autostart dir: %w", err)
	}
	desktop := fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=proxyctl
Exec=%s
Hidden=false
NoDisplay=false
X-GNOME-Autostart-enabled=true
Comment=proxyctl - API proxy lifecycle agent
`, appPath)
	return os.WriteFile(p, []byte(desktop), 0o600)
}

func (Gops) UnregisterAutostart() error {
	p, err := autostartDesktopPath()
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (Gops) AutostartEnabled() (bool, error) {
	p, err := autostartDesktopPath()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
