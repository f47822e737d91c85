// Package updater discovers, downloads, and installs managed-server releases
// into the app directory. Progress is reported through the events.Notifier
// boundary; update-channel policy is out of scope.
package updater

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/easycli/proxyctl/internal/config"
	"github.com/easycli/proxyctl/internal/events"
	"github.com/easycli/proxyctl/internal/version"
)

const releaseURL = "https://api.github.com/repos/luispater/CLIProxyAPI/releases/latest"

// Release is the subset of the GitHub release payload the updater reads.
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// CheckResult reports the installed state against the latest release.
type CheckResult struct {
	Installed     string `json:"installed,omitempty"`
	Latest        string `json:"latest"`
	NeedsUpdate   bool   `json:"needs_update"`
	InstalledPath string `json:"installed_path,omitempty"`
}

// Updater installs managed-server releases under the app directory.
type Updater struct {
	appDir   string
	cfg      *config.Manager
	notifier events.Notifier
	client   *http.Client
	logger   *slog.Logger
}

func New(appDir string, cfg *config.Manager, notifier events.Notifier, proxyURL string, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = events.LogNotifier{Logger: logger}
	}
	client := &http.Client{Timeout: 10 * time.Minute}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
		} else {
			logger.Warn("invalid proxy url ignored", "proxy", proxyURL, "error", err)
		}
	}
	return &Updater{appDir: appDir, cfg: cfg, notifier: notifier, client: client, logger: logger}
}

func (u *Updater) fetchLatest() (Release, error) {
	req, err := http.NewRequest(http.MethodGet, releaseURL, nil)
	if err != nil {
		return Release{}, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "proxyctl")
	resp, err := u.client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("fetch latest release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("fetch latest release: status %s", resp.Status)
	}
	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Release{}, fmt.Errorf("decode release: %w", err)
	}
	return rel, nil
}

// Check compares the installed version against the latest release.
func (u *Updater) Check() (CheckResult, error) {
	u.notifier.Notify(events.DownloadStatus, map[string]any{"status": "checking"})
	rel, err := u.fetchLatest()
	if err != nil {
		return CheckResult{}, err
	}
	latest := strings.TrimPrefix(rel.TagName, "v")

	inst, err := version.Current(u.appDir)
	if err != nil {
		// Nothing installed yet.
		return CheckResult{Latest: latest, NeedsUpdate: true}, nil
	}
	res := CheckResult{
		Installed:     inst.Version,
		Latest:        latest,
		InstalledPath: inst.Dir,
		NeedsUpdate:   version.Compare(inst.Version, latest) < 0,
	}
	status := "latest"
	if res.NeedsUpdate {
		status = "update-available"
	}
	u.notifier.Notify(events.DownloadStatus, map[string]any{"status": status, "version": res.Installed, "latest": latest})
	return res, nil
}

// AssetName returns the release asset filename for this platform.
func AssetName(ver string) (string, error) {
	osName := runtime.GOOS
	arch := runtime.GOARCH
	switch {
	case osName == "darwin" && arch == "arm64":
		return fmt.Sprintf("CLIProxyAPI_%s_darwin_arm64.tar.gz", ver), nil
	case osName == "darwin" && arch == "amd64":
		return fmt.Sprintf("CLIProxyAPI_%s_darwin_amd64.tar.gz", ver), nil
	case osName == "linux" && arch == "amd64":
		return fmt.Sprintf("CLIProxyAPI_%s_linux_amd64.tar.gz", ver), nil
	case osName == "linux" && arch == "arm64":
		return fmt.Sprintf("CLIProxyAPI_%s_linux_arm64.tar.gz", ver), nil
	case osName == "windows" && arch == "amd64":
		return fmt.Sprintf("CLIProxyAPI_%s_windows_amd64.zip", ver), nil
	case osName == "windows" && arch == "arm64":
		return fmt.Sprintf("CLIProxyAPI_%s_windows_arm64.zip", ver), nil
	}
	return "", fmt.Errorf("unsupported platform: %s %s", osName, arch)
}

// Install downloads and installs the latest release, returning the installed
// version. It writes version.txt, removes stale version directories and the
// downloaded archive, and seeds config.yaml from the shipped example.
func (u *Updater) Install() (string, error) {
	if err := os.MkdirAll(u.appDir, 0o750); err != nil {
		return "", fmt.Errorf("create app dir: %w", err)
	}
	rel, err := u.fetchLatest()
	if err != nil {
		return "", err
	}
	latest := strings.TrimPrefix(rel.TagName, "v")
	name, err := AssetName(latest)
	if err != nil {
		return "", err
	}
	var asset *Asset
	for i := range rel.Assets {
		if rel.Assets[i].Name == name {
			asset = &rel.Assets[i]
			break
		}
	}
	if asset == nil {
		return "", fmt.Errorf("no release asset named %s", name)
	}

	archive := filepath.Join(u.appDir, name)
	u.notifier.Notify(events.DownloadStatus, map[string]any{"status": "starting"})
	if err := u.download(asset.BrowserDownloadURL, archive); err != nil {
		return "", err
	}

	dest := filepath.Join(u.appDir, latest)
	if strings.HasSuffix(name, ".zip") {
		err = extractZip(archive, dest)
	} else {
		err = extractTarGz(archive, dest)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", name, err)
	}

	if err := os.WriteFile(filepath.Join(u.appDir, "version.txt"), []byte(latest), 0o600); err != nil {
		return "", fmt.Errorf("write version.txt: %w", err)
	}
	u.cleanupOldVersions(latest)
	_ = os.Remove(archive)

	if u.cfg != nil {
		if err := u.cfg.EnsureFromExample(dest); err != nil {
			u.logger.Warn("seed config from example failed", "error", err)
		}
	}
	u.notifier.Notify(events.DownloadStatus, map[string]any{"status": "completed", "version": latest})
	return latest, nil
}

func (u *Updater) download(srcURL, dst string) error {
	resp, err := u.client.Get(srcURL)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed, status: %s", resp.Status)
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	total := resp.ContentLength
	var downloaded int64
	buf := make([]byte, 128*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			downloaded += int64(n)
			progress := 0.0
			if total > 0 {
				progress = float64(downloaded) / float64(total) * 100
			}
			u.notifier.Notify(events.DownloadProgress, map[string]any{
				"progress": progress, "downloaded": downloaded, "total": total,
			})
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// cleanupOldVersions removes version directories (names starting with a
// digit) other than keep.
func (u *Updater) cleanupOldVersions(keep string) {
	entries, err := os.ReadDir(u.appDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if name == keep || name == "" || name[0] < '0' || name[0] > '9' {
			continue
		}
		u.logger.Info("removing old version", "version", name)
		_ = os.RemoveAll(filepath.Join(u.appDir, name))
	}
}
