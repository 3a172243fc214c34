// Package updater checks GitHub releases for a newer conc build and can
// swap the running binary in place.
package updater

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"concourse/version"
)

const releaseRepo = "concourse-dev/concourse"

// apiBase is a var so tests can point the updater at a local server.
var apiBase = "https://api.github.com"

var errNoRelease = errors.New("no releases published")

var httpClient = &http.Client{Timeout: 10 * time.Second}

// UpdateInfo is the outcome of a version check. DownloadURL and ChecksumURL
// are set only when an update is available.
type UpdateInfo struct {
	Available      bool
	CurrentVersion string
	LatestVersion  string
	DownloadURL    string
	ChecksumURL    string
}

type release struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
	Assets     []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// CheckForUpdates compares the running build against the newest published
// release.
func CheckForUpdates() (*UpdateInfo, error) {
	rel, err := latestRelease()
	if err != nil {
		return nil, fmt.Errorf("fetching latest release: %w", err)
	}

	info := &UpdateInfo{
		CurrentVersion: version.Get(),
		LatestVersion:  rel.TagName,
		Available:      newer(version.Get(), rel.TagName),
	}
	if !info.Available {
		return info, nil
	}

	want := assetName(rel.TagName)
	for _, a := range rel.Assets {
		switch a.Name {
		case want:
			info.DownloadURL = a.BrowserDownloadURL
		case "SHA256SUMS":
			info.ChecksumURL = a.BrowserDownloadURL
		}
	}
	if info.DownloadURL == "" {
		return nil, fmt.Errorf("release %s has no asset for %s/%s", rel.TagName, runtime.GOOS, runtime.GOARCH)
	}
	return info, nil
}

// latestRelease prefers the stable "latest" endpoint and falls back to the
// full listing, which also covers pre-release-only repos.
func latestRelease() (*release, error) {
	var rel release
	err := getJSON(apiBase+"/repos/"+releaseRepo+"/releases/latest", &rel)
	if err == nil {
		return &rel, nil
	}
	if !errors.Is(err, errNoRelease) {
		return nil, err
	}

	var all []release
	if err := getJSON(apiBase+"/repos/"+releaseRepo+"/releases", &all); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errNoRelease
	}
	return &all[0], nil
}

func getJSON(url string, out any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNoRelease
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github API returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// newer reports whether the latest tag is ahead of the current one. A dev
// build is always behind a published release.
func newer(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")
	if current == "dev" {
		return true
	}
	return latest > current
}

// assetName is the archive name the release workflow publishes for this
// platform, e.g. concourse-v0.2.0-linux-amd64.tar.gz.
func assetName(tag string) string {
	return fmt.Sprintf("concourse-%s-%s-%s.tar.gz", tag, runtime.GOOS, runtime.GOARCH)
}

// DownloadAndInstall fetches the release archive, verifies it against the
// published checksums when present, and replaces the running binary.
func DownloadAndInstall(info *UpdateInfo) error {
	tmpDir, err := os.MkdirTemp("", "conc-update-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, path.Base(info.DownloadURL))
	if err := download(archivePath, info.DownloadURL); err != nil {
		return fmt.Errorf("downloading update: %w", err)
	}
	if info.ChecksumURL != "" {
		if err := verifyArchive(archivePath, info.ChecksumURL, tmpDir); err != nil {
			return err
		}
	}

	binaryPath, err := extractBinary(archivePath, tmpDir)
	if err != nil {
		return fmt.Errorf("extracting binary: %w", err)
	}
	return replaceBinary(binaryPath)
}

func download(dest, url string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

// verifyArchive downloads SHA256SUMS and checks the archive's digest against
// its entry. A missing entry fails the install rather than skipping the check.
func verifyArchive(archivePath, checksumURL, tmpDir string) error {
	sumsPath := filepath.Join(tmpDir, "SHA256SUMS")
	if err := download(sumsPath, checksumURL); err != nil {
		return fmt.Errorf("downloading checksums: %w", err)
	}
	data, err := os.ReadFile(sumsPath)
	if err != nil {
		return err
	}

	name := filepath.Base(archivePath)
	var want string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			want = fields[0]
			break
		}
	}
	if want == "" {
		return fmt.Errorf("no checksum published for %s", name)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("checksum mismatch for %s: want %s, got %s", name, want, got)
	}
	return nil
}

// extractBinary pulls the first regular file out of the tar.gz archive; the
// release workflow packs exactly one.
func extractBinary(archivePath, destDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("no binary found in archive")
		}
		if err != nil {
			return "", err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		dest := filepath.Join(destDir, filepath.Base(header.Name))
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return "", err
		}
		if err := out.Close(); err != nil {
			return "", err
		}
		return dest, nil
	}
}

// replaceBinary swaps the running executable for the new one, restoring the
// backup if the copy fails midway.
func replaceBinary(newPath string) error {
	current, err := os.Executable()
	if err != nil {
		return err
	}
	current, err = filepath.EvalSymlinks(current)
	if err != nil {
		return err
	}

	backup := current + ".backup"
	if err := os.Rename(current, backup); err != nil {
		return fmt.Errorf("backing up current binary: %w", err)
	}
	if err := copyFile(newPath, current); err != nil {
		os.Rename(backup, current)
		return fmt.Errorf("installing new binary: %w", err)
	}
	if err := os.Chmod(current, 0755); err != nil {
		return err
	}
	os.Remove(backup)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
