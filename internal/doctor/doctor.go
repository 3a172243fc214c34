// Package doctor runs environment diagnostics: config, credentials, backend
// reachability, and the local datastore.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"concourse/config"
	"concourse/internal/credentials"
	"concourse/internal/onboarding"
	"concourse/internal/storage"
)

type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

type CheckResult struct {
	Name    string
	Status  Status
	Summary string
	Details []string
	Actions []string
}

type Report struct {
	Checks []CheckResult
}

func (r Report) HasFailures() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return true
		}
	}
	return false
}

func (r Report) ExitCode() int {
	if r.HasFailures() {
		return 1
	}
	return 0
}

func GenerateReport() Report {
	var checks []CheckResult

	checks = append(checks, checkMetadata())

	configResult, registry := checkConfig()
	checks = append(checks, configResult)

	checks = append(checks, checkSecrets())
	checks = append(checks, checkBackend(registry))
	checks = append(checks, checkOnboarding())
	checks = append(checks, checkDataStore())

	return Report{Checks: checks}
}

func checkMetadata() CheckResult {
	result := CheckResult{Name: "Runtime Metadata", Status: StatusOK}

	execPath, err := os.Executable()
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Could not resolve executable path"
		result.Details = append(result.Details, err.Error())
		return result
	}

	goVersion := runtime.Version()
	if buildInfo, ok := debug.ReadBuildInfo(); ok && buildInfo.GoVersion != "" {
		goVersion = buildInfo.GoVersion
	}

	result.Summary = "Binary and runtime metadata resolved"
	result.Details = append(result.Details,
		fmt.Sprintf("executable: %s", execPath),
		fmt.Sprintf("go: %s", goVersion),
		fmt.Sprintf("platform: %s/%s", runtime.GOOS, runtime.GOARCH),
	)
	return result
}

func checkConfig() (CheckResult, *config.BackendRegistry) {
	result := CheckResult{Name: "Configuration", Status: StatusOK}

	configDir, err := config.GetConfigDir()
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Cannot resolve config directory"
		result.Details = append(result.Details, err.Error())
		return result, nil
	}
	if err := checkDirWritable(configDir); err != nil {
		result.Status = StatusFail
		result.Summary = "Config directory is not writable"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, fmt.Sprintf("fix permissions on %s", configDir))
		return result, nil
	}

	registry, err := config.LoadBackendRegistry()
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Backend registry failed to load"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "fix or delete backends.yaml and re-run setup")
		return result, nil
	}

	result.Summary = fmt.Sprintf("%d backend(s) configured", len(registry.Backends))
	result.Details = append(result.Details, fmt.Sprintf("config dir: %s", configDir))
	for _, b := range registry.Backends {
		result.Details = append(result.Details, fmt.Sprintf("backend %q: %s", b.Name, b.BaseURL))
	}
	return result, registry
}

func checkDirWritable(dir string) error {
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func checkSecrets() CheckResult {
	result := CheckResult{Name: "Credentials", Status: StatusOK}

	exists, err := credentials.HasAPIToken()
	switch {
	case err != nil:
		result.Status = StatusWarn
		result.Summary = "Keyring is not readable"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "check your system keyring service")
	case !exists:
		result.Status = StatusFail
		result.Summary = "No API token stored"
		result.Actions = append(result.Actions, "run: conc secret create "+credentials.APITokenName)
	default:
		result.Summary = "API token present in keyring"
	}
	return result
}

func checkBackend(registry *config.BackendRegistry) CheckResult {
	result := CheckResult{Name: "Backend", Status: StatusOK}
	if registry == nil {
		result.Status = StatusWarn
		result.Summary = "Skipped: registry unavailable"
		return result
	}

	backendConf, err := registry.DefaultBackend()
	if err != nil {
		result.Status = StatusFail
		result.Summary = "No default backend"
		result.Details = append(result.Details, err.Error())
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backendConf.BaseURL, nil)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Default backend URL is malformed"
		result.Details = append(result.Details, err.Error())
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusFail
		result.Summary = fmt.Sprintf("Backend %q is unreachable", backendConf.Name)
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "verify the base URL and your network connection")
		return result
	}
	resp.Body.Close()

	result.Summary = fmt.Sprintf("Backend %q reachable (%s)", backendConf.Name, resp.Status)
	return result
}

func checkOnboarding() CheckResult {
	result := CheckResult{Name: "Onboarding", Status: StatusOK}
	if onboarding.IsFirstRun() {
		result.Status = StatusWarn
		result.Summary = "Setup has not completed"
		result.Actions = append(result.Actions, "run: conc (the wizard starts automatically)")
		return result
	}
	result.Summary = "Setup complete"
	return result
}

func checkDataStore() CheckResult {
	result := CheckResult{Name: "Datastore", Status: StatusOK}

	dbPath, err := config.GetDatabasePath()
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Cannot resolve database path"
		result.Details = append(result.Details, err.Error())
		return result
	}

	if stat, err := os.Stat(dbPath); err == nil {
		result.Details = append(result.Details, fmt.Sprintf("db: %s (%s)", dbPath, formatBytes(stat.Size())))
	} else if errors.Is(err, os.ErrNotExist) {
		result.Details = append(result.Details, "db not created yet (first launch creates it)")
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Database failed to open or migrate"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "back up and remove the db file, then relaunch")
		return result
	}
	db.Close()

	result.Summary = "Database opens and migrations apply"
	return result
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
