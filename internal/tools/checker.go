// Package tools locates the external browser binary the verifier drives.
package tools

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// versionTimeout bounds a single --version call.
const versionTimeout = 5 * time.Second

// CheckResult represents the result of looking for a browser
type CheckResult struct {
	Found      bool
	Path       string
	Version    string
	Configured bool   // Path came from configuration rather than a search
	Hint       string // Installation hint when nothing was found
}

// DefaultCandidates returns browser executables to search for, in order.
func DefaultCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"google-chrome",
			"chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			"chrome",
		}
	default:
		return []string{
			"google-chrome",
			"google-chrome-stable",
			"chromium",
			"chromium-browser",
			"headless-shell",
		}
	}
}

// InstallHint returns a one-line installation suggestion for the current OS.
func InstallHint() string {
	switch runtime.GOOS {
	case "darwin":
		return "brew install --cask google-chrome"
	case "windows":
		return "install Google Chrome from https://www.google.com/chrome/"
	default:
		return "apt install chromium (or install google-chrome-stable)"
	}
}

// FindBrowser checks the configured path, or searches candidates when it is
// empty. The version is best effort.
func FindBrowser(ctx context.Context, configured string, candidates []string) CheckResult {
	if configured != "" {
		res := CheckResult{Configured: true, Hint: InstallHint()}
		path, ok := resolve(configured)
		if !ok {
			return res
		}
		res.Found = true
		res.Path = path
		res.Version = getVersion(ctx, path)
		return res
	}

	for _, c := range candidates {
		if path, ok := resolve(c); ok {
			return CheckResult{Found: true, Path: path, Version: getVersion(ctx, path)}
		}
	}
	return CheckResult{Hint: InstallHint()}
}

// resolve accepts an absolute or relative path to an existing file, or a
// bare name found on PATH.
func resolve(name string) (string, bool) {
	if strings.ContainsAny(name, `/\`) {
		info, err := os.Stat(name)
		if err != nil || info.IsDir() {
			return "", false
		}
		return name, true
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return path, true
}

// getVersion runs the binary with --version and returns the first line.
func getVersion(ctx context.Context, binary string) string {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "--version")
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil || out.Len() == 0 {
		return "unknown"
	}
	version := strings.TrimSpace(strings.Split(out.String(), "\n")[0])
	if len(version) > 50 {
		version = version[:50] + "..."
	}
	return version
}
