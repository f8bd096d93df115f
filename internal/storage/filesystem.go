package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeNameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeName strips characters unsafe in file names and replaces spaces
// with underscores. "Main St. Motors: North" becomes "Main_St._Motors_North".
func SanitizeName(name string) string {
	safe := unsafeNameChars.ReplaceAllString(name, "")
	return strings.ReplaceAll(safe, " ", "_")
}

// EvidencePath generates the screenshot path for a result
// Format: {baseDir}/{YYYY-MM-DD}/{status}_{name}.png
func EvidencePath(baseDir string, at time.Time, status, name string) string {
	day := at.Format("2006-01-02")
	file := fmt.Sprintf("%s_%s.png", status, SanitizeName(name))
	return filepath.Join(baseDir, day, file)
}

// ReportPath generates a path for a batch report
// Format: {baseDir}/reports/batch_{YYYYMMDD}_{HHMMSS}.{ext}
func ReportPath(baseDir string, startedAt time.Time, ext string) string {
	name := fmt.Sprintf("batch_%s.%s", startedAt.Format("20060102_150405"), ext)
	return filepath.Join(baseDir, "reports", name)
}

// EnsureDir creates a directory and all parent directories if they don't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// EnsureParent creates the directory that will hold path.
func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}
