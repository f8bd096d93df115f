// Package jobs loads and validates scan job lists from YAML, JSON or plain
// text files.
package jobs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hakim/scriptwatch/internal/models"
)

// Format identifies a job file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// FormatFor picks a format from a file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".txt", ".list":
		return FormatText
	default:
		return FormatYAML
	}
}

// document is the wrapped file layout: a top-level "jobs" key.
type document struct {
	Jobs []models.ScanJob `json:"jobs" yaml:"jobs"`
}

// Load reads a job file and returns its prepared jobs.
func Load(path string) ([]models.ScanJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jobs: reading %s: %w", path, err)
	}
	list, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("jobs: %s: %w", path, err)
	}
	return list, nil
}

// Parse decodes data and prepares the resulting jobs. YAML and JSON accept
// either a bare list or an object with a "jobs" key.
func Parse(data []byte, format Format) ([]models.ScanJob, error) {
	var list []models.ScanJob
	var err error

	switch format {
	case FormatText:
		list, err = parseText(data)
	case FormatJSON:
		list, err = parseJSON(data)
	default:
		list, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}
	return Prepare(list)
}

func parseYAML(data []byte) ([]models.ScanJob, error) {
	var list []models.ScanJob
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	return doc.Jobs, nil
}

func parseJSON(data []byte) ([]models.ScanJob, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var list []models.ScanJob
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
		return list, nil
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}
	return doc.Jobs, nil
}

// parseText reads one URL per line. Blank lines and # comments are skipped.
func parseText(data []byte) ([]models.ScanJob, error) {
	var list []models.ScanJob
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list = append(list, models.ScanJob{TargetURL: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading list: %w", err)
	}
	return list, nil
}

// FromURL builds a single prepared job, as used by a one-off check.
func FromURL(raw string) (models.ScanJob, error) {
	list, err := Prepare([]models.ScanJob{{TargetURL: raw}})
	if err != nil {
		return models.ScanJob{}, err
	}
	return list[0], nil
}

// Prepare normalizes URLs, fills missing names and validates every job.
// Positions given by the caller are kept; a list that carries none is
// numbered in order. All problems are reported together.
func Prepare(list []models.ScanJob) ([]models.ScanJob, error) {
	if len(list) == 0 {
		return nil, errors.New("no jobs")
	}

	numbered := false
	for _, j := range list {
		if j.Position != 0 {
			numbered = true
			break
		}
	}

	out := make([]models.ScanJob, len(list))
	var errs []error
	for i, j := range list {
		if !numbered {
			j.Position = i
		}
		j.TargetURL = NormalizeURL(j.TargetURL)
		j.DisplayName = strings.TrimSpace(j.DisplayName)
		if j.DisplayName == "" {
			j.DisplayName = hostOf(j.TargetURL)
		}
		if err := validate().Struct(j); err != nil {
			errs = append(errs, fmt.Errorf("job %d (%s): %s", i+1, j.TargetURL, describe(err)))
		}
		out[i] = j
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// NormalizeURL trims whitespace and defaults the scheme to https.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return raw
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}

var (
	vOnce sync.Once
	v     *validator.Validate
)

// validate returns the shared validator. Field names in messages follow the
// yaml tags so they match what operators write in job files.
func validate() *validator.Validate {
	vOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("yaml")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = v.RegisterValidation("web_url", isWebURL)
	})
	return v
}

// isWebURL accepts absolute http and https URLs with a host.
func isWebURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "web_url":
			msgs = append(msgs, fe.Field()+" must be an http(s) URL")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
