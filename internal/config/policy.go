package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const policyFileName = "policy.toml"

// Policy is the durable sandbox policy, persisted as TOML and loaded
// (or initialized with defaults) at startup.
type Policy struct {
	ProtectedPaths []string        `toml:"protected_paths"`
	MaxFileSizeMB  int             `toml:"max_file_size_mb"`
	MaxPathLength  int             `toml:"max_path_length"`
	Validator      ValidatorPolicy `toml:"validator"`
	Search         SearchPolicy    `toml:"search"`
	Tasks          TaskPolicy      `toml:"tasks"`
}

type ValidatorPolicy struct {
	MinWorkers            int `toml:"min_workers"`
	MaxWorkers            int `toml:"max_workers"`
	AcquireTimeoutSeconds int `toml:"acquire_timeout_seconds"`
	CheckTimeoutSeconds   int `toml:"check_timeout_seconds"`
}

type SearchPolicy struct {
	Workers       int `toml:"workers"`
	MaxFileSizeMB int `toml:"max_file_size_mb"`
}

type TaskPolicy struct {
	OutputWindowKB     int `toml:"output_window_kb"`
	GracePeriodSeconds int `toml:"grace_period_seconds"`
	RetentionMinutes   int `toml:"retention_minutes"`
}

// PolicyStore reads and writes the policy file.
type PolicyStore struct {
	dir string
}

func NewPolicyStore(dir string) *PolicyStore {
	return &PolicyStore{dir: dir}
}

// LoadOrInit returns the stored policy, writing a normalized default
// file on first run.
func (s *PolicyStore) LoadOrInit() (Policy, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Policy{}, err
	}
	path := filepath.Join(s.dir, policyFileName)
	if b, err := os.ReadFile(path); err == nil {
		var p Policy
		if err := toml.Unmarshal(b, &p); err != nil {
			return Policy{}, err
		}
		return normalizePolicy(p), nil
	} else if !os.IsNotExist(err) {
		return Policy{}, err
	}

	p := normalizePolicy(Policy{})
	if err := s.Save(p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Save writes the policy atomically.
func (s *PolicyStore) Save(p Policy) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(normalizePolicy(p))
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, policyFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func normalizePolicy(p Policy) Policy {
	if len(p.ProtectedPaths) == 0 {
		p.ProtectedPaths = []string{".git", ".hg", ".svn", "node_modules", ".venv", "vendor"}
	}
	cleaned := make([]string, 0, len(p.ProtectedPaths))
	for _, path := range p.ProtectedPaths {
		path = strings.TrimSpace(path)
		if path != "" {
			cleaned = append(cleaned, path)
		}
	}
	p.ProtectedPaths = cleaned
	if p.MaxFileSizeMB <= 0 {
		p.MaxFileSizeMB = 16
	}
	if p.MaxPathLength <= 0 {
		p.MaxPathLength = 4096
	}
	if p.Validator.MaxWorkers <= 0 {
		p.Validator.MaxWorkers = 4
	}
	if p.Validator.MinWorkers <= 0 || p.Validator.MinWorkers > p.Validator.MaxWorkers {
		p.Validator.MinWorkers = 1
	}
	if p.Validator.AcquireTimeoutSeconds <= 0 {
		p.Validator.AcquireTimeoutSeconds = 2
	}
	if p.Validator.CheckTimeoutSeconds <= 0 {
		p.Validator.CheckTimeoutSeconds = 10
	}
	if p.Search.Workers <= 0 {
		p.Search.Workers = 8
	}
	if p.Search.MaxFileSizeMB <= 0 {
		p.Search.MaxFileSizeMB = 4
	}
	if p.Tasks.OutputWindowKB <= 0 {
		p.Tasks.OutputWindowKB = 64
	}
	if p.Tasks.GracePeriodSeconds <= 0 {
		p.Tasks.GracePeriodSeconds = 5
	}
	if p.Tasks.RetentionMinutes <= 0 {
		p.Tasks.RetentionMinutes = 60
	}
	return p
}

// Convenience accessors in the units the components consume.

func (p Policy) MaxFileSizeBytes() int64       { return int64(p.MaxFileSizeMB) << 20 }
func (p Policy) SearchMaxFileBytes() int64     { return int64(p.Search.MaxFileSizeMB) << 20 }
func (p Policy) AcquireTimeout() time.Duration { return seconds(p.Validator.AcquireTimeoutSeconds) }
func (p Policy) CheckTimeout() time.Duration   { return seconds(p.Validator.CheckTimeoutSeconds) }
func (p Policy) GracePeriod() time.Duration    { return seconds(p.Tasks.GracePeriodSeconds) }
func (p Policy) Retention() time.Duration {
	return time.Duration(p.Tasks.RetentionMinutes) * time.Minute
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
