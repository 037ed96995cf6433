package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"security-rule-reconciler/internal/model"
)

// SetFile is a device backed by a set-config export on disk. Every
// mutation rewrites the whole file.
type SetFile struct {
	mu   sync.Mutex
	path string
	cfg  *setConfig
}

// OpenSetFile loads path. A missing file yields an empty device that must be
// bootstrapped before use.
func OpenSetFile(path string) (*SetFile, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &SetFile{path: path, cfg: newSetConfig()}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := parseSetConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &SetFile{path: path, cfg: cfg}, nil
}

func (s *SetFile) Bootstrap(_ context.Context, info *model.DeviceInfo) error {
	return s.update(func(cfg *setConfig) error {
		cfg.Info = *info
		return nil
	})
}

func (s *SetFile) Close() error {
	return nil
}

func (s *SetFile) Info(_ context.Context) (*model.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Info.Type == "" {
		return nil, ErrNotBootstrapped
	}
	info := s.cfg.Info
	info.DeviceGroups = append([]string(nil), info.DeviceGroups...)
	info.Vsys = append([]string(nil), info.Vsys...)
	return &info, nil
}

func (s *SetFile) Rules(_ context.Context, scope model.Scope) ([]model.SecurityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.cfg.Rulebases[keyOf(scope)]
	out := make([]model.SecurityRule, len(rules))
	copy(out, rules)
	return out, nil
}

func (s *SetFile) CreateRule(_ context.Context, scope model.Scope, rule *model.SecurityRule) error {
	return s.update(func(cfg *setConfig) error {
		key := keyOf(scope)
		if cfg.index(key, rule.Name) >= 0 {
			return fmt.Errorf("%w: %s", ErrRuleExists, rule.Name)
		}
		if rule.UUID == "" {
			rule.UUID = uuid.NewString()
		}
		cfg.addScope(key)
		cfg.Rulebases[key] = append(cfg.Rulebases[key], *rule)
		cfg.Pending = true
		return nil
	})
}

func (s *SetFile) UpdateRule(_ context.Context, scope model.Scope, rule *model.SecurityRule) error {
	return s.update(func(cfg *setConfig) error {
		key := keyOf(scope)
		i := cfg.index(key, rule.Name)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.Name)
		}
		if rule.UUID == "" {
			rule.UUID = cfg.Rulebases[key][i].UUID
		}
		cfg.Rulebases[key][i] = *rule
		cfg.Pending = true
		return nil
	})
}

func (s *SetFile) DeleteRule(_ context.Context, scope model.Scope, name string) error {
	return s.update(func(cfg *setConfig) error {
		key := keyOf(scope)
		i := cfg.index(key, name)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
		}
		rules := cfg.Rulebases[key]
		cfg.Rulebases[key] = append(rules[:i:i], rules[i+1:]...)
		delete(cfg.Comments[key], name)
		cfg.Pending = true
		return nil
	})
}

func (s *SetFile) MoveRule(_ context.Context, scope model.Scope, name string, where model.Location, ref string) error {
	return s.update(func(cfg *setConfig) error {
		key := keyOf(scope)
		rules := cfg.Rulebases[key]
		names := make([]string, len(rules))
		byName := make(map[string]model.SecurityRule, len(rules))
		for i, r := range rules {
			names[i] = r.Name
			byName[r.Name] = r
		}
		ordered, err := reorder(names, name, where, ref)
		if err != nil {
			return err
		}
		moved := make([]model.SecurityRule, len(ordered))
		for i, n := range ordered {
			moved[i] = byName[n]
		}
		cfg.Rulebases[key] = moved
		cfg.Pending = true
		return nil
	})
}

func (s *SetFile) SetAuditComment(_ context.Context, scope model.Scope, name, comment string) error {
	return s.update(func(cfg *setConfig) error {
		key := keyOf(scope)
		if cfg.index(key, name) < 0 {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
		}
		if cfg.Comments[key] == nil {
			cfg.Comments[key] = make(map[string][]model.AuditComment)
		}
		cfg.Comments[key][name] = append(cfg.Comments[key][name], model.AuditComment{
			RuleName: name,
			Comment:  comment,
			Time:     time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	})
}

func (s *SetFile) AuditComments(_ context.Context, scope model.Scope, name string) ([]model.AuditComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditComment(nil), s.cfg.Comments[keyOf(scope)][name]...), nil
}

func (s *SetFile) Commit(_ context.Context, deviceGroup string) (string, error) {
	var jobID string
	err := s.update(func(cfg *setConfig) error {
		if !cfg.Pending {
			return ErrNothingToCommit
		}
		total := 0
		for _, rules := range cfg.Rulebases {
			total += len(rules)
		}
		job := commitRecord{
			ID:          uuid.NewString(),
			DeviceGroup: deviceGroup,
			Rules:       total,
			Time:        time.Now().UTC().Format(time.RFC3339),
		}
		cfg.Commits = append(cfg.Commits, job)
		cfg.Pending = false
		jobID = job.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// update applies fn to a copy of the configuration and keeps the copy only
// once it is on disk.
func (s *SetFile) update(fn func(cfg *setConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// save replaces the file atomically via a temp file in the same directory.
func (s *SetFile) save(cfg *setConfig) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeSetConfig(tmp, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func keyOf(scope model.Scope) scopeKey {
	return scopeKey{Location: scope.Location, Rulebase: scope.Rulebase}
}
