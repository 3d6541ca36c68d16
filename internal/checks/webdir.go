package checks

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// SensitiveFilesPolicy is the policy alarm id of a webroot scan finding.
const SensitiveFilesPolicy = 3008

const maxSensitiveFiles = 100

// DefaultSensitivePatterns are matched against base names.
var DefaultSensitivePatterns = []string{
	".git", ".svn", ".env", "*.bak", "*.sql", "*.swp",
	"phpinfo.php", "*.tar.gz", "*.zip",
}

// WebdirScanner looks for files that should never be served from the web
// root. It runs once at module initialisation and then on the configured
// schedule.
type WebdirScanner struct {
	fs     afero.Fs
	sink   audit.Sink
	config func() *config.Config

	mu   sync.Mutex
	cron *cron.Cron
}

func NewWebdirScanner(fsys afero.Fs, sink audit.Sink, cfg func() *config.Config) *WebdirScanner {
	return &WebdirScanner{fs: fsys, sink: sink, config: cfg}
}

// Init runs the first scan and starts the schedule.
func (s *WebdirScanner) Init(ctx context.Context) error {
	cfg := s.config()
	if cfg.Webdir.Root == "" {
		return nil
	}

	if _, err := s.Run(ctx); err != nil {
		log.Warn().Err(err).Str("webroot", cfg.Webdir.Root).Msg("webroot scan failed")
	}

	if cfg.Webdir.Schedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Webdir.Schedule, func() {
		if _, err := s.Run(context.Background()); err != nil {
			log.Warn().Err(err).Msg("scheduled webroot scan failed")
		}
	}); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = c
	s.mu.Unlock()

	c.Start()
	return nil
}

// Stop ends the schedule.
func (s *WebdirScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
}

// Run scans the configured web root once and reports what it found.
func (s *WebdirScanner) Run(ctx context.Context) ([]string, error) {
	cfg := s.config()
	root := cfg.Webdir.Root
	if root == "" {
		return nil, nil
	}

	patterns := cfg.Webdir.Patterns
	if len(patterns) == 0 {
		patterns = DefaultSensitivePatterns
	}

	found, err := s.scan(root, patterns)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		s.report(ctx, root, found)
	}
	return found, nil
}

func (s *WebdirScanner) scan(root string, patterns []string) ([]string, error) {
	var found []string

	err := afero.Walk(s.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if len(found) >= maxSensitiveFiles {
			return filepath.SkipAll
		}

		if matchesAny(info.Name(), patterns) {
			found = append(found, path)
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return nil, err
	}
	return found, nil
}

func (s *WebdirScanner) report(ctx context.Context, root string, found []string) {
	params := audit.WithParam(json.RawMessage(nil), "webroot", root)
	params = audit.WithParam(params, "sensitive_files", found)

	s.sink.Report(ctx, audit.Alarm{
		Kind:      audit.KindPolicy,
		CheckType: check.PolicyAlarm.String(),
		PolicyID:  SensitiveFilesPolicy,
		Action:    check.ActionLog.String(),
		Message:   "Sensitive files found in webroot path:" + root,
		Params:    params,
	})
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
