// Package scanner walks the whole NAS tree and feeds every file through the
// same admission path as the watcher. It is used for the initial import and
// to catch up after the agent was down.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/internal/parser"
	"github.com/lecpa/docsync/internal/shortcut"
	"github.com/lecpa/docsync/internal/syncclient"
	"github.com/lecpa/docsync/pkg/types"
)

// DefaultProgressEvery is how many files pass between progress reports
const DefaultProgressEvery = 100

// Gateway receives scanned files
type Gateway interface {
	FileArrived(ctx context.Context, req types.FileArrivedRequest) types.FileArrivedResponse
	Relationship(ctx context.Context, req types.RelationshipRequest) types.RelationshipResponse
}

// Options narrows a scan
type Options struct {
	ClientCode string // only this client folder when set
	Year       int    // only files whose parsed year matches when non-zero
	DryRun     bool   // count without calling the gateway
}

// Result counts what a scan did. Queued counts files the boundary queued or
// held for approval (or, in a dry run, files that would have been sent).
// Duplicates count as skipped.
type Result struct {
	Scanned            int `json:"scanned"`
	Queued             int `json:"queued"`
	Skipped            int `json:"skipped"`
	Failed             int `json:"failed"`
	RelationshipsFound int `json:"relationships_found"`
}

// ProgressFunc observes a running scan
type ProgressFunc func(Result)

// Scanner performs full scans of the NAS root
type Scanner struct {
	parser        *parser.Parser
	resolver      *shortcut.Resolver
	gateway       Gateway
	logger        *zap.Logger
	metrics       *metrics.Recorder
	progress      ProgressFunc
	progressEvery int
}

// Option configures a Scanner
type Option func(*Scanner)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Scanner) { s.metrics = rec }
}

// WithProgress reports the running totals every n files
func WithProgress(fn ProgressFunc, every int) Option {
	return func(s *Scanner) {
		s.progress = fn
		if every > 0 {
			s.progressEvery = every
		}
	}
}

// New creates a Scanner
func New(p *parser.Parser, gateway Gateway, opts ...Option) *Scanner {
	s := &Scanner{
		parser:        p,
		resolver:      shortcut.NewResolver(p),
		gateway:       gateway,
		logger:        zap.NewNop(),
		progressEvery: DefaultProgressEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan walks every client folder under the root. A file that cannot be read
// or delivered is counted as failed and the walk continues; only an unreadable
// root or a cancelled context ends the scan early.
func (s *Scanner) Scan(ctx context.Context, opts Options) (Result, error) {
	var res Result
	root := s.parser.Root()

	entries, err := os.ReadDir(root)
	if err != nil {
		return res, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		code, _, _, ok := s.parser.ParseClientFolder(entry.Name())
		if !ok {
			s.logger.Debug("skipping non-client folder", zap.String("folder", entry.Name()))
			continue
		}
		if opts.ClientCode != "" && code != opts.ClientCode {
			continue
		}
		if err := s.scanClient(ctx, filepath.Join(root, entry.Name()), code, opts, &res); err != nil {
			return res, err
		}
	}

	s.logger.Info("scan complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("queued", res.Queued),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("relationships_found", res.RelationshipsFound),
		zap.Bool("dry_run", opts.DryRun))
	return res, nil
}

func (s *Scanner) scanClient(ctx context.Context, dir, code string, opts Options, res *Result) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Warn("cannot read path", zap.String("path", path), zap.Error(err))
			res.Failed++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		res.Scanned++
		s.scanFile(ctx, path, code, opts, res)
		if s.progress != nil && res.Scanned%s.progressEvery == 0 {
			s.progress(*res)
		}
		return nil
	})
}

func (s *Scanner) scanFile(ctx context.Context, path, code string, opts Options, res *Result) {
	if parser.IsShortcut(path) {
		s.scanShortcut(ctx, path, code, opts, res)
		return
	}

	parsed := s.parser.Parse(path)
	if !parsed.IsValid {
		res.Skipped++
		return
	}
	// files without a year folder (Permanent, client root) pass the year filter
	if opts.Year != 0 && parsed.Year != nil && *parsed.Year != opts.Year {
		res.Skipped++
		return
	}
	if opts.DryRun {
		res.Queued++
		return
	}

	req, err := syncclient.NewFileArrived(path, parsed)
	if err != nil {
		s.logger.Warn("failed to read file", zap.String("path", path), zap.Error(err))
		res.Failed++
		s.metrics.RecordFileEvent("scanned", types.SyncError)
		return
	}
	resp := s.gateway.FileArrived(ctx, req)
	s.metrics.RecordFileEvent("scanned", resp.Status)
	switch resp.Status {
	case types.SyncQueued, types.SyncPendingApproval:
		res.Queued++
	case types.SyncDuplicate:
		res.Skipped++
	default:
		res.Failed++
	}
}

func (s *Scanner) scanShortcut(ctx context.Context, path, code string, opts Options, res *Result) {
	resolution := s.resolver.Resolve(path, code)
	if !resolution.Found {
		res.Skipped++
		return
	}
	res.RelationshipsFound++
	if opts.DryRun {
		return
	}
	rel := resolution.Relationship
	resp := s.gateway.Relationship(ctx, types.RelationshipRequest{
		IndividualCode: rel.IndividualCode,
		BusinessCode:   rel.BusinessCode,
		Source:         rel.Source,
		SourcePath:     rel.SourcePath,
	})
	s.metrics.RecordFileEvent("relationship", resp.Status)
	if resp.Status == types.SyncError {
		res.Failed++
	}
}
