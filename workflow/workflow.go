// Package workflow runs one stamping pass: locate the phrase, read the
// token, stamp and write the output, then check the result.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/georgepadayatti/tokenstamp/config"
	"github.com/georgepadayatti/tokenstamp/locate"
	"github.com/georgepadayatti/tokenstamp/stamp"
	"github.com/georgepadayatti/tokenstamp/token"
)

// Common errors
var (
	ErrPhraseNotFound = errors.New("phrase not found")
	ErrTokenRead      = errors.New("failed to read token")
	ErrInputModified  = errors.New("input file changed during the run")
)

// Deps are the collaborators of a run. A nil Token is built from the
// configuration; a nil Logger discards output.
type Deps struct {
	Token  token.Source
	Prompt config.PINSource
	Logger *zap.Logger
}

// Report describes a completed run.
type Report struct {
	RunID       uuid.UUID           `json:"run_id"`
	Occurrences []locate.Occurrence `json:"occurrences"`
	Identity    token.Identity      `json:"identity"`
	Placements  []stamp.Placement   `json:"placements"`
	Output      string              `json:"output"`
	InputDigest Digest              `json:"input_blake2b"`
	OutputPages int                 `json:"output_pages"`
	Fallback    bool                `json:"fallback"`
}

// NewTokenSource returns the identity source for cfg.
func NewTokenSource(cfg config.TokenConfig, prompt config.PINSource, logger *zap.Logger) token.Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Source == config.SourcePKCS12 {
		return token.NewPKCS12Reader(cfg.PFXFile, cfg.PFXPassphrase).WithLogger(logger)
	}
	return token.NewReader(cfg, cfg.PINSource(prompt)).WithLogger(logger)
}

// Run performs one stamping pass. Nothing is written unless the token read
// succeeds and there is somewhere to put the stamp.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.New(), Output: cfg.Output}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run_id", report.RunID.String()))

	data, err := os.ReadFile(cfg.Input)
	if err != nil {
		return report, fmt.Errorf("failed to read %s: %w", cfg.Input, err)
	}
	report.InputDigest = DigestBytes(data)
	log.Debug("input read",
		zap.String("path", cfg.Input),
		zap.Int("bytes", len(data)),
		zap.Stringer("blake2b", report.InputDigest))

	doc, err := locate.Open(data)
	if err != nil {
		return report, err
	}
	occurrences, err := locate.Find(doc, cfg.Phrase)
	if err != nil {
		return report, fmt.Errorf("failed to locate phrase: %w", err)
	}
	report.Occurrences = occurrences
	log.Info("phrase located",
		zap.String("phrase", cfg.Phrase),
		zap.Int("occurrences", len(occurrences)))

	if len(occurrences) == 0 && !cfg.Stamp.FallbackOnMissing {
		return report, fmt.Errorf("%w: %q", ErrPhraseNotFound, cfg.Phrase)
	}

	src := deps.Token
	if src == nil {
		src = NewTokenSource(cfg.Token, deps.Prompt, log)
	}
	id, err := src.Read(ctx).Get()
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrTokenRead, err)
	}
	report.Identity = id

	layout := stamp.AnchoredLayout()
	var placements []stamp.Placement
	if len(occurrences) > 0 {
		if cfg.Stamp.FontSize > 0 {
			layout.FontSize = cfg.Stamp.FontSize
		}
		offsets := stamp.Offsets{X: cfg.Stamp.OffsetX, Y: cfg.Stamp.OffsetY}
		placements, err = stamp.PlanPlacements(doc, occurrences, layout, offsets)
		if err != nil {
			return report, err
		}
	} else {
		log.Warn("phrase not found, stamping page 1", zap.String("phrase", cfg.Phrase))
		layout = stamp.FallbackLayout()
		placements = []stamp.Placement{{Page: 1, X: cfg.Stamp.FallbackX, Y: cfg.Stamp.FallbackY}}
		report.Fallback = true
	}
	report.Placements = placements

	opts := &stamp.MutateOptions{InputPath: cfg.Input, Logger: log}
	if cfg.Stamp.Highlight {
		opts.Highlight = stamp.DefaultHighlightStyle()
	}
	sig := stamp.NewSignatureStamp(id.Username, id.Timestamp, layout)
	if err := stamp.Mutate(ctx, doc.Reader(), cfg.Output, placements, sig, opts); err != nil {
		return report, err
	}

	after, err := DigestFile(cfg.Input)
	if err != nil {
		return report, err
	}
	if after != report.InputDigest {
		return report, fmt.Errorf("%w: %s", ErrInputModified, cfg.Input)
	}

	report.OutputPages = doc.PageCount()
	if cfg.Verify.Enabled {
		pages, err := Validate(cfg.Output, doc.PageCount())
		if err != nil {
			return report, err
		}
		report.OutputPages = pages
		log.Debug("output validated", zap.Int("pages", pages))
	}

	log.Info("document stamped",
		zap.String("output", cfg.Output),
		zap.String("username", id.Username),
		zap.String("timestamp", id.Timestamp),
		zap.Int("stamps", len(placements)),
		zap.Bool("fallback", report.Fallback))
	return report, nil
}
