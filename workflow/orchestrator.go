// Package workflow coordinates the three concurrent document
// extractions and feeds their results into the matching engine. All
// retry, timeout, and failure-aggregation logic lives here; the
// matching engine itself stays pure.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/threewaymatch/backend/matcher"
	"github.com/threewaymatch/backend/model"
	"github.com/threewaymatch/backend/pkg/logger"
)

// Extractor is the capability the orchestrator needs from the
// extraction pipeline: one call per document, returning a validated
// Document or a classified failure.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string, role model.Role) (model.Document, error)
}

// Source is one raw document input.
type Source struct {
	Data     []byte
	Filename string
}

// ParsedDocuments carries the three extracted documents for display.
type ParsedDocuments struct {
	PO  model.Document `json:"po"`
	DN  model.Document `json:"dn"`
	INV model.Document `json:"inv"`
}

// Result is the success payload of a run.
type Result struct {
	Report     model.MatchReport `json:"report"`
	Summary    string            `json:"summary"`
	ParsedData ParsedDocuments   `json:"parsed_data"`
}

// Config bounds the per-role retry policy and the overall deadline.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Timeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	return c
}

// Orchestrator runs the extraction-and-matching workflow. It holds no
// per-run mutable state, so one instance serves concurrent runs.
type Orchestrator struct {
	extractor Extractor
	cfg       Config
	matchOpts matcher.Options
}

func New(extractor Extractor, cfg Config, matchOpts matcher.Options) *Orchestrator {
	return &Orchestrator{
		extractor: extractor,
		cfg:       cfg.withDefaults(),
		matchOpts: matchOpts,
	}
}

// Run extracts the three documents concurrently and, when all three
// succeed, cross-references them. On failure it returns a
// *WorkflowError naming every role that failed; no partial report is
// produced from a missing document.
func (o *Orchestrator) Run(ctx context.Context, po, dn, inv Source) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	logger.Info(ctx, "workflow.run.start",
		"po_bytes", len(po.Data), "dn_bytes", len(dn.Data), "inv_bytes", len(inv.Data))

	inputs := []struct {
		role model.Role
		src  Source
	}{
		{model.RolePO, po},
		{model.RoleDN, dn},
		{model.RoleINV, inv},
	}

	// Barrier: all three settle before anything else happens. Each
	// goroutine owns its slot exclusively until the Wait.
	docs := make([]model.Document, len(inputs))
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			roleCtx := context.WithValue(ctx, logger.DocRoleKey, string(inputs[i].role))
			docs[i], errs[i] = o.extractWithRetry(roleCtx, inputs[i].role, inputs[i].src)
		}(i)
	}
	wg.Wait()

	var failures []RoleFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, RoleFailure{
				Role: inputs[i].role,
				Kind: Classify(err),
				Err:  err,
			})
		}
	}
	if len(failures) > 0 {
		wfErr := &WorkflowError{Failures: failures}
		logger.Error(ctx, "workflow.run.failed",
			"failed_roles", fmt.Sprint(wfErr.FailedRoles()),
			"detail", wfErr.Detail(),
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, wfErr
	}

	report, err := matcher.Match(docs[0], docs[1], docs[2], o.matchOpts)
	if err != nil {
		// Contract violation between extractor and engine; not a
		// user-facing business failure.
		logger.Error(ctx, "workflow.match.invariant_violation", "error", err)
		return nil, err
	}

	logger.Info(ctx, "workflow.run.done",
		"status", string(report.MatchSummary.Status),
		"total_items", report.MatchSummary.TotalItems,
		"mismatched", report.MatchSummary.Mismatched,
		"elapsed_ms", time.Since(start).Milliseconds())

	return &Result{
		Report:     report,
		Summary:    matcher.Summary(report),
		ParsedData: ParsedDocuments{PO: docs[0], DN: docs[1], INV: docs[2]},
	}, nil
}

// extractWithRetry applies the per-role retry policy: transient
// failures are retried with exponential backoff up to MaxAttempts;
// validation failures are surfaced immediately.
func (o *Orchestrator) extractWithRetry(ctx context.Context, role model.Role, src Source) (model.Document, error) {
	backoff := o.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		doc, err := o.extractor.Extract(ctx, src.Data, src.Filename, role)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		var te *TransientError
		if !errors.As(err, &te) {
			return model.Document{}, err
		}
		if ctx.Err() != nil {
			return model.Document{}, fmt.Errorf("extraction of %s abandoned: %w", role, ctx.Err())
		}
		if attempt == o.cfg.MaxAttempts {
			break
		}

		logger.Warn(ctx, "workflow.extract.retry",
			"attempt", attempt, "max_attempts", o.cfg.MaxAttempts,
			"backoff_ms", backoff.Milliseconds(), "error", err)

		select {
		case <-ctx.Done():
			return model.Document{}, fmt.Errorf("extraction of %s abandoned: %w", role, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return model.Document{}, fmt.Errorf("extraction of %s failed after %d attempts: %w", role, o.cfg.MaxAttempts, lastErr)
}
