// Package responder answers trigger comments: it deduplicates, resolves
// every requested identifier, formats the reply, and hands it off.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/msw-projects/termine/internal/resolver"
	"github.com/msw-projects/termine/internal/trigger"
)

// Comment is an inbound comment that can be replied to.
type Comment interface {
	ID() string
	Body() string
	Reply(ctx context.Context, text string) error
}

// Deduper remembers which comments were already answered.
type Deduper interface {
	HasResponded(commentID string) (bool, error)
	MarkResponded(commentID string) error
}

// Resolver resolves a single identifier.
type Resolver interface {
	Resolve(ctx context.Context, token string) resolver.Result
}

// Outcome describes what Handle did with a comment.
type Outcome int

const (
	// Ignored: the comment holds no trigger.
	Ignored Outcome = iota
	// Duplicate: the comment was answered before.
	Duplicate
	// DryRun: a reply was computed and logged but not sent.
	DryRun
	// Replied: the reply was handed off and the comment registered.
	Replied
	// Failed: the dedup state could not be read; nothing was done.
	Failed
	// Aborted: ctx ended while resolving; nothing was sent or registered,
	// so the comment is picked up again on the next run.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Duplicate:
		return "duplicate"
	case DryRun:
		return "dry_run"
	case Replied:
		return "replied"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Responder handles comments one at a time.
type Responder struct {
	dedup    Deduper
	resolver Resolver
	dryRun   bool
	logger   *slog.Logger
}

// Options configures a Responder.
type Options struct {
	// DryRun computes and logs replies without sending or registering them,
	// so the same comment is considered again on the next run.
	DryRun bool
	Logger *slog.Logger
}

// New creates a Responder.
func New(dedup Deduper, r Resolver, opts Options) *Responder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{dedup: dedup, resolver: r, dryRun: opts.DryRun, logger: logger}
}

// Handle answers c if it contains trigger commands and has not been
// answered yet. Identifiers are resolved sequentially; a failing identifier
// is logged and left out of the reply. The comment is registered as
// answered after the reply hand-off was attempted, even when it failed, in
// which case the reply error is returned.
func (r *Responder) Handle(ctx context.Context, c Comment) (Outcome, error) {
	tokens := trigger.Detect(c.Body())
	if len(tokens) == 0 {
		return Ignored, nil
	}

	logger := r.logger.With("comment_id", c.ID(), "run", uuid.NewString())

	done, err := r.dedup.HasResponded(c.ID())
	if err != nil {
		return Failed, &resolver.StoreError{Op: "checking responded", Err: err}
	}
	if done {
		logger.Debug("already responded")
		return Duplicate, nil
	}

	logger.Debug("new comment requesting events", "tokens", tokens)
	results := make([]resolver.Result, 0, len(tokens))
	for _, tok := range tokens {
		if ctx.Err() != nil {
			break
		}
		res := r.resolver.Resolve(ctx, tok)
		if !res.OK() {
			logger.Error("resolving identifier failed", "token", tok, "kind", res.Kind.String(), "error", res.Err)
		}
		results = append(results, res)
	}

	// Failures caused by shutdown say nothing about the identifiers.
	if err := ctx.Err(); err != nil {
		logger.Warn("stopped before replying, comment left unanswered", "error", err)
		return Aborted, fmt.Errorf("handling comment %s: %w", c.ID(), err)
	}

	text := FormatReply(results)

	if r.dryRun {
		logger.Info("dry run, not replying", "reply", text)
		return DryRun, nil
	}

	replyErr := c.Reply(ctx, text)
	if replyErr != nil {
		logger.Error("reply failed", "error", replyErr)
	}
	if err := r.dedup.MarkResponded(c.ID()); err != nil {
		markErr := &resolver.StoreError{Op: "registering response", Err: err}
		return Replied, errors.Join(replyErr, markErr)
	}
	if replyErr != nil {
		return Replied, fmt.Errorf("replying to %s: %w", c.ID(), replyErr)
	}

	logger.Info("replied to comment", "tokens", len(tokens))
	return Replied, nil
}
