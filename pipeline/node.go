package pipeline

import (
	"context"
	"regexp"

	"github.com/meridian-data/quarry/errors"
)

// Node is a unit of work taking one input record and producing a lazy,
// finite stream of output records. Calling Run again re-executes the
// node's logic from scratch; any internal cache (e.g. seen URLs) is the
// node's own responsibility and must be exposed through Resettable.
//
// A node that hits a per-item error should log it and emit zero records
// for that item rather than failing the stream; only definition errors
// and the cancellation signal abort a run.
type Node interface {
	Run(ctx context.Context, in Record) Stream
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, in Record) Stream

// Run implements Node.
func (f NodeFunc) Run(ctx context.Context, in Record) Stream {
	return f(ctx, in)
}

// Resettable is implemented by nodes carrying internal caches that must
// be droppable between pipeline runs.
type Resettable interface {
	Reset()
}

// GateAction selects the behavior of a conditional gate when its criteria
// match the inspected record.
type GateAction int

const (
	// GateSkip drops matching records (zero output).
	GateSkip GateAction = iota
	// GateContinue passes only matching records, dropping the rest.
	GateContinue
	// GateInterrupt raises the cancellation signal on match.
	GateInterrupt
)

// Gate inspects field values and passes the record through, drops it, or
// cancels the run. Criteria all have to match; Negate inverts the overall
// match.
type Gate struct {
	action   GateAction
	criteria map[string]string
	regexps  map[string]*regexp.Regexp
	negate   bool
}

// GateOption configures a Gate at construction.
type GateOption func(*Gate) error

// GateRegex compiles every criterion value as a regular expression
// matched against the field's string form.
func GateRegex() GateOption {
	return func(g *Gate) error {
		g.regexps = make(map[string]*regexp.Regexp, len(g.criteria))
		for field, expr := range g.criteria {
			re, err := regexp.Compile(expr)
			if err != nil {
				return errors.Wrapf(err, "gate criterion for field %q", field)
			}
			g.regexps[field] = re
		}
		return nil
	}
}

// GateNegate inverts the match.
func GateNegate() GateOption {
	return func(g *Gate) error {
		g.negate = true
		return nil
	}
}

// NewGate builds a conditional gate. Malformed criteria (bad regexps) are
// definition errors and fail here, never at run time.
func NewGate(action GateAction, criteria map[string]string, opts ...GateOption) (*Gate, error) {
	g := &Gate{action: action, criteria: criteria}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Gate) matches(in Record) bool {
	for field, want := range g.criteria {
		if !in.Has(field) {
			return false
		}
		got := in.String(field)
		if g.regexps != nil {
			if !g.regexps[field].MatchString(got) {
				return false
			}
		} else if got != want {
			return false
		}
	}
	return true
}

// Run implements Node.
func (g *Gate) Run(_ context.Context, in Record) Stream {
	match := g.matches(in)
	if g.negate {
		match = !match
	}
	switch g.action {
	case GateSkip:
		if match {
			return Empty()
		}
		return Emit(in)
	case GateContinue:
		if match {
			return Emit(in)
		}
		return Empty()
	case GateInterrupt:
		if match {
			return Fail(ErrCancel)
		}
		return Emit(in)
	}
	return Emit(in)
}
