package pipeline

import (
	"context"
	"regexp"

	"github.com/meridian-data/quarry/errors"
)

// Stage is one element of a pipeline definition tree.
type Stage interface {
	stage()
}

type nodeStage struct{ n Node }

type branchStage struct{ stages []Stage }

type loopStage struct{ stages []Stage }

func (nodeStage) stage()    {}
func (branchStage) stage()  {}
func (loopStage) stage()    {}
func (*switchStage) stage() {}

// Do wraps a node as a pipeline stage.
func Do(n Node) Stage {
	return nodeStage{n: n}
}

// Branch declares a sub-pipeline whose output is interleaved into the
// parent's output stream without feeding forward into sibling stages
// (fan-out without fan-in). The input record continues unchanged to the
// next sibling.
func Branch(stages ...Stage) Stage {
	return branchStage{stages: stages}
}

// Loop declares a sub-pipeline that is re-invoked against the latest
// upstream state until a full pass produces no records, e.g. "expand all
// archives, including archives found inside expanded archives".
func Loop(stages ...Stage) Stage {
	return loopStage{stages: stages}
}

// MissingPolicy controls a Switch when no case matches.
type MissingPolicy int

const (
	// MissingRaise fails the run.
	MissingRaise MissingPolicy = iota
	// MissingSkip silently stops the branch for this record.
	MissingSkip
	// MissingPass passes the record through unchanged.
	MissingPass
)

// SwitchCase binds a field value (exact string or regexp source) to a
// sub-pipeline.
type SwitchCase struct {
	Value  string
	Stages []Stage
}

type switchStage struct {
	field   string
	cases   []SwitchCase
	regexps []*regexp.Regexp // parallel to cases when regex mode
	def     []Stage
	missing MissingPolicy
}

// SwitchOption configures a Switch at construction.
type SwitchOption func(*switchStage) error

// SwitchRegex matches case values as regular expressions instead of
// exact strings.
func SwitchRegex() SwitchOption {
	return func(s *switchStage) error {
		s.regexps = make([]*regexp.Regexp, len(s.cases))
		for i, c := range s.cases {
			re, err := regexp.Compile(c.Value)
			if err != nil {
				return errors.Wrapf(err, "switch case %q", c.Value)
			}
			s.regexps[i] = re
		}
		return nil
	}
}

// SwitchDefault sets the sub-pipeline used when no case matches.
func SwitchDefault(stages ...Stage) SwitchOption {
	return func(s *switchStage) error {
		s.def = stages
		return nil
	}
}

// SwitchOnMissing sets the policy when no case matches and no default is
// configured.
func SwitchOnMissing(p MissingPolicy) SwitchOption {
	return func(s *switchStage) error {
		s.missing = p
		return nil
	}
}

// NewSwitch builds a dispatch stage selecting one sub-pipeline by the
// value of the named field. Ambiguous mappings (duplicate exact case
// values) and malformed regexps are definition errors and fail here.
func NewSwitch(field string, cases []SwitchCase, opts ...SwitchOption) (Stage, error) {
	if field == "" {
		return nil, errors.New("switch requires a field name")
	}
	s := &switchStage{field: field, cases: cases, missing: MissingRaise}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.regexps == nil {
		seen := make(map[string]bool, len(cases))
		for _, c := range cases {
			if seen[c.Value] {
				return nil, errors.Newf("ambiguous switch mapping: duplicate case %q", c.Value)
			}
			seen[c.Value] = true
		}
	}
	return s, nil
}

// pick returns the sub-pipeline for a record, or ok=false when nothing
// matches and no default exists.
func (s *switchStage) pick(in Record) ([]Stage, bool) {
	if in.Has(s.field) {
		got := in.String(s.field)
		for i, c := range s.cases {
			if s.regexps != nil {
				if s.regexps[i].MatchString(got) {
					return c.Stages, true
				}
			} else if c.Value == got {
				return c.Stages, true
			}
		}
	}
	if s.def != nil {
		return s.def, true
	}
	return nil, false
}

// Pipeline is an executable dataflow definition.
type Pipeline struct {
	stages []Stage
}

// New assembles a pipeline from a stage tree.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// errStopPull is returned internally when the consumer stops pulling; it
// unwinds the interpreter without surfacing an error.
var errStopPull = errors.New("consumer stopped")

// Run executes the pipeline starting from an empty record and returns the
// lazy stream of final outputs. The interpreter advances only as far as
// the consumer pulls; Close on the returned stream releases everything.
func (p *Pipeline) Run(ctx context.Context) Stream {
	return p.RunWith(ctx, NewRecord())
}

// RunWith executes the pipeline seeded with the given record.
func (p *Pipeline) RunWith(ctx context.Context, seed Record) Stream {
	return FromSeq(func(yield func(Record, error) bool) {
		emit := func(r Record) error {
			if !yield(r, nil) {
				return errStopPull
			}
			return nil
		}
		err := runSeq(ctx, p.stages, 0, seed, emit)
		if err != nil && !errors.Is(err, errStopPull) {
			yield(Record{}, err)
		}
	})
}

// Reset drops internal caches of every Resettable node in the tree.
func (p *Pipeline) Reset() {
	resetStages(p.stages)
}

func resetStages(stages []Stage) {
	for _, st := range stages {
		switch s := st.(type) {
		case nodeStage:
			if r, ok := s.n.(Resettable); ok {
				r.Reset()
			}
		case branchStage:
			resetStages(s.stages)
		case loopStage:
			resetStages(s.stages)
		case *switchStage:
			for _, c := range s.cases {
				resetStages(c.Stages)
			}
			resetStages(s.def)
		}
	}
}

// runSeq feeds a record into stages[i:], depth-first. emit receives the
// records that fall off the end of the chain.
func runSeq(ctx context.Context, stages []Stage, i int, in Record, emit func(Record) error) error {
	if err := ctx.Err(); err != nil {
		return ErrCancel
	}
	if i >= len(stages) {
		return emit(in)
	}

	switch s := stages[i].(type) {
	case nodeStage:
		out := s.n.Run(ctx, in.Clone())
		defer out.Close()
		for {
			rec, err := out.Next()
			if errors.Is(err, ErrEnd) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := runSeq(ctx, stages, i+1, rec, emit); err != nil {
				return err
			}
		}

	case branchStage:
		if err := runSeq(ctx, s.stages, 0, in.Clone(), emit); err != nil {
			return err
		}
		return runSeq(ctx, stages, i+1, in, emit)

	case loopStage:
		for {
			produced := 0
			counting := func(r Record) error {
				produced++
				return emit(r)
			}
			if err := runSeq(ctx, s.stages, 0, in.Clone(), counting); err != nil {
				return err
			}
			if produced == 0 {
				break
			}
		}
		return runSeq(ctx, stages, i+1, in, emit)

	case *switchStage:
		sub, ok := s.pick(in)
		if !ok {
			switch s.missing {
			case MissingSkip:
				return nil
			case MissingPass:
				return runSeq(ctx, stages, i+1, in, emit)
			default:
				return errors.Newf("switch on field %q: no case matches %q", s.field, in.String(s.field))
			}
		}
		// Selected sub-pipeline output feeds forward into the siblings.
		forward := func(r Record) error {
			return runSeq(ctx, stages, i+1, r, emit)
		}
		return runSeq(ctx, sub, 0, in.Clone(), forward)
	}

	return errors.AssertionFailedf("unknown stage type %T", stages[i])
}
