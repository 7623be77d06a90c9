package pipeline

import (
	"iter"

	"github.com/meridian-data/quarry/errors"
)

// ErrEnd signals stream exhaustion. It is control flow, not failure.
var ErrEnd = errors.New("end of stream")

// ErrCancel is the cooperative cancellation signal. Any node may return it
// to unwind the entire pipeline run; composing stages must propagate it
// through every enclosing layer after releasing their resources.
// Already-committed work is retained.
var ErrCancel = errors.New("pipeline cancelled")

// Stream is a pull iterator over records. Next returns ErrEnd on
// exhaustion; any other error terminates the stream. Close releases
// resources held by a partially consumed stream and is safe to call more
// than once.
type Stream interface {
	Next() (Record, error)
	Close()
}

type sliceStream struct {
	recs []Record
	i    int
}

func (s *sliceStream) Next() (Record, error) {
	if s.i >= len(s.recs) {
		return Record{}, ErrEnd
	}
	r := s.recs[s.i]
	s.i++
	return r, nil
}

func (s *sliceStream) Close() { s.i = len(s.recs) }

// Emit returns a stream over the given records.
func Emit(recs ...Record) Stream {
	return &sliceStream{recs: recs}
}

// Empty returns a stream that yields nothing.
func Empty() Stream {
	return &sliceStream{}
}

type errStream struct{ err error }

func (s *errStream) Next() (Record, error) { return Record{}, s.err }
func (s *errStream) Close()                {}

// Fail returns a stream whose first Next reports err.
func Fail(err error) Stream {
	return &errStream{err: err}
}

type pullStream struct {
	next func() (Record, error, bool)
	stop func()
}

func (s *pullStream) Next() (Record, error) {
	rec, err, ok := s.next()
	if !ok {
		return Record{}, ErrEnd
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *pullStream) Close() { s.stop() }

// FromSeq adapts a generator-style sequence into a pull stream. The
// sequence body runs only as far as the consumer pulls, so node authors
// can write straight-line yield code while keeping lazy semantics.
func FromSeq(seq iter.Seq2[Record, error]) Stream {
	next, stop := iter.Pull2(seq)
	return &pullStream{next: next, stop: stop}
}
