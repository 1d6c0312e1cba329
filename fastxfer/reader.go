package fastxfer

import "github.com/icsfxd/icsfx/icserr"

// Status reports whether a Reader has more data after a Read call.
type Status int

const (
	Partial Status = iota
	Done
)

// Reader is the chunked delivery side of a finalized Stream (spec §4.5): it
// hands back bounded slices of the produced byte stream, each ending on a
// cutmark boundary, so a transport window of a fixed size never splits a
// logical record.
type Reader struct {
	data     []byte
	cutmarks []uint32

	pos        int
	ptr        int
	steps      int
	totalSteps int
}

// Read returns up to max bytes of the stream, always cut at the last
// cutmark strictly before pos+max (or, if no cutmark reaches that far and
// the stream isn't yet exhausted, the next cutmark regardless of size --
// a single logical unit is never split). The returned status is Done once
// the whole stream has been consumed.
func (r *Reader) Read(max int) ([]byte, Status, error) {
	if max <= 0 {
		return nil, Partial, icserr.New(icserr.InvalidParameter, "fastxfer: read size must be positive, got %d", max)
	}

	if r.pos == 0 && r.totalSteps == 0 {
		total := len(r.data)
		steps := (total + max - 1) / max
		if steps == 0 {
			steps = 1
		}
		r.totalSteps = steps
	}

	for r.ptr < len(r.cutmarks) && int(r.cutmarks[r.ptr]) <= r.pos {
		r.ptr++
	}

	maxCut := r.pos + max
	end := r.pos
	for r.ptr < len(r.cutmarks) && r.cutmarks[r.ptr] != cutmarkEnd && int(r.cutmarks[r.ptr]) < maxCut {
		end = int(r.cutmarks[r.ptr])
		r.ptr++
	}

	if end == r.pos && r.ptr < len(r.cutmarks) && r.cutmarks[r.ptr] != cutmarkEnd {
		end = int(r.cutmarks[r.ptr])
		r.ptr++
	}

	chunk := r.data[r.pos:end]
	r.pos = end
	r.steps++

	status := Partial
	if r.pos >= len(r.data) {
		status = Done
	}
	return chunk, status, nil
}

// Steps returns the number of Read calls made so far.
func (r *Reader) Steps() int { return r.steps }

// TotalSteps returns ceil(len/max) computed from the first Read call's max,
// used by callers for progress reporting. Zero before the first Read.
func (r *Reader) TotalSteps() int { return r.totalSteps }

// Len returns the total stream length in bytes.
func (r *Reader) Len() int { return len(r.data) }

// Pos returns the current read position.
func (r *Reader) Pos() int { return r.pos }
