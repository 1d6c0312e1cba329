package fastxfer

import (
	"bytes"
	"encoding/binary"

	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/namedprop"
	"github.com/icsfxd/icsfx/propcodec"
)

// Stream is the FastTransfer encoder (spec §4.5): a byte buffer plus a
// parallel cutmark index, built up one logical atomic unit at a time. It is
// write-only; once complete, Finalize hands off an immutable Reader.
type Stream struct {
	buf      bytes.Buffer
	cutmarks []uint32
}

// NewStream returns an empty encoder ready to accept markers and properties.
func NewStream() *Stream {
	return &Stream{}
}

// mark records a cutmark at the current buffer length, i.e. immediately
// after the logical unit just written.
func (s *Stream) mark() {
	s.cutmarks = append(s.cutmarks, uint32(s.buf.Len()))
}

// WriteMarker writes a bare marker pseudo-tag and cuts after it.
func (s *Stream) WriteMarker(m Marker) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(m))
	s.buf.Write(b[:])
	s.mark()
}

// WriteProperty pushes one (tag, value) block through the property codec
// and cuts after it.
func (s *Stream) WriteProperty(tag propcodec.Tag, val propcodec.Value, reg namedprop.Registry) error {
	if err := propcodec.Push(&s.buf, tag, val, reg); err != nil {
		return err
	}
	s.mark()
	return nil
}

// WriteIdsetProperty writes marker followed by the serialized set as a
// PTBinary-shaped value, matching the way PidTagCnsetSeen/IdsetGiven/etc.
// are carried inline in the stream (spec §4.7, state section). Named-prop
// resolution never applies to these pseudo-tags, so no registry is needed.
func (s *Stream) WriteIdsetProperty(m Marker, set *idset.Set, resolver idset.ReplicaResolver) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(m))
	s.buf.Write(b[:])

	payload, err := idset.Serialize(set, resolver)
	if err != nil {
		return err
	}
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(payload)))
	s.buf.Write(lb[:])
	s.buf.Write(payload)

	s.mark()
	return nil
}

// Finalize appends the cutmark terminator and returns a Reader over the
// completed stream. The stream must not be written to again afterward.
func (s *Stream) Finalize() *Reader {
	cuts := make([]uint32, len(s.cutmarks)+1)
	copy(cuts, s.cutmarks)
	cuts[len(cuts)-1] = cutmarkEnd
	return &Reader{data: s.buf.Bytes(), cutmarks: cuts}
}

// Len reports the number of bytes written so far (pre-Finalize).
func (s *Stream) Len() int { return s.buf.Len() }
