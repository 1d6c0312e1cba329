package propcodec

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/namedprop"
)

// Pull is the symmetric inverse of Push: it reads one (tag, value) block
// from r, resolving a named prefix through reg.GetOrCreate when present so
// an uploaded name is assigned (or reuses) a mapped_id before the value is
// decoded.
func Pull(r *bytes.Reader, reg namedprop.Registry) (Tag, Value, error) {
	rawTag, err := readU32(r)
	if err != nil {
		return 0, Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated tag")
	}
	tag := Tag(rawTag)

	if tag.IsNamed() {
		var guid idset.GUID
		if _, err := io.ReadFull(r, guid[:]); err != nil {
			return 0, Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated named-prop guid")
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return 0, Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated named-prop kind byte")
		}

		var key namedprop.Key
		kind := namedprop.ByID
		if kindByte == 0 {
			id, err := readU32(r)
			if err != nil {
				return 0, Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated named-prop id")
			}
			key = namedprop.Key{ID: id}
		} else {
			kind = namedprop.ByString
			name, err := readUTF16LEString(r)
			if err != nil {
				return 0, Value{}, err
			}
			key = namedprop.Key{Name: name}
		}

		mappedID, err := reg.GetOrCreate(kind, guid, key, tag.BaseType())
		if err != nil {
			return 0, Value{}, err
		}
		tag = MakeTag(mappedID, tag.PropType())
	}

	val, err := decodeValue(r, tag)
	if err != nil {
		return 0, Value{}, err
	}
	return tag, val, nil
}

func decodeValue(r *bytes.Reader, tag Tag) (Value, error) {
	if tag.IsMultiValue() {
		return decodeMV(r, tag.BaseType())
	}
	return decodeScalar(r, tag.BaseType())
}

func decodeMV(r *bytes.Reader, typ uint16) (Value, error) {
	count, err := readU32(r)
	if err != nil {
		return Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated mv count")
	}

	val := Value{Type: typ, MV: true}
	for i := uint32(0); i < count; i++ {
		switch typ {
		case PTUnicode, PTString8:
			elem, err := decodeScalar(r, typ)
			if err != nil {
				return Value{}, err
			}
			val.Strs = append(val.Strs, elem.Str)
		case PTLong, PTObject:
			v, err := readU32(r)
			if err != nil {
				return Value{}, err
			}
			val.U32s = append(val.U32s, v)
		case PTI8, PTSysTime:
			v, err := readU64(r)
			if err != nil {
				return Value{}, err
			}
			val.U64s = append(val.U64s, v)
		case PTBinary, PTSvrEid:
			n, err := readU32(r)
			if err != nil {
				return Value{}, err
			}
			b := make([]byte, n)
			if _, err := io.ReadFull(r, b); err != nil {
				return Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated mv binary element")
			}
			val.Bins = append(val.Bins, b)
		case PTClsid:
			var g idset.GUID
			if _, err := io.ReadFull(r, g[:]); err != nil {
				return Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated mv clsid element")
			}
			val.GUIDs = append(val.GUIDs, g)
		default:
			return Value{}, icserr.New(icserr.UnsupportedType, "propcodec: unsupported multi-valued type 0x%04x", typ)
		}
	}
	return val, nil
}

func decodeScalar(r *bytes.Reader, typ uint16) (Value, error) {
	switch typ {
	case PTBoolean:
		v, err := readU16(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: typ, Bool: v != 0}, nil
	case PTI2:
		v, err := readU16(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: typ, U16: v}, nil
	case PTLong, PTError, PTObject:
		v, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: typ, U32: v}, nil
	case PTI8, PTSysTime:
		v, err := readU64(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: typ, U64: v}, nil
	case PTDouble:
		v, err := readU64(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: typ, F64: math.Float64frombits(v)}, nil
	case PTString8:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated string8")
		}
		s := string(bytes.TrimRight(b, "\x00"))
		return Value{Type: typ, Str: s}, nil
	case PTUnicode:
		s, err := readUTF16LEString(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: typ, Str: s}, nil
	case PTBinary, PTSvrEid:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated binary")
		}
		return Value{Type: typ, Bin: b}, nil
	case PTClsid:
		var g idset.GUID
		if _, err := io.ReadFull(r, g[:]); err != nil {
			return Value{}, icserr.New(icserr.UnsupportedType, "propcodec: truncated clsid")
		}
		return Value{Type: typ, GUID: g}, nil
	case PTNull:
		return Value{Type: typ}, nil
	default:
		return Value{}, icserr.New(icserr.UnsupportedType, "propcodec: unsupported type 0x%04x", typ)
	}
}

func readUTF16LEString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", icserr.New(icserr.UnsupportedType, "propcodec: truncated unicode length")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", icserr.New(icserr.UnsupportedType, "propcodec: truncated unicode payload")
	}
	s, err := decodeUTF16LE(b)
	if err != nil {
		return "", icserr.Wrap(icserr.UnsupportedType, err)
	}
	return s, nil
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, icserr.New(icserr.UnsupportedType, "propcodec: truncated u16")
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, icserr.New(icserr.UnsupportedType, "propcodec: truncated u32")
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, icserr.New(icserr.UnsupportedType, "propcodec: truncated u64")
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
