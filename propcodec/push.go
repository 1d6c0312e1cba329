package propcodec

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/namedprop"
)

// Push writes tag then val to buf, per spec §4.2:
//  1. Emit the tag.
//  2. If tag is named, resolve it via reg.GetName and emit
//     (guid, kind_byte, key) right after the tag; a string key is a u32
//     byte count followed by null-terminated UTF-16LE, as Pull reads it.
//  3. Emit the value.
//
// The caller (C5, the FastTransfer stream encoder) is responsible for
// recording a cutmark immediately after this call returns.
func Push(buf *bytes.Buffer, tag Tag, val Value, reg namedprop.Registry) error {
	writeU32(buf, uint32(tag))

	if tag.IsNamed() {
		rec, err := reg.GetName(tag.PropID())
		if err != nil {
			return err
		}
		buf.Write(rec.GUID[:])
		if rec.Kind == namedprop.ByID {
			buf.WriteByte(0)
			writeU32(buf, rec.Key.ID)
		} else {
			buf.WriteByte(1)
			name := encodeUTF16LE(rec.Key.Name)
			writeU32(buf, uint32(len(name)))
			buf.Write(name)
		}
	}

	return encodeValue(buf, tag, val)
}

func encodeValue(buf *bytes.Buffer, tag Tag, val Value) error {
	if tag.IsMultiValue() {
		return encodeMV(buf, tag.BaseType(), val)
	}
	return encodeScalar(buf, tag.BaseType(), val)
}

func encodeMV(buf *bytes.Buffer, typ uint16, val Value) error {
	switch typ {
	case PTUnicode, PTString8:
		writeU32(buf, uint32(len(val.Strs)))
		for _, s := range val.Strs {
			if err := encodeScalar(buf, typ, Value{Type: typ, Str: s}); err != nil {
				return err
			}
		}
	case PTLong, PTObject:
		writeU32(buf, uint32(len(val.U32s)))
		for _, v := range val.U32s {
			writeU32(buf, v)
		}
	case PTI8, PTSysTime:
		writeU32(buf, uint32(len(val.U64s)))
		for _, v := range val.U64s {
			writeU64(buf, v)
		}
	case PTBinary, PTSvrEid:
		writeU32(buf, uint32(len(val.Bins)))
		for _, b := range val.Bins {
			writeU32(buf, uint32(len(b)))
			buf.Write(b)
		}
	case PTClsid:
		writeU32(buf, uint32(len(val.GUIDs)))
		for _, g := range val.GUIDs {
			buf.Write(g[:])
		}
	default:
		return icserr.New(icserr.UnsupportedType, "propcodec: unsupported multi-valued type 0x%04x", typ)
	}
	return nil
}

func encodeScalar(buf *bytes.Buffer, typ uint16, val Value) error {
	switch typ {
	case PTBoolean:
		if val.Bool {
			writeU16(buf, 1)
		} else {
			writeU16(buf, 0)
		}
	case PTI2:
		writeU16(buf, val.U16)
	case PTLong, PTError, PTObject:
		writeU32(buf, val.U32)
	case PTI8, PTSysTime:
		writeU64(buf, val.U64)
	case PTDouble:
		writeU64(buf, math.Float64bits(val.F64))
	case PTString8:
		b := append([]byte(val.Str), 0)
		writeU32(buf, uint32(len(b)))
		buf.Write(b)
	case PTUnicode:
		b := encodeUTF16LE(val.Str)
		writeU32(buf, uint32(len(b)))
		buf.Write(b)
	case PTBinary, PTSvrEid:
		writeU32(buf, uint32(len(val.Bin)))
		buf.Write(val.Bin)
	case PTClsid:
		buf.Write(val.GUID[:])
	case PTNull:
		// no payload
	default:
		return icserr.New(icserr.UnsupportedType, "propcodec: unsupported type 0x%04x", typ)
	}
	return nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
