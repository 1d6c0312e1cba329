package propcodec

import "github.com/icsfxd/icsfx/idset"

// Value holds a decoded property value. Exactly the fields matching Type
// (and, for multi-valued properties, the matching "*s" slice) are
// meaningful; the rest are zero.
type Value struct {
	Type uint16 // base type code, MV flag never set here
	MV   bool

	Bool bool
	U16  uint16
	U32  uint32
	U64  uint64
	F64  float64
	Str  string
	Bin  []byte
	GUID idset.GUID

	Bools []bool
	U16s  []uint16
	U32s  []uint32
	U64s  []uint64
	F64s  []float64
	Strs  []string
	Bins  [][]byte
	GUIDs []idset.GUID
}

func BoolValue(b bool) Value   { return Value{Type: PTBoolean, Bool: b} }
func I2Value(v uint16) Value   { return Value{Type: PTI2, U16: v} }
func LongValue(v uint32) Value { return Value{Type: PTLong, U32: v} }
func I8Value(v uint64) Value   { return Value{Type: PTI8, U64: v} }
func SysTimeValue(v uint64) Value {
	return Value{Type: PTSysTime, U64: v}
}
func DoubleValue(v float64) Value     { return Value{Type: PTDouble, F64: v} }
func String8Value(s string) Value     { return Value{Type: PTString8, Str: s} }
func UnicodeValue(s string) Value     { return Value{Type: PTUnicode, Str: s} }
func BinaryValue(b []byte) Value      { return Value{Type: PTBinary, Bin: b} }
func SvrEidValue(b []byte) Value      { return Value{Type: PTSvrEid, Bin: b} }
func ClsidValue(g idset.GUID) Value   { return Value{Type: PTClsid, GUID: g} }
func NullValue() Value                { return Value{Type: PTNull} }

func MVUnicodeValue(ss []string) Value { return Value{Type: PTUnicode, MV: true, Strs: ss} }
func MVLongValue(vs []uint32) Value    { return Value{Type: PTLong, MV: true, U32s: vs} }
func MVBinaryValue(bs [][]byte) Value  { return Value{Type: PTBinary, MV: true, Bins: bs} }
