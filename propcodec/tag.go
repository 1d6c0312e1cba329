// Package propcodec implements the property codec (spec component C2): push
// and pull of tagged property values over an unaligned byte stream, with
// named-property resolution embedded in tags whose id is >= 0x8000.
package propcodec

// Tag is a 32-bit (id<<16 | type) property tag.
type Tag uint32

// Well-known property type codes (MS-OXCDATA PT_* values), the low 16 bits
// of a Tag. The MV flag marks a multi-valued array of the base type.
const (
	PTUnspecified uint16 = 0x0000
	PTNull        uint16 = 0x0001
	PTI2          uint16 = 0x0002
	PTLong        uint16 = 0x0003
	PTDouble      uint16 = 0x0005
	PTError       uint16 = 0x000A
	PTBoolean     uint16 = 0x000B
	PTObject      uint16 = 0x000D
	PTI8          uint16 = 0x0014
	PTString8     uint16 = 0x001E
	PTUnicode     uint16 = 0x001F
	PTSysTime     uint16 = 0x0040
	PTClsid       uint16 = 0x0048
	PTSvrEid      uint16 = 0x00FB
	PTBinary      uint16 = 0x0102

	PTMVFlag uint16 = 0x1000
)

// MakeTag packs a property id and type code into a Tag.
func MakeTag(id uint16, typ uint16) Tag {
	return Tag(uint32(id)<<16 | uint32(typ))
}

// PropID returns the tag's 16-bit property id.
func (t Tag) PropID() uint16 { return uint16(t >> 16) }

// PropType returns the tag's 16-bit type code, including the MV flag if set.
func (t Tag) PropType() uint16 { return uint16(t) }

// BaseType returns the type code with the MV flag cleared.
func (t Tag) BaseType() uint16 { return uint16(t) &^ PTMVFlag }

// IsMultiValue reports whether the tag's type has the MV flag set.
func (t Tag) IsMultiValue() bool { return uint16(t)&PTMVFlag != 0 }

// IsNamed reports whether the tag's id is >= 0x8000, i.e. it must be
// resolved through the named-property registry (spec §3/§4.2).
func (t Tag) IsNamed() bool { return t.PropID() >= 0x8000 }
