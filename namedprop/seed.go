package namedprop

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/internal/log"
)

// seedSchema validates the seed descriptor file (spec §4.3 bootstrap, §6
// "Seed descriptor is a line-oriented record set with fields ..."); this
// implementation uses a JSON array of records instead of the line-oriented
// original format, validated against this schema before loading.
const seedSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["objectClass", "oleguid", "mappedId"],
    "properties": {
      "objectClass": {"enum": ["MNID_ID", "MNID_STRING"]},
      "oleguid": {"type": "string"},
      "propId": {"type": "integer"},
      "propName": {"type": "string"},
      "mappedId": {"type": "integer", "minimum": 32768, "maximum": 65535},
      "propType": {},
      "oom": {"type": "string"},
      "canonical": {"type": "string"}
    }
  }
}`

// SeedRecord is one entry of the seed descriptor, matching the field names
// of §6's line-oriented record set (objectClass/oleguid/propId|propName/
// mappedId/propType), carried here as JSON instead.
type SeedRecord struct {
	ObjectClass string      `json:"objectClass"`
	OleGUID     string      `json:"oleguid"`
	PropID      uint32      `json:"propId,omitempty"`
	PropName    string      `json:"propName,omitempty"`
	MappedID    uint16      `json:"mappedId"`
	PropType    interface{} `json:"propType,omitempty"` // int or PT_* token, per §6
	OOM         string      `json:"oom,omitempty"`
	Canonical   string      `json:"canonical,omitempty"`
}

var compiledSeedSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("seed.json", bytes.NewReader([]byte(seedSchema))); err != nil {
		panic(fmt.Sprintf("namedprop: invalid embedded seed schema: %v", err))
	}
	s, err := c.Compile("seed.json")
	if err != nil {
		panic(fmt.Sprintf("namedprop: seed schema compile: %v", err))
	}
	compiledSeedSchema = s
}

// ParseSeed validates and decodes a seed descriptor document.
func ParseSeed(data []byte) ([]SeedRecord, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, icserr.New(icserr.InvalidParameter, "namedprop: seed descriptor is not valid JSON: %v", err)
	}
	if err := compiledSeedSchema.Validate(doc); err != nil {
		return nil, icserr.New(icserr.InvalidParameter, "namedprop: seed descriptor failed schema validation: %v", err)
	}

	var records []SeedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, icserr.Wrap(icserr.InvalidParameter, err)
	}
	return records, nil
}

// Bootstrap registers every well-known (kind, guid, key, prop_type) entry
// from a seed descriptor in reg via GetOrCreate, on first init (spec §4.3).
// The descriptor's mapped_id is not written: the registry assigns its own
// next free id (or keeps the id an entry already has), and where that id
// differs from the descriptor's mapped_id a warning is logged and the
// remaining seed continues. Running it again is idempotent.
func Bootstrap(reg Registry, data []byte) error {
	records, err := ParseSeed(data)
	if err != nil {
		return err
	}

	for _, rec := range records {
		guid, err := parseOleGUID(rec.OleGUID)
		if err != nil {
			log.Warnf("namedprop: seed record with bad oleguid %q skipped: %v", rec.OleGUID, err)
			continue
		}

		kind := ByID
		key := Key{ID: rec.PropID}
		if rec.ObjectClass == "MNID_STRING" {
			kind = ByString
			key = Key{Name: rec.PropName}
		}

		propType := propTypeOf(rec.PropType)

		assigned, err := reg.GetOrCreate(kind, guid, key, propType)
		if err != nil {
			return fmt.Errorf("namedprop: seeding %s/%s: %w", kind, rec.OleGUID, err)
		}
		if assigned != rec.MappedID {
			log.Warnf("namedprop: seed record %s/%s wanted mapped_id %d, registry already holds %d",
				kind, rec.OleGUID, rec.MappedID, assigned)
		}
	}
	return nil
}

func propTypeOf(v interface{}) uint16 {
	switch t := v.(type) {
	case float64:
		return uint16(t)
	case string:
		// A PT_* token from the seed file; unknown tokens map to 0
		// (PT_UNSPECIFIED) rather than failing the whole seed load.
		if pt, ok := ptTokens[t]; ok {
			return pt
		}
		return 0
	default:
		return 0
	}
}

var ptTokens = map[string]uint16{
	"PT_UNSPECIFIED": 0x0000,
	"PT_NULL":        0x0001,
	"PT_I2":          0x0002,
	"PT_LONG":        0x0003,
	"PT_DOUBLE":      0x0005,
	"PT_ERROR":       0x000A,
	"PT_BOOLEAN":     0x000B,
	"PT_OBJECT":      0x000D,
	"PT_I8":          0x0014,
	"PT_STRING8":     0x001E,
	"PT_UNICODE":     0x001F,
	"PT_SYSTIME":     0x0040,
	"PT_CLSID":       0x0048,
	"PT_SVREID":      0x00FB,
	"PT_BINARY":      0x0102,
}

// parseOleGUID parses the canonical "AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE"
// textual GUID form used by the seed descriptor into idset.GUID.
func parseOleGUID(s string) (idset.GUID, error) {
	var g idset.GUID
	clean := make([]byte, 0, 32)
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			continue
		}
		clean = append(clean, s[i])
	}
	if len(clean) != 32 {
		return g, fmt.Errorf("namedprop: malformed guid %q", s)
	}
	decoded := make([]byte, 16)
	if err := decodeHex(clean, decoded); err != nil {
		return g, err
	}
	copy(g[:], decoded)
	return g, nil
}

func decodeHex(clean []byte, out []byte) error {
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(clean[i*2])
		if err != nil {
			return err
		}
		lo, err := hexNibble(clean[i*2+1])
		if err != nil {
			return err
		}
		out[i] = hi<<4 | lo
	}
	return nil
}

func hexNibble(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("namedprop: invalid hex digit %q", b)
	}
}
