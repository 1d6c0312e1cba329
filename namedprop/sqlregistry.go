package namedprop

import (
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/idset"
)

// firstMappedID is the backend-defined seed value: assignment starts at
// 0x8000, the first id outside the well-known/MAPI-reserved range (spec §3).
const firstMappedID = 0x8000

// SQLRegistry is the reference Registry implementation: a sqlite3 table
// accessed through sqlx + squirrel, with next_unused/create serialized by a
// SQL transaction per spec §4.3/§5.
type SQLRegistry struct {
	db *sqlx.DB
}

// NewSQLRegistry wraps an already-migrated *sqlx.DB (see Open).
func NewSQLRegistry(db *sqlx.DB) *SQLRegistry {
	return &SQLRegistry{db: db}
}

type row struct {
	MappedID uint16         `db:"mapped_id"`
	Kind     uint8          `db:"kind"`
	GUID     []byte         `db:"guid"`
	PropID   sql.NullInt64  `db:"prop_id"`
	PropName sql.NullString `db:"prop_name"`
	PropType uint16         `db:"prop_type"`
}

func (r row) toRecord() Record {
	rec := Record{MappedID: r.MappedID, Kind: Kind(r.Kind), PropType: r.PropType}
	copy(rec.GUID[:], r.GUID)
	if rec.Kind == ByID {
		rec.Key = Key{ID: uint32(r.PropID.Int64)}
	} else {
		rec.Key = Key{Name: r.PropName.String}
	}
	return rec
}

func lookupQuery(kind Kind, guid idset.GUID, key Key) (string, []interface{}, error) {
	q := sq.Select("mapped_id", "kind", "guid", "prop_id", "prop_name", "prop_type").
		From("named_properties").
		Where(sq.Eq{"kind": uint8(kind)}).
		Where(sq.Eq{"guid": guid[:]})
	if kind == ByID {
		q = q.Where(sq.Eq{"prop_id": key.ID})
	} else {
		q = q.Where(sq.Eq{"prop_name": key.Name})
	}
	return q.ToSql()
}

// GetMapped implements Registry.
func (r *SQLRegistry) GetMapped(kind Kind, guid idset.GUID, key Key) (uint16, error) {
	query, args, err := lookupQuery(kind, guid, key)
	if err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}

	var rr row
	if err := r.db.Get(&rr, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, icserr.New(icserr.NotFound, "namedprop: no mapping for %s/%s", kind, guid)
		}
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	return rr.MappedID, nil
}

// GetName implements Registry.
func (r *SQLRegistry) GetName(mappedID uint16) (Record, error) {
	query, args, err := sq.Select("mapped_id", "kind", "guid", "prop_id", "prop_name", "prop_type").
		From("named_properties").
		Where(sq.Eq{"mapped_id": mappedID}).
		ToSql()
	if err != nil {
		return Record{}, icserr.Wrap(icserr.BackendError, err)
	}

	var rr row
	if err := r.db.Get(&rr, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, icserr.New(icserr.NotFound, "namedprop: no record for mapped_id %d", mappedID)
		}
		return Record{}, icserr.Wrap(icserr.BackendError, err)
	}
	// mappedId is the table's primary key: per spec §9's open question, treat
	// it as unique by construction rather than re-keying on a supposedly
	// non-unique column.
	return rr.toRecord(), nil
}

// GetOrCreate implements Registry, wrapping next_unused+create in one
// transaction so two concurrent callers can never claim the same mapped_id
// for the same (kind, guid, key), and so that an identical tuple reuses its
// existing mapping (create-on-write, idempotent).
func (r *SQLRegistry) GetOrCreate(kind Kind, guid idset.GUID, key Key, propType uint16) (uint16, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	defer tx.Rollback()

	query, args, err := lookupQuery(kind, guid, key)
	if err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}

	var existing row
	err = tx.Get(&existing, query, args...)
	if err == nil {
		// Already mapped: commit nothing changed, just confirm the read.
		if cerr := tx.Commit(); cerr != nil {
			return 0, icserr.Wrap(icserr.BackendError, cerr)
		}
		return existing.MappedID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}

	// next_unused: current max(mapped_id)+1, defaulting to firstMappedID.
	// The legacy query this mirrors was syntactically broken
	// ("max(mappedId FROM <table>"); the corrected intent, per spec §9, is
	// simply SELECT max(mapped_id) FROM named_properties.
	var maxID sql.NullInt64
	if err := tx.Get(&maxID, "SELECT max(mapped_id) FROM named_properties"); err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}

	next := uint16(firstMappedID)
	if maxID.Valid && maxID.Int64 >= firstMappedID {
		if maxID.Int64 >= 0xFFFF {
			return 0, icserr.New(icserr.NotEnoughMemory, "namedprop: mapped_id space exhausted")
		}
		next = uint16(maxID.Int64 + 1)
	}

	insert := sq.Insert("named_properties").
		Columns("mapped_id", "kind", "guid", "prop_id", "prop_name", "prop_type")
	if kind == ByID {
		insert = insert.Values(next, uint8(kind), guid[:], key.ID, nil, propType)
	} else {
		insert = insert.Values(next, uint8(kind), guid[:], nil, key.Name, propType)
	}
	iq, iargs, err := insert.ToSql()
	if err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	if _, err := tx.Exec(iq, iargs...); err != nil {
		return 0, icserr.Wrap(icserr.TransactionConflict, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, icserr.Wrap(icserr.BackendError, err)
	}
	return next, nil
}
