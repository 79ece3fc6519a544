package pgcatalog

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq/oid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Querier is the slice of a pgx connection the fetcher needs. *pgx.Conn,
// pgxpool.Pool and pgx.Tx all satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Fetcher feeds the catalog from a live connection. It issues the
// pg_catalog queries for oids the catalog yields as unresolved and inserts
// the rows back until resolution completes one way or the other.
type Fetcher struct {
	db  Querier
	cat *Catalog
	log *logrus.Entry
}

func NewFetcher(db Querier, cat *Catalog) *Fetcher {
	return &Fetcher{
		db:  db,
		cat: cat,
		log: logrus.WithField("component", "pgcatalog.fetcher"),
	}
}

const typeQuery = `
SELECT t.typname,
       t.typtype::text,
       t.typcategory::text,
       t.typrelid::int8,
       t.typelem::int8,
       t.typbasetype::int8
FROM pg_catalog.pg_type t
WHERE t.oid = $1::int8`

const enumQuery = `
SELECT enumlabel
FROM pg_catalog.pg_enum
WHERE enumtypid = $1::int8
ORDER BY enumsortorder`

const compositeQuery = `
SELECT attname, atttypid::int8
FROM pg_catalog.pg_attribute
WHERE attrelid = $1::int8
  AND attnum > 0
  AND NOT attisdropped
ORDER BY attnum`

const rangeQuery = `
SELECT rngsubtype::int8
FROM pg_catalog.pg_range
WHERE rngtypid = $1::int8`

// FetchType loads a single pg_type row and distills it into a TypeRecord.
// ErrMissing is returned when the oid does not exist in the database.
func (f *Fetcher) FetchType(ctx context.Context, o oid.Oid) (TypeRecord, error) {
	rows, err := f.db.Query(ctx, typeQuery, int64(o))
	if err != nil {
		return TypeRecord{}, errors.Wrapf(err, "fetching pg_type row for oid %d", o)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return TypeRecord{}, errors.Wrapf(err, "fetching pg_type row for oid %d", o)
		}
		return TypeRecord{}, ErrMissing
	}

	var (
		name        string
		typtype     string
		typcategory string
		relid       int64
		elem        int64
		basetype    int64
	)
	if err := rows.Scan(&name, &typtype, &typcategory, &relid, &elem, &basetype); err != nil {
		return TypeRecord{}, errors.Wrapf(err, "scanning pg_type row for oid %d", o)
	}
	rows.Close()

	kind, err := f.fetchKind(ctx, o, typtype, typcategory, oid.Oid(relid), oid.Oid(elem), oid.Oid(basetype))
	if err != nil {
		return TypeRecord{}, err
	}
	return TypeRecord{OID: o, Name: name, Kind: kind}, nil
}

func (f *Fetcher) fetchKind(ctx context.Context, o oid.Oid, typtype, typcategory string, relid, elem, basetype oid.Oid) (TypeKind, error) {
	switch typtype {
	case "d":
		return Domain(basetype), nil
	case "e":
		variants, err := f.fetchEnumVariants(ctx, o)
		if err != nil {
			return TypeKind{}, err
		}
		return Enum(variants...), nil
	case "r":
		sub, err := f.fetchRangeSubtype(ctx, o)
		if err != nil {
			return TypeKind{}, err
		}
		return Range(sub), nil
	case "c":
		fields, err := f.fetchCompositeFields(ctx, relid)
		if err != nil {
			return TypeKind{}, err
		}
		return Composite(fields...), nil
	case "p":
		return Pseudo(), nil
	default:
		// Base type. Array types are base types whose category is 'A'
		// with a nonzero element oid.
		if elem != 0 && typcategory == "A" {
			return Array(elem), nil
		}
		return Simple(), nil
	}
}

func (f *Fetcher) fetchEnumVariants(ctx context.Context, o oid.Oid) ([]string, error) {
	rows, err := f.db.Query(ctx, enumQuery, int64(o))
	if err != nil {
		return nil, errors.Wrapf(err, "fetching enum labels for oid %d", o)
	}
	defer rows.Close()

	var variants []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, errors.Wrapf(err, "scanning enum label for oid %d", o)
		}
		variants = append(variants, label)
	}
	return variants, rows.Err()
}

func (f *Fetcher) fetchCompositeFields(ctx context.Context, relid oid.Oid) ([]CompositeField, error) {
	rows, err := f.db.Query(ctx, compositeQuery, int64(relid))
	if err != nil {
		return nil, errors.Wrapf(err, "fetching attributes for relation %d", relid)
	}
	defer rows.Close()

	var fields []CompositeField
	for rows.Next() {
		var (
			name   string
			atttyp int64
		)
		if err := rows.Scan(&name, &atttyp); err != nil {
			return nil, errors.Wrapf(err, "scanning attribute for relation %d", relid)
		}
		fields = append(fields, CompositeField{Name: name, Type: oid.Oid(atttyp)})
	}
	return fields, rows.Err()
}

func (f *Fetcher) fetchRangeSubtype(ctx context.Context, o oid.Oid) (oid.Oid, error) {
	rows, err := f.db.Query(ctx, rangeQuery, int64(o))
	if err != nil {
		return 0, errors.Wrapf(err, "fetching range subtype for oid %d", o)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.Errorf("no pg_range row for range type %d", o)
	}
	var sub int64
	if err := rows.Scan(&sub); err != nil {
		return 0, errors.Wrapf(err, "scanning range subtype for oid %d", o)
	}
	return oid.Oid(sub), nil
}

// EnsureResolved drives declare, fetch and insert until the oid resolves
// deeply. Each time the catalog yields an unfetched blocker, the blocker is
// fetched and inserted (or marked missing) and resolution is retried. The
// loop terminates because every iteration moves exactly one oid out of the
// Declared state.
func (f *Fetcher) EnsureResolved(ctx context.Context, o oid.Oid) (*DeepType, error) {
	f.cat.DeclareOid(o)
	for {
		deep, err := f.cat.Resolve(o)
		if err == nil {
			return deep, nil
		}

		var rerr *ResolveError
		if !stderrors.As(err, &rerr) || !stderrors.Is(rerr.Cause, ErrUnfetched) {
			return nil, err
		}

		blocker := rerr.Blocker.OID
		rec, ferr := f.FetchType(ctx, blocker)
		if stderrors.Is(ferr, ErrMissing) {
			f.log.WithField("oid", blocker).Debug("type oid missing from database")
			f.cat.MarkMissingOid(blocker)
			continue
		}
		if ferr != nil {
			return nil, ferr
		}
		if err := f.cat.InsertType(rec); err != nil {
			return nil, err
		}
	}
}
