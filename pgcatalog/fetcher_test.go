package pgcatalog

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB serves canned pg_catalog rows keyed by query and oid argument.
type fakeDB struct {
	typeRows      map[int64][]any
	enumRows      map[int64][][]any
	compositeRows map[int64][][]any
	rangeRows     map[int64][]any
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	arg := args[0].(int64)
	switch sql {
	case typeQuery:
		if row, ok := db.typeRows[arg]; ok {
			return &fakePgRows{rows: [][]any{row}}, nil
		}
		return &fakePgRows{}, nil
	case enumQuery:
		return &fakePgRows{rows: db.enumRows[arg]}, nil
	case compositeQuery:
		return &fakePgRows{rows: db.compositeRows[arg]}, nil
	case rangeQuery:
		if row, ok := db.rangeRows[arg]; ok {
			return &fakePgRows{rows: [][]any{row}}, nil
		}
		return &fakePgRows{}, nil
	default:
		return &fakePgRows{}, nil
	}
}

type fakePgRows struct {
	rows [][]any
	idx  int
}

func (r *fakePgRows) Close()                                       {}
func (r *fakePgRows) Err() error                                   { return nil }
func (r *fakePgRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakePgRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakePgRows) RawValues() [][]byte                          { return nil }
func (r *fakePgRows) Values() ([]any, error)                       { return r.rows[r.idx-1], nil }
func (r *fakePgRows) Conn() *pgx.Conn                              { return nil }

func (r *fakePgRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakePgRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i := range dest {
		switch p := dest[i].(type) {
		case *string:
			*p = row[i].(string)
		case *int64:
			*p = row[i].(int64)
		}
	}
	return nil
}

func TestFetcherResolvesDomainOverEnum(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{
		typeRows: map[int64][]any{
			30000: {"wrapper", "d", "N", int64(0), int64(0), int64(30001)},
			30001: {"mood", "e", "E", int64(0), int64(0), int64(0)},
		},
		enumRows: map[int64][][]any{
			30001: {{"sad"}, {"ok"}, {"happy"}},
		},
	}

	cat := New()
	f := NewFetcher(db, cat)

	deep, err := f.EnsureResolved(ctx, oid.Oid(30000))
	require.NoError(t, err)
	assert.Equal(t, "wrapper", deep.Name())
	assert.Equal(t, FiniteDepth(2), deep.Depth())

	base := deep.DomainBase()
	assert.Equal(t, "mood", base.Name())
	assert.Equal(t, KindEnum, base.Kind().Kind)
	assert.Equal(t, []string{"sad", "ok", "happy"}, base.Kind().Variants)
}

func TestFetcherResolvesCompositeAndRange(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{
		typeRows: map[int64][]any{
			// composite with a pg_class relation id distinct from the
			// type oid
			40000: {"pair", "c", "C", int64(41000), int64(0), int64(0)},
			// range over the composite
			40001: {"pairrange", "r", "R", int64(0), int64(0), int64(0)},
		},
		compositeRows: map[int64][][]any{
			41000: {
				{"lo", int64(oid.T_int4)},
				{"hi", int64(oid.T_int4)},
			},
		},
		rangeRows: map[int64][]any{
			40001: {int64(40000)},
		},
	}

	cat := New()
	f := NewFetcher(db, cat)

	deep, err := f.EnsureResolved(ctx, oid.Oid(40001))
	require.NoError(t, err)
	assert.Equal(t, KindRange, deep.Kind().Kind)

	sub := deep.RangeSubtype()
	assert.Equal(t, "pair", sub.Name())
	fields := sub.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "lo", fields[0].Name)
	assert.Equal(t, oid.T_int4, fields[0].Type.OID())
}

func TestFetcherReportsMissingDependency(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{
		typeRows: map[int64][]any{
			// domain whose base type does not exist in the database
			50000: {"wrap", "d", "N", int64(0), int64(0), int64(50001)},
		},
	}

	cat := New()
	f := NewFetcher(db, cat)

	_, err := f.EnsureResolved(ctx, oid.Oid(50000))
	var rerr *ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, oid.Oid(50001), rerr.Blocker.OID)
	assert.ErrorIs(t, rerr.Cause, ErrMissing)
}

func TestFetcherArrayDetection(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{
		typeRows: map[int64][]any{
			60000: {"custom", "b", "N", int64(0), int64(0), int64(0)},
			60001: {"_custom", "b", "A", int64(0), int64(60000), int64(0)},
		},
	}

	cat := New()
	f := NewFetcher(db, cat)

	deep, err := f.EnsureResolved(ctx, oid.Oid(60001))
	require.NoError(t, err)
	assert.Equal(t, KindArray, deep.Kind().Kind)
	assert.Equal(t, "custom", deep.Elem().Name())
	assert.Equal(t, FiniteDepth(2), deep.Depth())
}
