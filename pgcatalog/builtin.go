package pgcatalog

import "github.com/lib/pq/oid"

// Builtin types from the default catalog. The remote database is assumed to
// contain these with their standard oids and names, so they are always
// fetched and fully resolved with depth zero (arrays and ranges of builtins
// only ever reference builtins). They are consulted before the cache and are
// never subject to resolution bookkeeping.
//
// Find builtin oids by grepping pg_type.dat in the Postgres source, or with
//
//	SELECT oid, typarray FROM pg_type WHERE typname = '<type name>'
var builtinTypes = []TypeRecord{
	{OID: oid.T_bool, Name: "bool", Kind: Simple()},
	{OID: oid.T_bytea, Name: "bytea", Kind: Simple()},
	{OID: oid.T_char, Name: "char", Kind: Simple()},
	{OID: oid.T_name, Name: "name", Kind: Simple()},
	{OID: oid.T_int8, Name: "int8", Kind: Simple()},
	{OID: oid.T_int2, Name: "int2", Kind: Simple()},
	{OID: oid.T_int4, Name: "int4", Kind: Simple()},
	{OID: oid.T_text, Name: "text", Kind: Simple()},
	{OID: oid.T_oid, Name: "oid", Kind: Simple()},
	{OID: oid.T_json, Name: "json", Kind: Simple()},
	{OID: oid.T__json, Name: "_json", Kind: Array(oid.T_json)},
	{OID: oid.T_point, Name: "point", Kind: Simple()},
	{OID: oid.T_lseg, Name: "lseg", Kind: Simple()},
	{OID: oid.T_path, Name: "path", Kind: Simple()},
	{OID: oid.T_box, Name: "box", Kind: Simple()},
	{OID: oid.T_polygon, Name: "polygon", Kind: Simple()},
	{OID: oid.T_line, Name: "line", Kind: Simple()},
	{OID: oid.T__line, Name: "_line", Kind: Array(oid.T_line)},
	{OID: oid.T_cidr, Name: "cidr", Kind: Simple()},
	{OID: oid.T__cidr, Name: "_cidr", Kind: Array(oid.T_cidr)},
	{OID: oid.T_float4, Name: "float4", Kind: Simple()},
	{OID: oid.T_float8, Name: "float8", Kind: Simple()},
	{OID: oid.T_unknown, Name: "unknown", Kind: Simple()},
	{OID: oid.T_circle, Name: "circle", Kind: Simple()},
	{OID: oid.T__circle, Name: "_circle", Kind: Array(oid.T_circle)},
	{OID: oid.T_money, Name: "money", Kind: Simple()},
	{OID: oid.T__money, Name: "_money", Kind: Array(oid.T_money)},
	{OID: oid.T_macaddr, Name: "macaddr", Kind: Simple()},
	{OID: oid.T_inet, Name: "inet", Kind: Simple()},
	{OID: oid.T__bool, Name: "_bool", Kind: Array(oid.T_bool)},
	{OID: oid.T__bytea, Name: "_bytea", Kind: Array(oid.T_bytea)},
	{OID: oid.T__char, Name: "_char", Kind: Array(oid.T_char)},
	{OID: oid.T__name, Name: "_name", Kind: Array(oid.T_name)},
	{OID: oid.T__int2, Name: "_int2", Kind: Array(oid.T_int2)},
	{OID: oid.T__int4, Name: "_int4", Kind: Array(oid.T_int4)},
	{OID: oid.T__text, Name: "_text", Kind: Array(oid.T_text)},
	{OID: oid.T__bpchar, Name: "_bpchar", Kind: Array(oid.T_bpchar)},
	{OID: oid.T__varchar, Name: "_varchar", Kind: Array(oid.T_varchar)},
	{OID: oid.T__int8, Name: "_int8", Kind: Array(oid.T_int8)},
	{OID: oid.T__point, Name: "_point", Kind: Array(oid.T_point)},
	{OID: oid.T__lseg, Name: "_lseg", Kind: Array(oid.T_lseg)},
	{OID: oid.T__path, Name: "_path", Kind: Array(oid.T_path)},
	{OID: oid.T__box, Name: "_box", Kind: Array(oid.T_box)},
	{OID: oid.T__float4, Name: "_float4", Kind: Array(oid.T_float4)},
	{OID: oid.T__float8, Name: "_float8", Kind: Array(oid.T_float8)},
	{OID: oid.T__polygon, Name: "_polygon", Kind: Array(oid.T_polygon)},
	{OID: oid.T__oid, Name: "_oid", Kind: Array(oid.T_oid)},
	{OID: oid.T__macaddr, Name: "_macaddr", Kind: Array(oid.T_macaddr)},
	{OID: oid.T__inet, Name: "_inet", Kind: Array(oid.T_inet)},
	{OID: oid.T_bpchar, Name: "bpchar", Kind: Simple()},
	{OID: oid.T_varchar, Name: "varchar", Kind: Simple()},
	{OID: oid.T_date, Name: "date", Kind: Simple()},
	{OID: oid.T_time, Name: "time", Kind: Simple()},
	{OID: oid.T_timestamp, Name: "timestamp", Kind: Simple()},
	{OID: oid.T__timestamp, Name: "_timestamp", Kind: Array(oid.T_timestamp)},
	{OID: oid.T__date, Name: "_date", Kind: Array(oid.T_date)},
	{OID: oid.T__time, Name: "_time", Kind: Array(oid.T_time)},
	{OID: oid.T_timestamptz, Name: "timestamptz", Kind: Simple()},
	{OID: oid.T__timestamptz, Name: "_timestamptz", Kind: Array(oid.T_timestamptz)},
	{OID: oid.T_interval, Name: "interval", Kind: Simple()},
	{OID: oid.T__interval, Name: "_interval", Kind: Array(oid.T_interval)},
	{OID: oid.T__numeric, Name: "_numeric", Kind: Array(oid.T_numeric)},
	{OID: oid.T_timetz, Name: "timetz", Kind: Simple()},
	{OID: oid.T__timetz, Name: "_timetz", Kind: Array(oid.T_timetz)},
	{OID: oid.T_bit, Name: "bit", Kind: Simple()},
	{OID: oid.T__bit, Name: "_bit", Kind: Array(oid.T_bit)},
	{OID: oid.T_varbit, Name: "varbit", Kind: Simple()},
	{OID: oid.T__varbit, Name: "_varbit", Kind: Array(oid.T_varbit)},
	{OID: oid.T_numeric, Name: "numeric", Kind: Simple()},
	{OID: oid.T_void, Name: "void", Kind: Pseudo()},
	{OID: oid.T_record, Name: "record", Kind: Simple()},
	{OID: oid.T__record, Name: "_record", Kind: Array(oid.T_record)},
	{OID: oid.T_uuid, Name: "uuid", Kind: Simple()},
	{OID: oid.T__uuid, Name: "_uuid", Kind: Array(oid.T_uuid)},
	{OID: oid.T_jsonb, Name: "jsonb", Kind: Simple()},
	{OID: oid.T__jsonb, Name: "_jsonb", Kind: Array(oid.T_jsonb)},
	{OID: oid.T_int4range, Name: "int4range", Kind: Range(oid.T_int4)},
	{OID: oid.T__int4range, Name: "_int4range", Kind: Array(oid.T_int4range)},
	{OID: oid.T_numrange, Name: "numrange", Kind: Range(oid.T_numeric)},
	{OID: oid.T__numrange, Name: "_numrange", Kind: Array(oid.T_numrange)},
	{OID: oid.T_tsrange, Name: "tsrange", Kind: Range(oid.T_timestamp)},
	{OID: oid.T__tsrange, Name: "_tsrange", Kind: Array(oid.T_tsrange)},
	{OID: oid.T_tstzrange, Name: "tstzrange", Kind: Range(oid.T_timestamptz)},
	{OID: oid.T__tstzrange, Name: "_tstzrange", Kind: Array(oid.T_tstzrange)},
	{OID: oid.T_daterange, Name: "daterange", Kind: Range(oid.T_date)},
	{OID: oid.T__daterange, Name: "_daterange", Kind: Array(oid.T_daterange)},
	{OID: oid.T_int8range, Name: "int8range", Kind: Range(oid.T_int8)},
	{OID: oid.T__int8range, Name: "_int8range", Kind: Array(oid.T_int8range)},
}

var (
	builtinByOid  map[oid.Oid]TypeRecord
	builtinByName map[string]TypeRecord
)

func init() {
	builtinByOid = make(map[oid.Oid]TypeRecord, len(builtinTypes))
	builtinByName = make(map[string]TypeRecord, len(builtinTypes))
	for _, t := range builtinTypes {
		builtinByOid[t.OID] = t
		builtinByName[t.Name] = t
	}
}

// BuiltinByOid returns the builtin type record for a well-known oid.
func BuiltinByOid(o oid.Oid) (TypeRecord, bool) {
	t, ok := builtinByOid[o]
	return t, ok
}

// BuiltinByName returns the builtin type record for a well-known local name.
func BuiltinByName(name string) (TypeRecord, bool) {
	t, ok := builtinByName[name]
	return t, ok
}
