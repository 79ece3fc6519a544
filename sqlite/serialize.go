package sqlite

import "strings"

// validateSchemaName rejects names the native library would truncate at the
// first NUL byte. An empty name means the main database.
func validateSchemaName(schema string) (string, error) {
	if schema == "" {
		return "main", nil
	}
	if strings.ContainsRune(schema, 0) {
		return "", &InvalidArgumentError{
			Arg:    "schema",
			Reason: "schema name contains a NUL byte",
		}
	}
	return schema, nil
}

// serializeSchema snapshots the named schema into a memory buffer using the
// native serialization API.
func serializeSchema(state *ConnectionState, schema string) ([]byte, error) {
	name, err := validateSchemaName(schema)
	if err != nil {
		return nil, err
	}
	return state.handle.Serialize(name)
}

// deserializeSchema replaces the named schema from a memory buffer.
// Deserializing into a schema that does not exist is reported by the native
// library and passed through verbatim.
func deserializeSchema(state *ConnectionState, schema string, data []byte) error {
	name, err := validateSchemaName(schema)
	if err != nil {
		return err
	}
	return state.handle.Deserialize(data, name)
}
