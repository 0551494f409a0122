package metadata

import "strings"

// escapeIdentifier safely escapes a MySQL identifier (database, table, column
// name) by wrapping it in backticks and escaping any backticks within the
// identifier. This prevents SQL injection when building dynamic queries with
// identifier names.
func escapeIdentifier(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "`", "``")
	return "`" + escaped + "`"
}
