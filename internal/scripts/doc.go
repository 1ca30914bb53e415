// Package scripts provides the SQL text used by the message store.
//
// Each backend dialect ships one embedded file per operation under
// sqlite/ and postgres/. Files are text/template sources rendered once with
// the configured namespace, so the store never assembles SQL itself beyond
// looking up an operation by name.
//
// SQLite has no schemas: the namespace becomes a table-name prefix
// ("<ns>_messages"). PostgreSQL uses a real schema ("<ns>".messages).
//
// An empty script means "nothing to do" for that dialect, e.g. there is no
// namespace to create in SQLite and no NOTIFY to send.
package scripts
