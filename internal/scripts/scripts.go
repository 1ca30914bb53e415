package scripts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Dialect identifies a relational backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "postgres"
	default:
		return "sqlite3"
	}
}

// DefaultSchema returns the namespace used when none is configured.
func (d Dialect) DefaultSchema() string {
	if d == Postgres {
		return "public"
	}
	return "sqlstream"
}

// ParseDialect converts a configuration string into a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", s)
	}
}

// Name is the operation key of a script.
type Name string

const (
	EnsureNamespace           Name = "ensure_namespace"
	CreateSchema              Name = "create_schema"
	CreateSchemaV1            Name = "create_schema_v1"
	DropAll                   Name = "drop_all"
	SchemaInfoExists          Name = "schema_info_exists"
	GetSchemaVersion          Name = "get_schema_version"
	ReadHeadPosition          Name = "read_head_position"
	ReadStreamHeadPosition    Name = "read_stream_head_position"
	ReadStreamHeadVersion     Name = "read_stream_head_version"
	CountStreamMessages       Name = "count_stream_messages"
	CountStreamMessagesBefore Name = "count_stream_messages_before"
	EnsureStream              Name = "ensure_stream"
	LockStream                Name = "lock_stream"
	FindMessage               Name = "find_message"
	ReadStreamIDs             Name = "read_stream_ids"
	AllocatePositions         Name = "allocate_positions"
	InsertMessage             Name = "insert_message"
	UpdateStream              Name = "update_stream"
	NotifyChanges             Name = "notify_changes"
	ReadAllForwards           Name = "read_all_forwards"
	ReadAllBackwards          Name = "read_all_backwards"
	ReadStreamForwards        Name = "read_stream_forwards"
	ReadStreamBackwards       Name = "read_stream_backwards"
)

// Names lists every operation a dialect must provide.
var Names = []Name{
	EnsureNamespace, CreateSchema, CreateSchemaV1, DropAll,
	SchemaInfoExists, GetSchemaVersion,
	ReadHeadPosition, ReadStreamHeadPosition, ReadStreamHeadVersion,
	CountStreamMessages, CountStreamMessagesBefore,
	EnsureStream, LockStream, FindMessage, ReadStreamIDs,
	AllocatePositions, InsertMessage, UpdateStream, NotifyChanges,
	ReadAllForwards, ReadAllBackwards, ReadStreamForwards, ReadStreamBackwards,
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,47}$`)

// Scripts holds the rendered SQL for one dialect and namespace.
type Scripts struct {
	dialect Dialect
	schema  string
	text    map[Name]string
}

// New renders every script of the dialect for the given namespace.
// The namespace is substituted verbatim into SQL, so it must be a plain
// identifier.
func New(dialect Dialect, schema string) (*Scripts, error) {
	if dialect != SQLite && dialect != Postgres {
		return nil, fmt.Errorf("scripts: unknown dialect %q", dialect)
	}
	if schema == "" {
		schema = dialect.DefaultSchema()
	}
	if !identifier.MatchString(schema) {
		return nil, fmt.Errorf("scripts: invalid schema name %q", schema)
	}

	s := &Scripts{
		dialect: dialect,
		schema:  schema,
		text:    make(map[Name]string, len(Names)),
	}
	data := struct{ Schema string }{Schema: schema}

	for _, name := range Names {
		path := fmt.Sprintf("%s/%s.sql", dialect, name)
		src, err := files.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("scripts: missing %s: %w", path, err)
		}
		tmpl, err := template.New(string(name)).Option("missingkey=error").Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("scripts: parse %s: %w", path, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("scripts: render %s: %w", path, err)
		}
		s.text[name] = buf.String()
	}

	return s, nil
}

// Dialect returns the dialect the scripts were rendered for.
func (s *Scripts) Dialect() Dialect { return s.dialect }

// Schema returns the namespace the scripts were rendered for.
func (s *Scripts) Schema() string { return s.schema }

// Get returns the rendered text of a script. Unknown names return "".
func (s *Scripts) Get(name Name) string {
	return s.text[name]
}

// IsEmpty reports whether the script has no statements for this dialect.
func (s *Scripts) IsEmpty(name Name) bool {
	return strings.TrimSpace(s.text[name]) == ""
}

// ChangeChannel is the notification channel written by NotifyChanges.
func (s *Scripts) ChangeChannel() string {
	return s.schema + "_changes"
}
