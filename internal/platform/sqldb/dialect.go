package sqldb

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ignoreStyle selects how a dialect skips rows that collide with a unique key.
type ignoreStyle int

const (
	ignoreOrIgnore ignoreStyle = iota
	ignoreOnConflict
	ignoreNotExists
)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Kind       string
	DriverName string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// Schema holds idempotent DDL statements applied in order by Migrate.
	Schema []string

	// MaxOpenConns is the pool size used when the configuration leaves it unset.
	MaxOpenConns int

	// WriteIsolation is used for transactions that check and write in one step.
	WriteIsolation sql.IsolationLevel

	// ReadIsolation is used for read-only transactions so every statement sees one snapshot.
	ReadIsolation sql.IsolationLevel

	// ReadOnlyTx reports whether the driver accepts sql.TxOptions{ReadOnly: true}.
	ReadOnlyTx bool

	ignore    ignoreStyle
	outputID  bool
	retryable func(error) bool
}

var (
	dialectMu sync.RWMutex
	dialects  = map[string]Dialect{}
)

// Register makes a dialect available under its Kind. Registering a kind twice panics.
func Register(d Dialect) {
	dialectMu.Lock()
	defer dialectMu.Unlock()

	if d.Kind == "" {
		panic("sqldb: Register called with empty kind")
	}
	if d.DriverName == "" || d.Placeholder == nil {
		panic(fmt.Sprintf("sqldb: dialect %q is missing driver name or placeholder", d.Kind))
	}
	if _, exists := dialects[d.Kind]; exists {
		panic(fmt.Sprintf("sqldb: dialect already registered for kind=%q", d.Kind))
	}
	dialects[d.Kind] = d
}

// Lookup returns the dialect registered for kind.
func Lookup(kind string) (Dialect, bool) {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	d, ok := dialects[strings.ToLower(strings.TrimSpace(kind))]
	return d, ok
}

// Kinds lists registered dialect kinds in sorted order.
func Kinds() []string {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	kinds := make([]string, 0, len(dialects))
	for kind := range dialects {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Rebind rewrites '?' placeholders into the dialect's native form.
// Queries must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d.Placeholder == nil || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertIgnore builds an insert that silently skips rows colliding on conflictColumn.
// The returned args must be used in place of the supplied ones.
func (d Dialect) InsertIgnore(table string, columns []string, conflictColumn string, args []any) (string, []any) {
	cols := strings.Join(columns, ", ")
	values := d.placeholders(1, len(columns))

	switch d.ignore {
	case ignoreOnConflict:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING", table, cols, values, conflictColumn), args
	case ignoreNotExists:
		conflictIdx := -1
		for i, column := range columns {
			if column == conflictColumn {
				conflictIdx = i
				break
			}
		}
		if conflictIdx < 0 || conflictIdx >= len(args) {
			return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, values), args
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
			table, cols, values, table, conflictColumn, d.Placeholder(len(columns)+1))
		extended := make([]any, 0, len(args)+1)
		extended = append(extended, args...)
		extended = append(extended, args[conflictIdx])
		return query, extended
	default:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, cols, values), args
	}
}

// InsertReturningID builds an insert that yields the generated id as a single-row result.
func (d Dialect) InsertReturningID(table string, columns []string) string {
	cols := strings.Join(columns, ", ")
	values := d.placeholders(1, len(columns))
	if d.outputID {
		return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.id VALUES (%s)", table, cols, values)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", table, cols, values)
}

// Limit renders a row limit clause appended after ORDER BY.
func (d Dialect) Limit(n int) string {
	if d.outputID {
		return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", n)
	}
	return "LIMIT " + strconv.Itoa(n)
}

func (d Dialect) placeholders(start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return "$" + strconv.Itoa(n) }

func atP(n int) string { return "@p" + strconv.Itoa(n) }
