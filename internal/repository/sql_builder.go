package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type sqlBuilder struct {
	args  []any
	where []string
}

func newSQLBuilder() *sqlBuilder {
	return &sqlBuilder{args: make([]any, 0)}
}

func (b *sqlBuilder) addArg(value any) int {
	b.args = append(b.args, value)
	return len(b.args)
}

func (b *sqlBuilder) placeholder(idx int) string {
	return fmt.Sprintf("$%d", idx)
}

// arg adds value and returns its placeholder.
func (b *sqlBuilder) arg(value any) string {
	return b.placeholder(b.addArg(value))
}

func (b *sqlBuilder) and(format string, a ...any) {
	b.where = append(b.where, fmt.Sprintf(format, a...))
}

func (b *sqlBuilder) whereClause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

// snapshotArgs copies the current args so a count pass can reuse them before
// pagination arguments are appended.
func (b *sqlBuilder) snapshotArgs() []any {
	return append([]any{}, b.args...)
}

// searchClause matches pattern case-insensitively against any of columns.
func (b *sqlBuilder) searchClause(pattern string, columns ...string) {
	ph := b.arg(pattern)
	parts := make([]string, len(columns))
	for i, column := range columns {
		parts[i] = fmt.Sprintf(`%s ILIKE %s ESCAPE '\'`, column, ph)
	}
	b.where = append(b.where, "("+strings.Join(parts, " OR ")+")")
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
