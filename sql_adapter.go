package datamapper

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectSQLite:
		return "sqlite"
	}
	return "mysql"
}

// sqlAdapter compiles criteria into parameterised statements for one table.
type sqlAdapter struct {
	dialect    Dialect
	table      string
	primaryKey string
}

func newSQLAdapter(dialect Dialect, table, primaryKey string) *sqlAdapter {
	return &sqlAdapter{dialect: dialect, table: table, primaryKey: primaryKey}
}

type sqlBuilder struct {
	dialect    Dialect
	query      strings.Builder
	parameters []any
}

func (b *sqlBuilder) write(parts ...string) {
	for _, part := range parts {
		b.query.WriteString(part)
	}
}

func (b *sqlBuilder) bind(value any) string {
	b.parameters = append(b.parameters, value)
	if b.dialect == DialectPostgres {
		return "$" + strconv.Itoa(len(b.parameters))
	}
	return "?"
}

func (b *sqlBuilder) bindList(values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.bind(v)
	}
	return strings.Join(placeholders, ", ")
}

func (b *sqlBuilder) where() *Where {
	return NewWhere(b.query.String(), b.parameters...)
}

func (a *sqlAdapter) quote(identifier string) string {
	if identifier == "*" {
		return identifier
	}
	q := `"`
	if a.dialect == DialectMySQL {
		q = "`"
	}
	parts := strings.Split(identifier, ".")
	for i, part := range parts {
		if part != "*" {
			parts[i] = q + part + q
		}
	}
	return strings.Join(parts, ".")
}

func (a *sqlAdapter) columns(criteria *Criteria) (string, error) {
	if len(criteria.Columns) == 0 {
		if len(criteria.Joins) > 0 {
			return a.quote(a.table) + ".*", nil
		}
		return "*", nil
	}
	if err := checkColumns(criteria.Columns); err != nil {
		return "", err
	}
	result := make([]string, len(criteria.Columns))
	for i, column := range criteria.Columns {
		alias := ""
		if pos := strings.Index(strings.ToUpper(column), " AS "); pos > 0 {
			alias = " AS " + a.quote(strings.TrimSpace(column[pos+4:]))
			column = column[:pos]
		}
		result[i] = a.quote(column) + alias
	}
	return strings.Join(result, ", "), nil
}

func (a *sqlAdapter) joins(b *sqlBuilder, joins []Join) error {
	for _, join := range joins {
		var keyword string
		switch join.Type {
		case JoinLeft:
			keyword = " LEFT JOIN "
		case JoinRight:
			keyword = " RIGHT JOIN "
		case JoinFull:
			keyword = " FULL JOIN "
		case JoinInner:
			keyword = " INNER JOIN "
		default:
			return errors.Wrapf(ErrUnsupportedCriteria, "unknown join type '%s'", join.Type)
		}
		if !identifierPattern.MatchString(join.Table) || (join.Alias != "" && !identifierPattern.MatchString(join.Alias)) {
			return errors.Wrapf(ErrUnsupportedCriteria, "invalid join table '%s'", join.Table)
		}
		if len(join.On) == 0 {
			return errors.Wrapf(ErrUnsupportedCriteria, "join '%s' without columns", join.Table)
		}
		alias := join.Alias
		table := a.quote(join.Table)
		if alias == "" {
			alias = join.Table
		} else {
			table += " AS " + a.quote(alias)
		}
		foreign := make([]string, 0, len(join.On))
		for column := range join.On {
			foreign = append(foreign, column)
		}
		sort.Strings(foreign)
		on := make([]string, len(foreign))
		for i, column := range foreign {
			if err := checkColumns([]string{column, join.On[column]}); err != nil {
				return err
			}
			on[i] = a.quote(column) + " = " + a.quote(alias+"."+join.On[column])
		}
		b.write(keyword, table, " ON (", strings.Join(on, " AND "), ")")
	}
	return nil
}

func (a *sqlAdapter) conditions(b *sqlBuilder, conditions map[string]any) error {
	if len(conditions) == 0 {
		return nil
	}
	group, err := parseConditions(conditions)
	if err != nil {
		return err
	}
	if group.empty() {
		return nil
	}
	b.write(" WHERE ")
	a.group(b, group, false)
	return nil
}

func (a *sqlAdapter) group(b *sqlBuilder, group *conditionGroup, wrap bool) {
	if wrap {
		b.write("(")
	}
	for i, item := range group.order {
		if i > 0 {
			b.write(" ", group.conjunction, " ")
		}
		switch v := item.(type) {
		case *condition:
			a.condition(b, v)
		case *conditionGroup:
			a.group(b, v, true)
		}
	}
	if wrap {
		b.write(")")
	}
}

func (a *sqlAdapter) condition(b *sqlBuilder, c *condition) {
	field := a.quote(c.field)
	switch c.operator {
	case opEqual:
		switch {
		case c.isList && len(c.values) == 0:
			b.write("1 = 0")
		case c.isList:
			b.write(field, " IN (", b.bindList(c.values), ")")
		case c.value == nil:
			b.write(field, " IS NULL")
		default:
			b.write(field, " = ", b.bind(c.value))
		}
	case opNot:
		switch {
		case c.isList && len(c.values) == 0:
			b.write("1 = 1")
		case c.isList:
			b.write(field, " NOT IN (", b.bindList(c.values), ")")
		case c.value == nil:
			b.write(field, " IS NOT NULL")
		default:
			b.write(field, " != ", b.bind(c.value))
		}
	case opGreater, opLess, opGreaterEq, opLessEq:
		b.write(field, " ", c.operator, " ", b.bind(c.value))
	case opLike, opNotLike:
		keyword, conjunction := " LIKE ", " OR "
		if c.operator == opNotLike {
			keyword, conjunction = " NOT LIKE ", " AND "
		}
		if !c.isList {
			b.write(field, keyword, b.bind(c.value))
			return
		}
		if len(c.values) == 0 {
			b.write("1 = 1")
			return
		}
		b.write("(")
		for i, v := range c.values {
			if i > 0 {
				b.write(conjunction)
			}
			b.write(field, keyword, b.bind(v))
		}
		b.write(")")
	case opBetween:
		b.write(field, " BETWEEN ", b.bind(c.values[0]), " AND ", b.bind(c.values[1]))
	case opNotBetween:
		b.write(field, " NOT BETWEEN ", b.bind(c.values[0]), " AND ", b.bind(c.values[1]))
	}
}

func (a *sqlAdapter) order(b *sqlBuilder, order []OrderBy) error {
	if len(order) == 0 {
		return nil
	}
	parts := make([]string, len(order))
	for i, o := range order {
		if err := checkColumns([]string{o.Field}); err != nil {
			return err
		}
		direction := " ASC"
		if o.Desc {
			direction = " DESC"
		}
		parts[i] = a.quote(o.Field) + direction
	}
	b.write(" ORDER BY ", strings.Join(parts, ", "))
	return nil
}

func (a *sqlAdapter) limit(b *sqlBuilder, limit, offset int) {
	if limit > 0 {
		b.write(" LIMIT ", strconv.Itoa(limit))
	} else if offset > 0 {
		switch a.dialect {
		case DialectMySQL:
			b.write(" LIMIT 18446744073709551615")
		case DialectSQLite:
			b.write(" LIMIT -1")
		}
	}
	if offset > 0 {
		b.write(" OFFSET ", strconv.Itoa(offset))
	}
}

func (a *sqlAdapter) Select(criteria *Criteria) (*Where, error) {
	if criteria == nil {
		criteria = &Criteria{}
	}
	columns, err := a.columns(criteria)
	if err != nil {
		return nil, err
	}
	b := &sqlBuilder{dialect: a.dialect}
	b.write("SELECT ", columns, " FROM ", a.quote(a.table))
	if err = a.joins(b, criteria.Joins); err != nil {
		return nil, err
	}
	if err = a.conditions(b, criteria.Conditions); err != nil {
		return nil, err
	}
	if err = a.order(b, criteria.Order); err != nil {
		return nil, err
	}
	a.limit(b, criteria.Limit, criteria.Offset)
	return b.where(), nil
}

func (a *sqlAdapter) Count(criteria *Criteria) (*Where, error) {
	if criteria == nil {
		criteria = &Criteria{}
	}
	b := &sqlBuilder{dialect: a.dialect}
	b.write("SELECT COUNT(", a.quote(a.table+"."+a.primaryKey), ") FROM ", a.quote(a.table))
	if err := a.joins(b, criteria.Joins); err != nil {
		return nil, err
	}
	if err := a.conditions(b, criteria.Conditions); err != nil {
		return nil, err
	}
	return b.where(), nil
}

func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Insert returns the statement and whether it returns the new id as a row.
func (a *sqlAdapter) Insert(data map[string]any) (*Where, bool) {
	b := &sqlBuilder{dialect: a.dialect}
	b.write("INSERT INTO ", a.quote(a.table))
	keys := sortedKeys(data)
	if len(keys) == 0 {
		if a.dialect == DialectMySQL {
			b.write(" () VALUES ()")
		} else {
			b.write(" DEFAULT VALUES")
		}
	} else {
		columns := make([]string, len(keys))
		values := make([]any, len(keys))
		for i, key := range keys {
			columns[i] = a.quote(key)
			values[i] = data[key]
		}
		b.write(" (", strings.Join(columns, ", "), ") VALUES (", b.bindList(values), ")")
	}
	if a.dialect == DialectPostgres {
		b.write(" RETURNING ", a.quote(a.primaryKey))
		return b.where(), true
	}
	return b.where(), false
}

func (a *sqlAdapter) Update(data map[string]any, id string) *Where {
	b := &sqlBuilder{dialect: a.dialect}
	b.write("UPDATE ", a.quote(a.table), " SET ")
	for i, key := range sortedKeys(data) {
		if i > 0 {
			b.write(", ")
		}
		b.write(a.quote(key), " = ", b.bind(data[key]))
	}
	b.write(" WHERE ", a.quote(a.primaryKey), " = ", b.bind(id))
	return b.where()
}

func (a *sqlAdapter) Delete(id string) *Where {
	b := &sqlBuilder{dialect: a.dialect}
	b.write("DELETE FROM ", a.quote(a.table), " WHERE ", a.quote(a.primaryKey), " = ", b.bind(id))
	return b.where()
}

func (a *sqlAdapter) Truncate() string {
	if a.dialect == DialectMySQL {
		return "TRUNCATE TABLE " + a.quote(a.table)
	}
	return "DELETE FROM " + a.quote(a.table)
}
