package datamapper

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// rowMatcher evaluates criteria against rows held outside of SQL storage.
type rowMatcher struct {
	criteria *Criteria
	group    *conditionGroup
	patterns map[string]*regexp.Regexp
}

func newRowMatcher(criteria *Criteria) (*rowMatcher, error) {
	if criteria == nil {
		criteria = &Criteria{}
	}
	if len(criteria.Joins) > 0 {
		return nil, errors.Wrap(ErrUnsupportedCriteria, "joins require sql storage")
	}
	if err := checkColumns(criteria.Columns); err != nil {
		return nil, err
	}
	group, err := parseConditions(criteria.Conditions)
	if err != nil {
		return nil, err
	}
	return &rowMatcher{criteria: criteria, group: group, patterns: make(map[string]*regexp.Regexp)}, nil
}

func (m *rowMatcher) match(row map[string]any) bool {
	return m.matchGroup(row, m.group)
}

func (m *rowMatcher) matchGroup(row map[string]any, group *conditionGroup) bool {
	if group.empty() {
		return true
	}
	or := group.conjunction == "OR"
	for _, item := range group.order {
		var ok bool
		switch v := item.(type) {
		case *condition:
			ok = m.matchCondition(row, v)
		case *conditionGroup:
			ok = m.matchGroup(row, v)
		}
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
	}
	return !or
}

func (m *rowMatcher) matchCondition(row map[string]any, c *condition) bool {
	field := c.field
	if pos := strings.LastIndex(field, "."); pos >= 0 {
		field = field[pos+1:]
	}
	value := row[field]
	switch c.operator {
	case opEqual:
		switch {
		case c.isList:
			return containsValue(c.values, value)
		case c.value == nil:
			return value == nil
		}
		return valuesEqual(value, c.value)
	case opNot:
		// NULL never satisfies != or NOT IN, as in SQL
		switch {
		case c.isList:
			return len(c.values) == 0 || (value != nil && !containsValue(c.values, value))
		case c.value == nil:
			return value != nil
		}
		return value != nil && !valuesEqual(value, c.value)
	case opGreater:
		return value != nil && compareValues(value, c.value) > 0
	case opLess:
		return value != nil && compareValues(value, c.value) < 0
	case opGreaterEq:
		return value != nil && compareValues(value, c.value) >= 0
	case opLessEq:
		return value != nil && compareValues(value, c.value) <= 0
	case opLike:
		if !c.isList {
			return m.like(value, c.value)
		}
		for _, pattern := range c.values {
			if m.like(value, pattern) {
				return true
			}
		}
		return len(c.values) == 0
	case opNotLike:
		if !c.isList {
			return value != nil && !m.like(value, c.value)
		}
		for _, pattern := range c.values {
			if m.like(value, pattern) {
				return false
			}
		}
		return value != nil || len(c.values) == 0
	case opBetween, opNotBetween:
		if value == nil {
			return false
		}
		inside := compareValues(value, c.values[0]) >= 0 && compareValues(value, c.values[1]) <= 0
		if c.operator == opNotBetween {
			return !inside
		}
		return inside
	}
	return false
}

func containsValue(values []any, value any) bool {
	for _, v := range values {
		if valuesEqual(v, value) {
			return true
		}
	}
	return false
}

// like implements SQL LIKE with % and _ wildcards, case-insensitive.
func (m *rowMatcher) like(value, pattern any) bool {
	if value == nil || pattern == nil {
		return false
	}
	source := toString(pattern)
	re, has := m.patterns[source]
	if !has {
		var expression strings.Builder
		expression.WriteString("(?is)^")
		for _, r := range source {
			switch r {
			case '%':
				expression.WriteString(".*")
			case '_':
				expression.WriteString(".")
			default:
				expression.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		expression.WriteString("$")
		re = regexp.MustCompile(expression.String())
		m.patterns[source] = re
	}
	return re.MatchString(toString(value))
}

// apply filters, sorts and pages rows and projects them to the selected
// columns.
func (m *rowMatcher) apply(rows []map[string]any, primaryKey string) []map[string]any {
	result := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if m.match(row) {
			result = append(result, row)
		}
	}
	if len(m.criteria.Order) > 0 {
		sort.SliceStable(result, func(i, j int) bool {
			for _, o := range m.criteria.Order {
				field := o.Field
				if pos := strings.LastIndex(field, "."); pos >= 0 {
					field = field[pos+1:]
				}
				compare := compareRowValues(result[i][field], result[j][field])
				if compare == 0 {
					continue
				}
				if o.Desc {
					return compare > 0
				}
				return compare < 0
			}
			return false
		})
	}
	result = window(result, m.criteria.Offset, m.criteria.Limit)
	if len(m.criteria.Columns) == 0 {
		return result
	}
	projected := make([]map[string]any, len(result))
	for i, row := range result {
		p := map[string]any{primaryKey: row[primaryKey]}
		for _, column := range m.criteria.Columns {
			name, alias := column, ""
			if pos := strings.Index(strings.ToUpper(column), " AS "); pos > 0 {
				name, alias = column[:pos], strings.TrimSpace(column[pos+4:])
			}
			if pos := strings.LastIndex(name, "."); pos >= 0 {
				name = name[pos+1:]
			}
			if name == "*" {
				for k, v := range row {
					p[k] = v
				}
				continue
			}
			if alias == "" {
				alias = name
			}
			p[alias] = row[name]
		}
		projected[i] = p
	}
	return projected
}

// compareRowValues orders nil first, like SQL ascending order.
func compareRowValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return compareValues(a, b)
}

func window[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
