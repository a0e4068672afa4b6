package datamapper

import (
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type JoinType string

const (
	JoinLeft  JoinType = ">"
	JoinRight JoinType = "<"
	JoinFull  JoinType = "<>"
	JoinInner JoinType = "><"
)

// Join describes "[type]table(alias)". On maps columns of the joined rows
// source to columns of the joined table.
type Join struct {
	Type  JoinType
	Table string
	Alias string
	On    map[string]string
}

type OrderBy struct {
	Field string
	Desc  bool
}

// Criteria describes a lookup. Condition keys are "field" or "field[op]" with
// op one of = ! > < >= <= ~ !~ <> ><, or a group "AND", "OR", "AND#n", "OR#n"
// holding a nested map. Top level entries are joined with AND.
type Criteria struct {
	Columns    []string
	Joins      []Join
	Conditions map[string]any
	Order      []OrderBy
	Limit      int
	Offset     int
}

func NewCriteria(conditions map[string]any) *Criteria {
	return &Criteria{Conditions: conditions}
}

func (c *Criteria) OrderBy(field string, desc bool) *Criteria {
	c.Order = append(c.Order, OrderBy{Field: field, Desc: desc})
	return c
}

func (c *Criteria) WithPager(pager *Pager) *Criteria {
	c.Limit = pager.GetPageSize()
	c.Offset = pager.GetOffset()
	return c
}

const (
	opEqual      = "="
	opNot        = "!"
	opGreater    = ">"
	opLess       = "<"
	opGreaterEq  = ">="
	opLessEq     = "<="
	opLike       = "~"
	opNotLike    = "!~"
	opBetween    = "<>"
	opNotBetween = "><"
)

var (
	groupKeyPattern     = regexp.MustCompile(`(?i)^(and|or)(#[0-9]+)?$`)
	conditionKeyPattern = regexp.MustCompile(`^([A-Za-z0-9_.]+)(\[([~=<>!]+)\])?$`)
	columnPattern       = regexp.MustCompile(`(?i)^([A-Za-z_][A-Za-z0-9_]*\.)?([A-Za-z_][A-Za-z0-9_]*|\*)( AS [A-Za-z_][A-Za-z0-9_]*)?$`)
)

type condition struct {
	field    string
	operator string
	value    any
	values   []any
	isList   bool
}

type conditionGroup struct {
	conjunction string
	// *condition or *conditionGroup, in key order
	order []any
}

func (g *conditionGroup) empty() bool {
	return len(g.order) == 0
}

func parseConditions(conditions map[string]any) (*conditionGroup, error) {
	return parseConditionGroup(conditions, "AND")
}

func parseConditionGroup(conditions map[string]any, conjunction string) (*conditionGroup, error) {
	group := &conditionGroup{conjunction: conjunction}
	keys := make([]string, 0, len(conditions))
	for key := range conditions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := conditions[key]
		if matches := groupKeyPattern.FindStringSubmatch(key); matches != nil {
			nested, is := value.(map[string]any)
			if !is {
				return nil, errors.Wrapf(ErrUnsupportedCriteria, "group '%s' must hold conditions map", key)
			}
			child, err := parseConditionGroup(nested, strings.ToUpper(matches[1]))
			if err != nil {
				return nil, err
			}
			if !child.empty() {
				group.order = append(group.order, child)
			}
			continue
		}
		matches := conditionKeyPattern.FindStringSubmatch(key)
		if matches == nil {
			return nil, errors.Wrapf(ErrUnsupportedCriteria, "invalid condition '%s'", key)
		}
		c := &condition{field: matches[1], operator: matches[3], value: value}
		if c.operator == "" {
			c.operator = opEqual
		}
		c.values, c.isList = toList(value)
		if err := c.validate(); err != nil {
			return nil, err
		}
		group.order = append(group.order, c)
	}
	return group, nil
}

func (c *condition) validate() error {
	switch c.operator {
	case opEqual, opNot, opLike, opNotLike:
		return nil
	case opGreater, opLess, opGreaterEq, opLessEq:
		if c.isList || c.value == nil {
			return errors.Wrapf(ErrUnsupportedCriteria, "operator '%s' on '%s' needs single value", c.operator, c.field)
		}
		return nil
	case opBetween, opNotBetween:
		if !c.isList || len(c.values) != 2 {
			return errors.Wrapf(ErrUnsupportedCriteria, "operator '%s' on '%s' needs two values", c.operator, c.field)
		}
		return nil
	}
	return errors.Wrapf(ErrUnsupportedCriteria, "unknown operator '%s' on '%s'", c.operator, c.field)
}

func toList(value any) ([]any, bool) {
	switch v := value.(type) {
	case nil, string, []byte:
		return nil, false
	case []any:
		return v, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	result := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		result[i] = rv.Index(i).Interface()
	}
	return result, true
}

func checkColumns(columns []string) error {
	for _, column := range columns {
		if !columnPattern.MatchString(column) {
			return errors.Wrapf(ErrUnsupportedCriteria, "invalid column '%s'", column)
		}
	}
	return nil
}

// Where is a query with its bound parameters.
type Where struct {
	query      string
	parameters []any
}

func NewWhere(query string, parameters ...any) *Where {
	return &Where{query: query, parameters: parameters}
}

func (w *Where) String() string {
	return w.query
}

func (w *Where) GetParameters() []any {
	return w.parameters
}

func (w *Where) Append(query string, parameters ...any) {
	w.query += query
	w.parameters = append(w.parameters, parameters...)
}
