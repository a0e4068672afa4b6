package datamapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func matchRows() []map[string]any {
	return []map[string]any{
		{"id": "1", "name": "Alice", "age": 30, "city": nil},
		{"id": "2", "name": "bob", "age": 17, "city": "Paris"},
		{"id": "3", "name": "Carol", "age": 45, "city": "Berlin"},
	}
}

func matchedIDs(t *testing.T, criteria *Criteria) []string {
	matcher, err := newRowMatcher(criteria)
	if !assert.NoError(t, err) {
		return nil
	}
	ids := make([]string, 0)
	for _, row := range matcher.apply(matchRows(), "id") {
		ids = append(ids, row["id"].(string))
	}
	return ids
}

func TestRowMatcherConditions(t *testing.T) {
	cases := []struct {
		conditions map[string]any
		expected   []string
	}{
		{nil, []string{"1", "2", "3"}},
		{map[string]any{"name": "alice"}, []string{"1"}},
		{map[string]any{"city": nil}, []string{"1"}},
		{map[string]any{"city[!]": nil}, []string{"2", "3"}},
		{map[string]any{"city[!]": "Berlin"}, []string{"2"}},
		{map[string]any{"city[!]": []string{"Paris"}}, []string{"3"}},
		{map[string]any{"city": []string{"Paris", "Berlin"}}, []string{"2", "3"}},
		{map[string]any{"city": []string{}}, []string{}},
		{map[string]any{"city[!]": []string{}}, []string{"1", "2", "3"}},
		{map[string]any{"age[>]": 18}, []string{"1", "3"}},
		{map[string]any{"age[<=]": "17"}, []string{"2"}},
		{map[string]any{"age[<>]": []int{18, 40}}, []string{"1"}},
		{map[string]any{"age[><]": []int{18, 40}}, []string{"2", "3"}},
		{map[string]any{"name[~]": "%o%"}, []string{"2", "3"}},
		{map[string]any{"name[~]": []string{"a%", "c%"}}, []string{"1", "3"}},
		{map[string]any{"name[!~]": []string{"a%", "b%"}}, []string{"3"}},
		{map[string]any{"name[~]": "_ob"}, []string{"2"}},
		{map[string]any{"OR": map[string]any{"age[<]": 18, "city": "Berlin"}}, []string{"2", "3"}},
		{map[string]any{"age[>]": 10, "OR#1": map[string]any{"name": "Alice", "AND": map[string]any{"city": "Paris", "age[<]": 20}}}, []string{"1", "2"}},
		{map[string]any{"user.name": "Carol"}, []string{"3"}},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, matchedIDs(t, NewCriteria(c.conditions)), "%v", c.conditions)
	}
}

func TestRowMatcherOrderAndWindow(t *testing.T) {
	assert.Equal(t, []string{"3", "1", "2"}, matchedIDs(t, (&Criteria{}).OrderBy("age", true)))
	assert.Equal(t, []string{"1", "3", "2"}, matchedIDs(t, (&Criteria{}).OrderBy("city", false)))
	assert.Equal(t, []string{"1", "2", "3"}, matchedIDs(t, (&Criteria{}).OrderBy("name", false)))
	assert.Equal(t, []string{"2"}, matchedIDs(t, &Criteria{Limit: 1, Offset: 1}))
	assert.Equal(t, []string{"2", "3"}, matchedIDs(t, &Criteria{Offset: 1}))
	assert.Equal(t, []string{}, matchedIDs(t, &Criteria{Offset: 5}))
}

func TestRowMatcherColumns(t *testing.T) {
	matcher, err := newRowMatcher(&Criteria{Columns: []string{"name AS label", "user.age"}, Limit: 1})
	assert.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": "1", "label": "Alice", "age": 30}}, matcher.apply(matchRows(), "id"))

	_, err = newRowMatcher(&Criteria{Joins: []Join{{Type: JoinLeft, Table: "order", On: map[string]string{"id": "user_id"}}}})
	assert.ErrorIs(t, err, ErrUnsupportedCriteria)
	_, err = newRowMatcher(&Criteria{Columns: []string{"name)"}})
	assert.ErrorIs(t, err, ErrUnsupportedCriteria)
	_, err = newRowMatcher(NewCriteria(map[string]any{"age[<>]": 3}))
	assert.ErrorIs(t, err, ErrUnsupportedCriteria)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, 0, compareValues(int64(3), "3"))
	assert.Equal(t, -1, compareValues(9, 10))
	assert.Equal(t, 1, compareValues(float64(10), uint8(9)))
	assert.Equal(t, -1, compareValues("apple", "Banana"))
	assert.True(t, valuesEqual("ABC", "abc"))
	assert.False(t, valuesEqual(nil, ""))
	assert.True(t, valuesEqual(nil, nil))
	assert.Equal(t, "12", toString(int64(12)))
	assert.Equal(t, "1.5", toString(1.5))
	assert.Equal(t, "true", toString(true))
}
