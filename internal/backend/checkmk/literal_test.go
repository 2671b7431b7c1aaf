// internal/backend/checkmk/literal_test.go
package checkmk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiteral_Scalars(t *testing.T) {
	tests := []struct {
		input string
		want  interface{}
	}{
		{`'plain'`, "plain"},
		{`"double"`, "double"},
		{`u'unicode prefix'`, "unicode prefix"},
		{`True`, true},
		{`False`, false},
		{`None`, nil},
		{`42`, int64(42)},
		{`-42`, int64(-42)},
		{`3.14`, 3.14},
		{`1e3`, 1000.0},
	}

	for _, tt := range tests {
		got, err := parseLiteral(tt.input)
		require.NoError(t, err, "input %s", tt.input)
		assert.Equal(t, tt.want, got, "input %s", tt.input)
	}
}

func TestParseLiteral_StringEscapes(t *testing.T) {
	got, err := parseLiteral(`'line1\nline2\ttab \x41 quote\' end'`)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\ttab A quote' end", got)
}

func TestParseLiteral_NestedSequences(t *testing.T) {
	got, err := parseLiteral(`[['a', 'b'], ('c', 42, True), []]`)
	require.NoError(t, err)

	outer, ok := got.([]interface{})
	require.True(t, ok)
	require.Len(t, outer, 3)
	assert.Equal(t, []interface{}{"a", "b"}, outer[0])
	assert.Equal(t, []interface{}{"c", int64(42), true}, outer[1])
	assert.Nil(t, outer[2])
}

func TestParseLiteral_Errors(t *testing.T) {
	inputs := []string{
		``,
		`[`,
		`['a'`,
		`'unterminated`,
		`'a' 'b'`,
		`[1 2]`,
		`{}`,
		`'bad\x4'`,
	}

	for _, input := range inputs {
		_, err := parseLiteral(input)
		assert.Error(t, err, "input %s", input)
	}
}

func TestParseRows(t *testing.T) {
	rows, err := parseRows(`[['host', 'state', 'flap'], ['web1', 2, True], ['db1', 0.5, None]]`)
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"host", "state", "flap"}, rows[0])
	assert.Equal(t, []string{"web1", "2", "yes"}, rows[1])
	assert.Equal(t, []string{"db1", "0.5", ""}, rows[2])
}

func TestParseRows_RejectsNonTabularPayloads(t *testing.T) {
	_, err := parseRows(`'just a string'`)
	assert.Error(t, err)

	_, err = parseRows(`['not', 'nested']`)
	assert.Error(t, err)
}
