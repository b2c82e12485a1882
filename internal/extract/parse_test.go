package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain list", `[{"a":1}]`, `[{"a":1}]`},
		{"fenced json", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"fenced bare", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go:\n[{\"a\":1}]\nDone.", `[{"a":1}]`},
		{"object", `  {"ops": []} `, `{"ops": []}`},
		{"no json", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestParseResponse_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		count int
	}{
		{"list", `[{"crop":"Соя"},{"crop":"Рапс"}]`, 2},
		{"wrapped list", `{"operations":[{"crop":"Соя"},{"crop":"Рапс"},{"crop":"Мак"}]}`, 3},
		{"single object", `{"crop":"Соя","operation":"Сев"}`, 1},
		{"empty list", `[]`, 0},
		{"skips scalars", `[{"crop":"Соя"}, 5, "x", null]`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := ParseResponse(tt.in)
			require.NoError(t, err)
			assert.Len(t, recs, tt.count)
		})
	}
}

func TestParseResponse_SingleKeyNonList(t *testing.T) {
	recs, err := ParseResponse(`{"crop":"Соя"}`)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Соя", recs[0]["crop"])
}

func TestParseResponse_Errors(t *testing.T) {
	for _, in := range []string{"", "not json", `"just a string"`, `[{"a":}]`} {
		_, err := ParseResponse(in)
		assert.Error(t, err, "input %q", in)
	}
}
