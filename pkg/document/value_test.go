package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse_RoundTripIsByteIdentical(t *testing.T) {
	in := `{"age":30,"name":"Ann","nested":{"list":[1,2.50,1e3,true,null,"x"]},"zero":0}`

	v, err := Parse([]byte(in))
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestParse_SortsKeys(t *testing.T) {
	v, err := Parse([]byte(`{"b":1,"a":{"d":2,"c":3}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"c":3,"d":2},"b":1}`, v.String())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"trailing data", `{"a":1} {"b":2}`},
		{"unterminated", `{"a":`},
		{"bare word", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestValue_Accessors(t *testing.T) {
	v := MustFromAny(map[string]any{
		"name":   "Ann",
		"age":    30,
		"score":  1.5,
		"active": true,
		"tags":   []any{"a", "b"},
		"none":   nil,
	})

	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, []string{"active", "age", "name", "none", "score", "tags"}, v.Keys())
	assert.Equal(t, 6, v.Len())

	name, ok := v.Field("name")
	require.True(t, ok)
	s, ok := name.AsString()
	assert.True(t, ok)
	assert.Equal(t, "Ann", s)

	age, _ := v.Field("age")
	n, ok := age.AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(30), n)

	score, _ := v.Field("score")
	f, ok := score.AsFloat()
	assert.True(t, ok)
	assert.InDelta(t, 1.5, f, 0)
	_, ok = score.AsInt()
	assert.False(t, ok)

	active, _ := v.Field("active")
	b, ok := active.AsBool()
	assert.True(t, ok)
	assert.True(t, b)

	none, _ := v.Field("none")
	assert.True(t, none.IsNull())

	tags, _ := v.Field("tags")
	items, ok := tags.AsList()
	require.True(t, ok)
	assert.Len(t, items, 2)

	_, ok = v.Field("missing")
	assert.False(t, ok)
	_, ok = name.Field("x")
	assert.False(t, ok)
}

func TestValue_CloneIsDeep(t *testing.T) {
	orig := MustFromAny(map[string]any{"inner": map[string]any{"k": "v"}, "list": []any{1}})
	cp := orig.Clone()

	inner, _ := cp.Field("inner")
	fields, _ := inner.AsMap()
	fields["k"] = String("changed")
	list, _ := cp.Field("list")
	items, _ := list.AsList()
	items[0] = String("changed")

	assert.Equal(t, `{"inner":{"k":"v"},"list":[1]}`, orig.String())
	assert.False(t, orig.Equal(cp))
}

func TestValue_Equal(t *testing.T) {
	a := MustFromAny(map[string]any{"x": []any{1, "two"}, "y": nil})
	b := MustFromAny(map[string]any{"y": nil, "x": []any{1, "two"}})
	assert.True(t, a.Equal(b))

	c := MustFromAny(map[string]any{"x": []any{1, "three"}, "y": nil})
	assert.False(t, a.Equal(c))

	one, err := Number("1")
	require.NoError(t, err)
	onePointZero, err := Number("1.0")
	require.NoError(t, err)
	assert.False(t, one.Equal(onePointZero))
	assert.True(t, Null().Equal(Value{}))
}

func TestNumber_Validation(t *testing.T) {
	for _, lit := range []string{"0", "-1", "3.14", "1e10", "-0.5E-3"} {
		_, err := Number(json.Number(lit))
		assert.NoError(t, err, lit)
	}
	for _, lit := range []string{"", "abc", "01", "1.", " 1", "1 ", "+1", "NaN"} {
		_, err := Number(json.Number(lit))
		assert.ErrorIs(t, err, ErrInvalidNumber, lit)
	}
}

func TestFromAny_Unsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)

	_, err = FromAny(map[string]any{"bad": []any{make(chan int)}})
	assert.ErrorContains(t, err, "bad")
}

func TestValue_Any(t *testing.T) {
	v := MustFromAny(map[string]any{"n": 2, "s": "x", "l": []any{true}})
	got := v.Any().(map[string]any)
	assert.Equal(t, json.Number("2"), got["n"])
	assert.Equal(t, "x", got["s"])
	assert.Equal(t, []any{true}, got["l"])
}

func TestValue_YAMLRoundTrip(t *testing.T) {
	src := `
name: Ann
age: 30
ratio: 0.25
active: false
tags: [a, b]
address:
  city: Oslo
missing: null
`
	var v Value
	require.NoError(t, yaml.Unmarshal([]byte(src), &v))
	assert.Equal(t,
		`{"active":false,"address":{"city":"Oslo"},"age":30,"missing":null,"name":"Ann","ratio":0.25,"tags":["a","b"]}`,
		v.String())

	out, err := yaml.Marshal(v)
	require.NoError(t, err)

	var back Value
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.True(t, v.Equal(back), "yaml round trip changed the document:\n%s", out)
}

func TestValue_JSONInsideStruct(t *testing.T) {
	type wrapper struct {
		Data Value `json:"data"`
	}
	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"a":[1,{"b":null}]}}`), &w))
	assert.Equal(t, KindMap, w.Data.Kind())

	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"a":[1,{"b":null}]}}`, string(out))
}
