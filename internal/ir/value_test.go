package ir

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = Bool(true)
	var _ Value = Number(42)
	var _ Value = String("test")
	var _ Value = Date(time.Now())
	var _ Value = List{String("a"), Number(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := Object{
		"a":  Number(1),
		"A":  Number(2),
		"aa": Number(3),
		"aA": Number(4),
		"Aa": Number(5),
		"AA": Number(6),
	}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestObjectSortedKeysUTF16(t *testing.T) {
	// U+FF61 sorts after U+1F600 in UTF-8 but before it in UTF-16
	// (the emoji encodes as a surrogate pair starting 0xD83D).
	obj := Object{
		"\U0001F600": Number(1),
		"\uFF61":     Number(2),
	}

	assert.Equal(t, []string{"\U0001F600", "\uFF61"}, obj.SortedKeys())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{nil, "undefined"},
		{Null{}, "null"},
		{Bool(false), "bool"},
		{Number(1), "number"},
		{String("x"), "string"},
		{Date(time.Unix(0, 0)), "date"},
		{List{}, "list"},
		{Object{}, "object"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.v))
		})
	}
}

func TestIsNullish(t *testing.T) {
	assert.True(t, IsNullish(nil))
	assert.True(t, IsNullish(Null{}))
	assert.False(t, IsNullish(String("")))
	assert.False(t, IsNullish(Number(0)))
	assert.False(t, IsNullish(Bool(false)))
}

func TestEqual(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"undefined vs undefined", nil, nil, true},
		{"undefined vs null", nil, Null{}, false},
		{"null vs null", Null{}, Null{}, true},
		{"numbers", Number(1.5), Number(1.5), true},
		{"number vs string", Number(1), String("1"), false},
		{"strings differ by case", String("a"), String("A"), false},
		{"dates by instant", Date(t0), Date(t0.In(time.FixedZone("x", 3600))), true},
		{"lists", List{Number(1), String("a")}, List{Number(1), String("a")}, true},
		{"lists differ in length", List{Number(1)}, List{Number(1), Number(2)}, false},
		{"objects", Object{"a": List{Bool(true)}}, Object{"a": List{Bool(true)}}, true},
		{"objects differ", Object{"a": Number(1)}, Object{"b": Number(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"tags": List{String("a")}, "nested": Object{"n": Number(1)}}
	cp := Clone(orig).(Object)

	cp["tags"].(List)[0] = String("changed")
	cp["nested"].(Object)["n"] = Number(2)

	assert.Equal(t, String("a"), orig["tags"].(List)[0])
	assert.Equal(t, Number(1), orig["nested"].(Object)["n"])
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"name":   "Alice",
		"count":  3,
		"amount": 12.5,
		"ok":     true,
		"none":   nil,
		"tags":   []any{"x", int64(2)},
		"yaml":   map[any]any{"k": "v"},
	})
	require.NoError(t, err)

	obj := v.(Object)
	assert.Equal(t, String("Alice"), obj["name"])
	assert.Equal(t, Number(3), obj["count"])
	assert.Equal(t, Number(12.5), obj["amount"])
	assert.Equal(t, Bool(true), obj["ok"])
	assert.Equal(t, Null{}, obj["none"])
	assert.Equal(t, List{String("x"), Number(2)}, obj["tags"])
	assert.Equal(t, Object{"k": String("v")}, obj["yaml"])
}

func TestFromAnyUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestToAnyRoundTrip(t *testing.T) {
	obj := Object{
		"s": String("x"),
		"n": Number(2),
		"l": List{Bool(true), Null{}},
	}

	back, err := FromAny(ToAny(obj))
	require.NoError(t, err)
	assert.True(t, Equal(obj, back))
}

func TestObjectMarshalJSONSortedKeys(t *testing.T) {
	obj := Object{"b": Number(2), "a": String("x"), "c": List{Null{}, Bool(false)}}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2,"c":[null,false]}`, string(data))
}

func TestNumberMarshalNonFinite(t *testing.T) {
	data, err := json.Marshal(Number(math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestDateMarshalJSON(t *testing.T) {
	d := Date(time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)))

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-02T02:04:05Z"`, string(data))
}

func TestUnmarshalValue(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"amount": 9007199254740993, "items": [1, "two", null]}`))
	require.NoError(t, err)

	obj := v.(Object)
	assert.Equal(t, Number(9007199254740993), obj["amount"])
	assert.Equal(t, List{Number(1), String("two"), Null{}}, obj["items"])
}

func TestUnmarshalValueEmpty(t *testing.T) {
	_, err := UnmarshalValue([]byte("  "))
	require.Error(t, err)
}

func TestObjectUnmarshalJSON(t *testing.T) {
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(`{"a":1}`), &obj))
	assert.Equal(t, Object{"a": Number(1)}, obj)

	var missing Object
	require.NoError(t, json.Unmarshal([]byte(`null`), &missing))
	assert.Nil(t, missing)

	var bad Object
	require.Error(t, json.Unmarshal([]byte(`[1]`), &bad))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "undefined", Describe(nil))
	assert.Equal(t, `"x"`, Describe(String("x")))
	assert.Equal(t, `{"a":[1,2]}`, Describe(Object{"a": List{Number(1), Number(2)}}))
}
