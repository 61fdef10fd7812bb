package privacy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONKeepsOrderAndNumbers(t *testing.T) {
	src := `{"b":1,"a":[true,null,"x",1.50,{"k":-2e3}],"c":{}}`
	v, err := ParseJSON([]byte(src))
	require.NoError(t, err)

	require.Equal(t, KindObject, v.Kind)
	assert.Equal(t, "b", v.Fields[0].Key)
	assert.Equal(t, "a", v.Fields[1].Key)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, src, string(out))
}

func TestParseJSONErrors(t *testing.T) {
	for _, src := range []string{``, `{`, `[1,]`, `1 2`, `{"a":1}}`} {
		_, err := ParseJSON([]byte(src))
		assert.Error(t, err, src)
	}
}

func TestValueUnmarshalInsideStruct(t *testing.T) {
	var req struct {
		Data Value `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"name":"x","n":3}}`), &req))
	name, ok := req.Data.Get("name")
	require.True(t, ok)
	assert.Equal(t, "x", name.Str)

	_, ok = req.Data.Get("missing")
	assert.False(t, ok)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"b": []any{1, int64(2), 2.5, "s", nil, false},
		"a": map[string]string{"k": "v"},
		"c": []string{"x"},
	})
	require.NoError(t, err)
	out, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"k":"v"},"b":[1,2,2.5,"s",null,false],"c":["x"]}`, string(out))

	_, err = FromAny(map[string]any{"bad": func() {}})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	same, err := FromAny(String("x"))
	require.NoError(t, err)
	assert.Equal(t, String("x"), same)
}

func TestValueAny(t *testing.T) {
	v := Object(
		Field{Key: "s", Value: String("x")},
		Field{Key: "l", Value: Array(Number("1"), Null())},
	)
	assert.Equal(t, map[string]any{
		"s": "x",
		"l": []any{json.Number("1"), nil},
	}, v.Any())
	assert.Equal(t, "object", KindObject.String())
}
