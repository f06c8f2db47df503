package scene

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) Object {
	t.Helper()
	obj, err := ParseObject([]byte(raw))
	require.NoError(t, err)
	return obj
}

func TestParseObjectRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":    `{id:1}`,
		"array":       `[1,2]`,
		"null":        `null`,
		"missing id":  `{"x":1}`,
		"null id":     `{"id":null}`,
		"bool id":     `{"id":true}`,
		"object id":   `{"id":{"a":1}}`,
		"empty id":    `{"id":""}`,
		"string json": `"cube"`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseObject([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedObject)
		})
	}
}

func TestParseObjectKeepsFieldsOpaque(t *testing.T) {
	obj := mustParse(t, `{"id":"cube-1","position":{"x":1,"y":2,"z":3},"mesh":"box","tags":["a"]}`)

	assert.Equal(t, "cube-1", obj.ID.String())
	assert.False(t, obj.ID.IsNumber())
	assert.NotContains(t, obj.Fields, "id")
	assert.Equal(t, "box", obj.Fields["mesh"])
	assert.Equal(t, map[string]any{"x": json.Number("1"), "y": json.Number("2"), "z": json.Number("3")}, obj.Fields["position"])
}

func TestObjectMarshalIsFlat(t *testing.T) {
	obj := mustParse(t, `{"id":7,"x":0}`)

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"x":0}`, string(data))
}

func TestIDKindsNeverMatch(t *testing.T) {
	assert.False(t, NumberID(1).Equal(StringID("1")))
	assert.True(t, NumberID(1).Equal(NumberID(1.0)))
	assert.Equal(t, "1", NumberID(1).String())
	assert.Equal(t, "2.5", NumberID(2.5).String())

	assert.True(t, mustParse(t, `{"id":5}`).ID.Equal(mustParse(t, `{"id":5.0}`).ID))
	assert.True(t, mustParse(t, `{"id":500}`).ID.Equal(mustParse(t, `{"id":5e2}`).ID))
	assert.False(t, mustParse(t, `{"id":9007199254740993}`).ID.Equal(mustParse(t, `{"id":9007199254740992}`).ID))
	assert.Equal(t, "9007199254740993", mustParse(t, `{"id":9007199254740993}`).ID.String())
}

func TestObjectMarshalKeepsNumberLiterals(t *testing.T) {
	raw := `{"id":9007199254740993,"seed":12345678901234567891,"scale":1.50,"nested":{"n":[1e400]}}`
	obj := mustParse(t, raw)

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":9007199254740993`)
	assert.Contains(t, string(data), `"seed":12345678901234567891`)
	assert.Contains(t, string(data), `"scale":1.50`)
	assert.Contains(t, string(data), `[1e400]`)
}

func TestParseObjectRejectsTrailingData(t *testing.T) {
	_, err := ParseObject([]byte(`{"id":1} {"id":2}`))
	assert.ErrorIs(t, err, ErrMalformedObject)
}

func TestObjectEqualIsStructural(t *testing.T) {
	base := mustParse(t, `{"id":1,"x":5,"meta":{"color":"red"}}`)

	assert.True(t, base.Equal(mustParse(t, `{"meta":{"color":"red"},"x":5.0,"id":1}`)))
	assert.False(t, base.Equal(mustParse(t, `{"id":1,"x":6,"meta":{"color":"red"}}`)))
	assert.False(t, base.Equal(mustParse(t, `{"id":1,"x":"5","meta":{"color":"red"}}`)))
	assert.False(t, mustParse(t, `{"id":1,"n":12345678901234567891}`).Equal(mustParse(t, `{"id":1,"n":12345678901234567890}`)))
	assert.False(t, base.Equal(mustParse(t, `{"id":1,"x":5}`)))
	assert.False(t, base.Equal(mustParse(t, `{"id":"1","x":5,"meta":{"color":"red"}}`)))
	assert.True(t, mustParse(t, `{"id":2}`).Equal(NewObject(NumberID(2), nil)))
}

func TestObjectCloneIsDeep(t *testing.T) {
	obj := mustParse(t, `{"id":1,"position":{"x":1},"path":[1,2]}`)
	cloned := obj.Clone()

	cloned.Fields["position"].(map[string]any)["x"] = json.Number("9")
	cloned.Fields["path"].([]any)[0] = json.Number("9")

	assert.Equal(t, json.Number("1"), obj.Fields["position"].(map[string]any)["x"])
	assert.Equal(t, json.Number("1"), obj.Fields["path"].([]any)[0])
}

func TestNewObjectDropsIDField(t *testing.T) {
	obj := NewObject(StringID("a"), map[string]any{"id": "b", "x": 1.0})
	assert.Equal(t, "a", obj.ID.String())
	assert.Equal(t, map[string]any{"x": 1.0}, obj.Fields)
	assert.True(t, obj.Equal(mustParse(t, `{"id":"a","x":1}`)))
}
