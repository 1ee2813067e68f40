package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_SortsKeys(t *testing.T) {
	out, err := Canonicalize(map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":null,"z":true},"b":1}`, string(out))
}

func TestCanonicalize_NormalizesNumbers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"integer", `{"n":1}`, `{"n":1}`},
		{"float with zero fraction", `{"n":1.0}`, `{"n":1}`},
		{"exponent", `{"n":1e2}`, `{"n":100}`},
		{"fraction", `{"n":2.50}`, `{"n":2.5}`},
		{"negative zero", `{"n":-0.0}`, `{"n":0}`},
		{"large", `{"n":1e300}`, `{"n":1e+300}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Canonicalize(json.RawMessage(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestCanonicalize_StructAndMapAgree(t *testing.T) {
	type payload struct {
		MealID string `json:"meal_id"`
		Rating int    `json:"rating"`
	}

	fromStruct, err := Fingerprint(payload{MealID: "m-1", Rating: 5})
	require.NoError(t, err)

	fromMap, err := Fingerprint(map[string]any{"rating": 5.0, "meal_id": "m-1"})
	require.NoError(t, err)

	fromRaw, err := Fingerprint(json.RawMessage(`{ "rating" : 5, "meal_id" : "m-1" }`))
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromMap)
	assert.Equal(t, fromStruct, fromRaw)
}

func TestFingerprint_DetectsChange(t *testing.T) {
	a, err := Fingerprint(map[string]any{"meal_id": "m-1"})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{"meal_id": "m-2"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_ArrayOrderMatters(t *testing.T) {
	a, err := Fingerprint([]string{"x", "y"})
	require.NoError(t, err)
	b, err := Fingerprint([]string{"y", "x"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestFingerprint_NilValue(t *testing.T) {
	out, err := Canonicalize(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestCanonicalize_EscapesStrings(t *testing.T) {
	out, err := Canonicalize(map[string]string{"note": "say \"hi\"\n"})
	require.NoError(t, err)
	assert.Equal(t, `{"note":"say \"hi\"\n"}`, string(out))
}
