package gatehousejson_test

import (
	"strings"
	"testing"

	"github.com/gatehouse-dev/gatehouse/gatehousejson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalChunkedYields(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"values":["` + strings.Repeat("a", 512) + `"],"count":1}`)

	var decoded struct {
		Values []string `json:"values"`
		Count  int      `json:"count"`
	}

	var yields int

	err := gatehousejson.UnmarshalChunked(payload, &decoded, 64, func() { yields++ })
	require.NoError(t, err)

	assert.Equal(t, 1, decoded.Count)
	require.Len(t, decoded.Values, 1)
	assert.Len(t, decoded.Values[0], 512)
	assert.Greater(t, yields, 0, "decoding more than one chunk must yield")
}

func TestUnmarshalChunkedSmallPayloadNeverYields(t *testing.T) {
	t.Parallel()

	var decoded map[string]int

	var yields int

	err := gatehousejson.UnmarshalChunked([]byte(`{"a":1}`), &decoded, 1024, func() { yields++ })
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"a": 1}, decoded)
	assert.Zero(t, yields)
}

func TestDecodeTree(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"123","flags":[1,2,3],"nested":{"ok":true,"name":null}}`)

	value, err := gatehousejson.DecodeTree(payload, 16, func() {})
	require.NoError(t, err)

	object, ok := value.(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "123", object["id"])
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, object["flags"])

	nested, ok := object["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, nested["ok"])

	inner, hasName := nested["name"]
	assert.True(t, hasName)
	assert.Nil(t, inner)
}

func TestDecodeTreeMalformed(t *testing.T) {
	t.Parallel()

	_, err := gatehousejson.DecodeTree([]byte(`{"id":`), 16, nil)
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	data, err := gatehousejson.Marshal(map[string]string{"k": "v"})
	require.NoError(t, err)

	var decoded map[string]string

	require.NoError(t, gatehousejson.Unmarshal(data, &decoded))
	assert.Equal(t, "v", decoded["k"])
}
