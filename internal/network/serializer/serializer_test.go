package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgpackSerializer(t *testing.T) {
	s := MsgpackSerializer{}

	data, err := s.Marshal(map[string]any{
		"psConnected": true,
		"pixels":      []byte{1, 2, 3},
		"nested":      map[string]any{"width": 2},
	})
	require.NoError(t, err)

	var out any
	require.NoError(t, s.Unmarshal(data, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["psConnected"])
	assert.Equal(t, []byte{1, 2, 3}, m["pixels"])

	nested, ok := m["nested"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, nested["width"])
}

func TestMsgpackSerializerInvalid(t *testing.T) {
	var out any
	assert.Error(t, MsgpackSerializer{}.Unmarshal([]byte{0xc1}, &out))
}

func TestJSONSerializer(t *testing.T) {
	s := JSONSerializer{}

	data, err := s.Marshal(map[string]any{"queue": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"queue":true}`, string(data))

	var out map[string]any
	require.NoError(t, s.Unmarshal([]byte(`{"pullupdate":1}`), &out))
	assert.EqualValues(t, 1, out["pullupdate"])

	assert.Error(t, s.Unmarshal([]byte(`{"broken"`), &out))
}
