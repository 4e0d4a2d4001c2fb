package core

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONConverter(t *testing.T) {
	tests := map[string]struct {
		value    any
		expected string
	}{
		"nil":               {nil, `null`},
		"map":               {map[string]any{"name": "user-1", "value": "value-1"}, `{"name":"user-1","value":"value-1"}`},
		"json string":       {`{"a":1}`, `{"a":1}`},
		"plain string":      {"hello", `"hello"`},
		"json bytes":        {[]byte(`[1,2,3]`), `[1,2,3]`},
		"plain bytes":       {[]byte("hello"), `"hello"`},
		"number":            {42, `42`},
		"raw message":       {json.RawMessage(`{"x":true}`), `{"x":true}`},
		"struct with field": {struct{ Name string }{"n"}, `{"Name":"n"}`},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			buf, err := JSONConverter{}.Convert(Record{Value: test.value})
			require.NoError(t, err)
			assert.Equal(t, test.expected, string(buf))
		})
	}
}

func TestJSONConverterUnsupported(t *testing.T) {
	values := map[string]any{
		"channel":     map[string]any{"c": make(chan int)},
		"nan":         math.NaN(),
		"func":        func() {},
		"invalid raw": json.RawMessage(`{`),
	}
	for name, value := range values {
		t.Run(name, func(t *testing.T) {
			_, err := JSONConverter{}.Convert(Record{Topic: "t", Partition: 1, Offset: 7, Value: value})
			require.Error(t, err)
			var convErr *ConversionError
			require.True(t, errors.As(err, &convErr))
			assert.Equal(t, int64(7), convErr.Offset)
			assert.Contains(t, err.Error(), "t-1@7")
		})
	}
}

func TestStringConverter(t *testing.T) {
	buf, err := StringConverter{}.Convert(Record{Value: "plain text"})
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(buf))

	buf, err = StringConverter{}.Convert(Record{Value: 3.5})
	require.NoError(t, err)
	assert.Equal(t, "3.5", string(buf))

	_, err = StringConverter{}.Convert(Record{Value: map[string]any{"a": 1}})
	var convErr *ConversionError
	assert.True(t, errors.As(err, &convErr))
}

func TestEnvelopeConverter(t *testing.T) {
	rec := Record{
		Topic:     "orders",
		Partition: 2,
		Offset:    10,
		Key:       []byte("k1"),
		Value:     map[string]any{"id": 1},
		Headers:   Headers{{Key: "h", Value: []byte("1")}, {Key: "h", Value: []byte("2")}},
	}
	buf, err := EnvelopeConverter{}.Convert(rec)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(buf, &env))
	assert.Equal(t, "orders", env.Topic)
	assert.Equal(t, int32(2), env.Partition)
	assert.Equal(t, int64(10), env.Offset)
	assert.Equal(t, "k1", env.Key)
	assert.JSONEq(t, `{"id":1}`, string(env.Value))
	assert.Equal(t, map[string]string{"h": "2"}, env.Headers)
}

func TestNewValueConverter(t *testing.T) {
	for _, name := range []string{"", ConverterJSON, ConverterString, ConverterEnvelope} {
		c, err := NewValueConverter(name)
		assert.NoError(t, err)
		assert.NotNil(t, c)
	}
	_, err := NewValueConverter("avro")
	assert.Error(t, err)
}
