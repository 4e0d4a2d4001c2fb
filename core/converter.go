package core

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// ValueConverter turns a record value into a body fragment. Implementations are pure.
type ValueConverter interface {
	Convert(Record) ([]byte, error)
}

const (
	ConverterJSON     = "json"
	ConverterString   = "string"
	ConverterEnvelope = "envelope"
)

// NewValueConverter returns the converter registered under name
func NewValueConverter(name string) (ValueConverter, error) {
	switch name {
	case ConverterJSON, "":
		return JSONConverter{}, nil
	case ConverterString:
		return StringConverter{}, nil
	case ConverterEnvelope:
		return EnvelopeConverter{}, nil
	default:
		return nil, fmt.Errorf("unknown value converter: '%s'", name)
	}
}

func conversionError(rec Record, cause error) *ConversionError {
	return &ConversionError{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset, Cause: cause}
}

// JSONConverter serializes the value as JSON. Byte and string values that already hold
// valid JSON text are passed through untouched.
type JSONConverter struct{}

func (JSONConverter) Convert(rec Record) ([]byte, error) {
	buf, err := jsonValue(rec.Value)
	if err != nil {
		return nil, conversionError(rec, err)
	}
	return buf, nil
}

func jsonValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		if !json.Valid(val) {
			return nil, errors.New("raw message is not valid JSON")
		}
		return val, nil
	case []byte:
		if json.Valid(val) {
			return val, nil
		}
		return json.Marshal(string(val))
	case string:
		if json.Valid([]byte(val)) {
			return []byte(val), nil
		}
		return json.Marshal(val)
	default:
		return json.Marshal(val)
	}
}

// StringConverter renders scalar values verbatim. Structured values are rejected.
type StringConverter struct{}

func (StringConverter) Convert(rec Record) ([]byte, error) {
	switch val := rec.Value.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	case bool:
		return []byte(strconv.FormatBool(val)), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return []byte(fmt.Sprint(val)), nil
	case fmt.Stringer:
		return []byte(val.String()), nil
	default:
		return nil, conversionError(rec, fmt.Errorf("unsupported value type %T", rec.Value))
	}
}

// Envelope wraps a value with its provenance
type Envelope struct {
	Topic     string            `json:"topic"`
	Partition int32             `json:"partition"`
	Offset    int64             `json:"offset"`
	Key       string            `json:"key"`
	Value     json.RawMessage   `json:"value"`
	Headers   map[string]string `json:"headers"`
}

// EnvelopeConverter emits an Envelope per record. Repeated header names keep the last value.
type EnvelopeConverter struct{}

func (EnvelopeConverter) Convert(rec Record) ([]byte, error) {
	value, err := jsonValue(rec.Value)
	if err != nil {
		return nil, conversionError(rec, err)
	}
	env := Envelope{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       string(rec.Key),
		Value:     value,
		Headers:   make(map[string]string, len(rec.Headers)),
	}
	for _, h := range rec.Headers {
		env.Headers[h.Key] = string(h.Value)
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return nil, conversionError(rec, err)
	}
	return buf, nil
}
