package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// tagged is implemented by every variant of a sealed union.
type tagged interface {
	variantTag() string
}

// unit is the payload of variants that carry no data.
type unit struct{}

func marshalTagged(v tagged) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("marshal union: nil variant")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{v.variantTag(): payload})
}

// splitTagged returns the single tag and raw payload of an externally tagged value.
func splitTagged(union string, data []byte) (string, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", union, err)
	}
	if len(fields) != 1 {
		return "", nil, fmt.Errorf("decode %s: expected exactly one variant, got %d", union, len(fields))
	}
	for tag, payload := range fields {
		return tag, payload, nil
	}
	return "", nil, nil
}

type variantDecoder[U any] func(json.RawMessage) (U, error)

// decodeVariant unmarshals a payload into V and returns it as the union U.
func decodeVariant[U any, V any](raw json.RawMessage) (U, error) {
	var v V
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &v); err != nil {
			var zero U
			return zero, err
		}
	}
	u, ok := any(v).(U)
	if !ok {
		var zero U
		return zero, fmt.Errorf("variant %T does not implement union", v)
	}
	return u, nil
}

func unmarshalTagged[U any](union string, data []byte, variants map[string]variantDecoder[U]) (U, error) {
	var zero U
	tag, raw, err := splitTagged(union, data)
	if err != nil {
		return zero, err
	}
	decode, ok := variants[tag]
	if !ok {
		return zero, fmt.Errorf("decode %s: unknown variant %q (want one of %s)", union, tag, variantNames(variants))
	}
	value, err := decode(raw)
	if err != nil {
		return zero, fmt.Errorf("decode %s.%s: %w", union, tag, err)
	}
	return value, nil
}

func variantNames[U any](variants map[string]variantDecoder[U]) string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
