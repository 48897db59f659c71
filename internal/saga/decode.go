package saga

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed is returned when a device payload is neither a JSON object
// nor a CBOR map of the expected shape.
var ErrMalformed = errors.New("saga: malformed device payload")

// decMode accepts standard CBOR and ignores unknown fields. Untyped maps
// decode as map[string]any so they can be re-encoded as JSON.
var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("saga: CBOR decoder initialization failed: " + err.Error())
	}
}

// isJSON reports whether the payload looks like a JSON object. Lock
// firmware sends either JSON text or a CBOR map, and a CBOR map never
// starts with '{'.
func isJSON(payload []byte) bool {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decode unmarshals a JSON or CBOR payload into v.
func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var err error
	if isJSON(payload) {
		err = json.Unmarshal(payload, v)
	} else {
		err = decMode.Unmarshal(payload, v)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// DecodeResponse parses a lock's response envelope.
func DecodeResponse(payload []byte) (Response, error) {
	var r Response
	if err := decode(payload, &r); err != nil {
		return Response{}, err
	}
	return r, nil
}

// DecodeAccessEvent parses an access or denied event. Fields keeps the
// whole document for consumers that forward it verbatim.
func DecodeAccessEvent(payload []byte) (AccessEvent, error) {
	var w accessEventWire
	if err := decode(payload, &w); err != nil {
		return AccessEvent{}, err
	}
	ev := AccessEvent{
		DeviceID:   w.DeviceID,
		SlotNumber: w.SlotNumber,
		Status:     w.Status,
	}
	if err := decode(payload, &ev.Fields); err != nil {
		return AccessEvent{}, err
	}
	return ev, nil
}
