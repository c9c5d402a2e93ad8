package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ============================================================================
// Payload Codec
// ============================================================================
// Commands and responses are JSON objects wrapped in a type discriminator:
//
//	{"type": "volume", "data": {"op": {"kind": "set", "value": 40}, "target": {}}}
//
// Unknown fields, unknown types and ops a widget does not support are all
// rejected with ErrDeserialize so a partially understood command is never
// applied.
// ============================================================================

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeCommand serializes a wire command into a payload.
func EncodeCommand(c Command) ([]byte, error) {
	var env envelope

	switch c := c.(type) {
	case Shutdown:
		env.Type = c.CommandName()

	case Volume, Brightness, Launcher:
		env.Type = c.CommandName()
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", c.CommandName(), err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("%w: command %T has no wire form", ErrUnsupported, c)
	}

	return json.Marshal(env)
}

// DecodeCommand parses a payload produced by EncodeCommand.
func DecodeCommand(payload []byte) (Command, error) {
	var env envelope
	if err := unmarshalStrict(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDeserialize, err)
	}

	switch env.Type {
	case Shutdown{}.CommandName():
		return Shutdown{}, nil
	case Volume{}.CommandName():
		return decodePanel[Volume](env.Data)
	case Brightness{}.CommandName():
		return decodePanel[Brightness](env.Data)
	case Launcher{}.CommandName():
		return decodePanel[Launcher](env.Data)
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", ErrDeserialize, env.Type)
	}
}

func decodePanel[T PanelCommand](data json.RawMessage) (Command, error) {
	var c T
	if err := unmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeserialize, c.CommandName(), err)
	}
	w, op, _ := c.Panel()
	if !Supports(w, op.Kind) {
		return nil, fmt.Errorf("%w: %s does not support op %q", ErrDeserialize, w, op.Kind)
	}
	return c, nil
}

// EncodeResponse serializes a response into a payload.
func EncodeResponse(r Response) ([]byte, error) {
	var env envelope

	switch r := r.(type) {
	case Success:
		env.Type = r.ResponseName()

	case Failure, VolumeValue, MuteState, BrightnessValue:
		env.Type = r.ResponseName()
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", r.ResponseName(), err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("%w: response %T has no wire form", ErrUnsupported, r)
	}

	return json.Marshal(env)
}

// DecodeResponse parses a payload produced by EncodeResponse.
func DecodeResponse(payload []byte) (Response, error) {
	var env envelope
	if err := unmarshalStrict(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDeserialize, err)
	}

	switch env.Type {
	case Success{}.ResponseName():
		return Success{}, nil
	case Failure{}.ResponseName():
		return decodeResponse[Failure](env.Data)
	case VolumeValue{}.ResponseName():
		return decodeResponse[VolumeValue](env.Data)
	case MuteState{}.ResponseName():
		return decodeResponse[MuteState](env.Data)
	case BrightnessValue{}.ResponseName():
		return decodeResponse[BrightnessValue](env.Data)
	default:
		return nil, fmt.Errorf("%w: unknown response type %q", ErrDeserialize, env.Type)
	}
}

func decodeResponse[T Response](data json.RawMessage) (Response, error) {
	var r T
	if err := unmarshalStrict(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeserialize, r.ResponseName(), err)
	}
	return r, nil
}

func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
