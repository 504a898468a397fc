package wire

import "encoding/json"

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// EncodeFrame serializes a Frame.
func EncodeFrame(f *Frame) ([]byte, error) {
	return EncodePayload(f)
}

// DecodeFrame deserializes a Frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := DecodePayload(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
