package stun

import "sync"

// Decoder decodes a single attribute's raw value into a typed Go value.
// Decoders must be pure over their input: no I/O, no mutation of shared
// state, same input always yields the same output.
type Decoder func(value []byte) (interface{}, error)

// registry is the process-wide attribute type -> decoder mapping. It is
// populated once, on the first Registry call, and never mutated afterward; lookups never
// mutate it, so no lock is needed once initDefaults has run.
var (
	registryOnce sync.Once
	registry     map[AttributeType]Decoder
)

func initDefaults() {
	registry = map[AttributeType]Decoder{
		AttrMappedAddress: func(v []byte) (interface{}, error) {
			return decodePlainAddress(v)
		},
		AttrXORMappedAddress: func(v []byte) (interface{}, error) {
			var zero [TransactionIDSize]byte
			return decodeXORAddress(v, zero)
		},
		AttrChangeRequest: func(v []byte) (interface{}, error) {
			attr := &Attribute{Type: AttrChangeRequest, Value: v}
			changeIP, changePort, err := DecodeChangeRequest(attr)
			if err != nil {
				return nil, err
			}
			return struct{ ChangeIP, ChangePort bool }{changeIP, changePort}, nil
		},
		AttrLifetime: func(v []byte) (interface{}, error) {
			attr := &Attribute{Type: AttrLifetime, Value: v}
			return DecodeLifetime(attr)
		},
		AttrUsername: func(v []byte) (interface{}, error) {
			return string(v), nil
		},
		AttrRealm: func(v []byte) (interface{}, error) {
			return string(v), nil
		},
		AttrNonce: func(v []byte) (interface{}, error) {
			return string(v), nil
		},
		AttrSoftware: func(v []byte) (interface{}, error) {
			return string(v), nil
		},
		AttrErrorCode: func(v []byte) (interface{}, error) {
			attr := &Attribute{Type: AttrErrorCode, Value: v}
			code, reason, err := DecodeErrorCode(attr)
			if err != nil {
				return nil, err
			}
			return struct {
				Code   int
				Reason string
			}{code, reason}, nil
		},
	}
}

// Registry returns the process-wide attribute decoder table, initializing
// it on first use. The returned map must be treated as read-only.
func Registry() map[AttributeType]Decoder {
	registryOnce.Do(initDefaults)
	return registry
}

// DecodeAttribute looks up attr's type in the registry and decodes its
// value. An unregistered type decodes as its raw bytes and never fails —
// attribute decoding is comprehension-optional by default.
func DecodeAttribute(attr Attribute) (interface{}, error) {
	if decoder, ok := Registry()[attr.Type]; ok {
		return decoder(attr.Value)
	}
	return attr.Value, nil
}
