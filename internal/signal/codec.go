package signal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns envelopes into relay payloads and back.
type Codec interface {
	Name() string
	Marshal(env *Envelope) ([]byte, error)
	Unmarshal(payload []byte) (*Envelope, error)
}

// CodecByName returns the codec registered under name, "json", "msgpack" or "protobuf".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return MsgPack{}, nil
	case "protobuf":
		return Protobuf{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

// JSON is the codec browsers speak.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Marshal(env *Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (JSON) Unmarshal(payload []byte) (*Envelope, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("could not unmarshal json message: %w", err)
	}
	return fromWire(&w)
}

// MsgPack is a compact binary codec for relays that only carry native peers.
// It reuses the json field names.
type MsgPack struct{}

func (MsgPack) Name() string { return "msgpack" }

func (MsgPack) Marshal(env *Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("could not marshal msgpack message: %w", err)
	}
	return buf.Bytes(), nil
}

func (MsgPack) Unmarshal(payload []byte) (*Envelope, error) {
	var w wireMessage
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("could not unmarshal msgpack message: %w", err)
	}
	return fromWire(&w)
}
