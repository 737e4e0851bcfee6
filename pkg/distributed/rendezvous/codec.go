// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype of the rendezvous messages.
const codecName = "gob"

// gobCodec encodes the rendezvous messages with encoding/gob.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// JoinRequest is sent by every peer when it connects.
type JoinRequest struct {
	Rank, WorldSize int
}

// JoinResponse carries the session of the server, once all peers joined.
type JoinResponse struct {
	Session string
}

// ExchangeRequest contributes the Payload of one member to the collective call identified by Key.
type ExchangeRequest struct {
	Session   string
	Key, Op   string
	GroupSize int
	Index     int
	Payload   []byte
}

// ExchangeResponse holds the payloads of all members, in group order.
type ExchangeResponse struct {
	Payloads [][]byte
}
