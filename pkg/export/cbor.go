// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// Summary is the CBOR form of one decoded record. Integer keys keep the
// encoding compact.
type Summary struct {
	Sequence    uint32   `cbor:"0,keyasint"`
	Kind        string   `cbor:"1,keyasint"`
	Polarity    uint8    `cbor:"2,keyasint"`
	Category    string   `cbor:"3,keyasint,omitempty"`
	Message     string   `cbor:"4,keyasint,omitempty"`
	MessageID   uint8    `cbor:"5,keyasint,omitempty"`
	Revision    string   `cbor:"6,keyasint,omitempty"`
	Objects     []uint32 `cbor:"7,keyasint,omitempty"`
	VbusVoltage uint16   `cbor:"8,keyasint"`
	VbusCurrent uint16   `cbor:"9,keyasint"`
	CRCValid    bool     `cbor:"10,keyasint"`
	Flags       []string `cbor:"11,keyasint,omitempty"`
}

// Summarize builds the summary of a decoded record
func Summarize(dp *snooper.DecodedPacket) Summary {
	p := &dp.Packet
	s := Summary{
		Sequence:    p.Sequence,
		Kind:        dp.Kind().String(),
		Polarity:    uint8(p.Type.Polarity()),
		Objects:     dp.Objects,
		VbusVoltage: p.VbusVoltage,
		VbusCurrent: p.VbusCurrent,
		CRCValid:    dp.CRCValid,
	}
	if dp.HasMessage {
		s.Category = dp.Class.Category.String()
		s.Message = dp.Class.Name()
		s.MessageID = dp.Header.MessageID()
		s.Revision = dp.Header.SpecRevision().String()
	}
	for _, v := range snooper.ValidatePacket(dp) {
		s.Flags = append(s.Flags, v.Type.String())
	}
	return s
}

// CBOREncoder writes a CBOR sequence of record summaries
type CBOREncoder struct {
	enc *cbor.Encoder
}

// NewCBOREncoder creates an encoder with canonical map ordering
func NewCBOREncoder(w io.Writer) (*CBOREncoder, error) {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}
	return &CBOREncoder{enc: mode.NewEncoder(w)}, nil
}

// Encode writes the summary of one record
func (e *CBOREncoder) Encode(dp *snooper.DecodedPacket) error {
	return e.enc.Encode(Summarize(dp))
}

// DecodeSummaries reads a CBOR sequence written by CBOREncoder
func DecodeSummaries(r io.Reader) ([]Summary, error) {
	dec := cbor.NewDecoder(r)
	var out []Summary
	for {
		var s Summary
		if err := dec.Decode(&s); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("decode summary %d: %w", len(out), err)
		}
		out = append(out, s)
	}
}
