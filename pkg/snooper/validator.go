// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import "fmt"

// AnomalyType represents different types of capture anomalies
type AnomalyType int

const (
	AnomalyLostFrames AnomalyType = iota
	AnomalyPartialFrame
	AnomalyLengthOverflow
	AnomalyTruncatedObjects
	AnomalyReservedMessage
	AnomalyInvalidPolarity
	AnomalyCRCError
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyLostFrames:
		return "lost"
	case AnomalyPartialFrame:
		return "partial"
	case AnomalyLengthOverflow:
		return "length_overflow"
	case AnomalyTruncatedObjects:
		return "truncated_objects"
	case AnomalyReservedMessage:
		return "reserved_message"
	case AnomalyInvalidPolarity:
		return "invalid_polarity"
	case AnomalyCRCError:
		return "crc"
	default:
		return fmt.Sprintf("anomaly(%d)", int(a))
	}
}

// ValidationError represents a non-fatal problem found in a decoded packet
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket checks a decoded packet for capture and protocol anomalies.
// Returns a slice of validation errors (empty if packet is clean). CRC
// failures are reported by the decoder, not here.
func ValidatePacket(dp *DecodedPacket) []ValidationError {
	errors := []ValidationError{}
	p := &dp.Packet

	if p.Type.Lost() {
		errors = append(errors, ValidationError{
			Type:    AnomalyLostFrames,
			Message: "Capture overrun before this frame",
			Details: map[string]interface{}{"sequence": p.Sequence},
		})
	}

	if p.Type.Partial() {
		errors = append(errors, ValidationError{
			Type:    AnomalyPartialFrame,
			Message: "Frame truncated by the snooper",
			Details: map[string]interface{}{"data_len": p.DataLen},
		})
	}

	if dp.DataLenOverflow() {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthOverflow,
			Message: fmt.Sprintf("data_len=%d exceeds data field (max %d)", p.DataLen, MaxDataSize),
			Details: map[string]interface{}{"data_len": p.DataLen, "max": MaxDataSize},
		})
	}

	if int(p.Type.Polarity()) > int(PolarityCC2) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidPolarity,
			Message: fmt.Sprintf("Invalid polarity value=%d", p.Type.Polarity()),
			Details: map[string]interface{}{"polarity": uint8(p.Type.Polarity())},
		})
	}

	if !dp.HasMessage || !dp.Kind().HasMessage() {
		return errors
	}

	if dp.ObjectsTruncated {
		errors = append(errors, ValidationError{
			Type: AnomalyTruncatedObjects,
			Message: fmt.Sprintf("Header announces %d objects, data_len holds %d",
				dp.Header.NumDataObjects(), len(dp.Objects)),
			Details: map[string]interface{}{
				"announced": dp.Header.NumDataObjects(),
				"present":   len(dp.Objects),
				"data_len":  p.DataLen,
			},
		})
	}

	if !dp.Class.Known() {
		errors = append(errors, ValidationError{
			Type:    AnomalyReservedMessage,
			Message: fmt.Sprintf("Reserved message type %s", dp.Class),
			Details: map[string]interface{}{
				"category":     dp.Class.Category.String(),
				"message_type": dp.Header.MessageType(),
			},
		})
	}

	return errors
}
