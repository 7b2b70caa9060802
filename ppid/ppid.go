// Package ppid maps SCTP Payload Protocol Identifiers to the data-channel
// payload variant they represent on the worker channel's payload lane.
package ppid

import "errors"

// PPID is an SCTP Payload Protocol Identifier as carried on payload-lane
// data-channel notifications.
type PPID uint32

const (
	UTF8String  PPID = 51
	Binary      PPID = 53
	EmptyString PPID = 56
	EmptyBinary PPID = 57

	// deprecatedPartialString and deprecatedPartialBinary were removed from
	// the SCTP data channel spec; worker builds never emit them and this
	// package rejects them on input rather than treating them as a variant.
	deprecatedPartialString PPID = 52
	deprecatedPartialBinary PPID = 54
)

// ErrBadPpid is returned by Decode for any PPID outside the four supported
// variants, including the two deprecated ones.
var ErrBadPpid = errors.New("ppid: unsupported payload protocol identifier")

// Variant is the decoded form of a data-channel payload: either a string or
// binary payload, with the empty-sentinel cases collapsed to an empty body.
type Variant struct {
	Binary bool
	Body   []byte
}

// Decode interprets raw payload-lane bytes under the given PPID, per the
// WebRTC data-channel empty-message sentinel convention (a lone 0x20 for an
// empty string, a lone 0x00 for empty binary).
func Decode(id PPID, body []byte) (Variant, error) {
	switch id {
	case UTF8String:
		return Variant{Binary: false, Body: body}, nil
	case Binary:
		return Variant{Binary: true, Body: body}, nil
	case EmptyString:
		return Variant{Binary: false, Body: nil}, nil
	case EmptyBinary:
		return Variant{Binary: true, Body: nil}, nil
	default:
		return Variant{}, ErrBadPpid
	}
}

// Encode picks the wire PPID and body bytes for an outbound data-channel
// payload.
func Encode(v Variant) (PPID, []byte) {
	if len(v.Body) == 0 {
		if v.Binary {
			return EmptyBinary, []byte{0x00}
		}
		return EmptyString, []byte{0x20}
	}
	if v.Binary {
		return Binary, v.Body
	}
	return UTF8String, v.Body
}
