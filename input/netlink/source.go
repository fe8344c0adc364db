package netlink

import (
	"encoding/binary"
)

// EnvelopeSize is the size of the netlink message header preceding every payload.
const EnvelopeSize = 16

// nlmsgDone is the message type the kernel module stamps on every frame.
const nlmsgDone = 3

// Source yields one raw frame (header included) per Read.
//
// Read returns errors.ErrWouldBlock when no frame is currently available.
// Any other error is treated as transient by the read loop.
type Source interface {
	Read(buf []byte) (int, error)
	Close() error
}

// payloadOf strips the netlink header. The header length bounds the payload
// when it is consistent with the frame; otherwise the remainder is used.
func payloadOf(frame []byte) []byte {
	if len(frame) < EnvelopeSize {
		return nil
	}
	msgLen := int(binary.NativeEndian.Uint32(frame[0:4]))
	if msgLen >= EnvelopeSize && msgLen <= len(frame) {
		return frame[EnvelopeSize:msgLen]
	}
	return frame[EnvelopeSize:]
}

// putEnvelope writes a netlink header for a payload of payloadLen bytes.
func putEnvelope(dst []byte, payloadLen int, seq uint32) {
	binary.NativeEndian.PutUint32(dst[0:4], uint32(EnvelopeSize+payloadLen))
	binary.NativeEndian.PutUint16(dst[4:6], nlmsgDone)
	binary.NativeEndian.PutUint16(dst[6:8], 0)
	binary.NativeEndian.PutUint32(dst[8:12], seq)
	binary.NativeEndian.PutUint32(dst[12:16], 0)
}
