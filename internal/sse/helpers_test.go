package sse

import (
	"encoding/binary"
	"hash/crc32"
	"testing"
)

// encodeTestFrame builds one raw AWS event-stream frame for tests in this
// package, mirroring the wire format internal/eventstream decodes.
func encodeTestFrame(t *testing.T, eventType string, payload []byte) []byte {
	t.Helper()

	var headers []byte
	name := []byte(":event-type")
	headers = append(headers, byte(len(name)))
	headers = append(headers, name...)
	headers = append(headers, 7)
	valLen := make([]byte, 2)
	binary.BigEndian.PutUint16(valLen, uint16(len(eventType)))
	headers = append(headers, valLen...)
	headers = append(headers, eventType...)

	totalLength := 8 + 4 + len(headers) + len(payload) + 4
	prelude := make([]byte, 8)
	binary.BigEndian.PutUint32(prelude[0:4], uint32(totalLength))
	binary.BigEndian.PutUint32(prelude[4:8], uint32(len(headers)))
	preludeCRC := make([]byte, 4)
	binary.BigEndian.PutUint32(preludeCRC, crc32.ChecksumIEEE(prelude))

	msg := append([]byte{}, prelude...)
	msg = append(msg, preludeCRC...)
	msg = append(msg, headers...)
	msg = append(msg, payload...)

	messageCRC := make([]byte, 4)
	binary.BigEndian.PutUint32(messageCRC, crc32.ChecksumIEEE(msg))
	msg = append(msg, messageCRC...)
	return msg
}
