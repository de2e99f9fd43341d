// Package report speaks the screen module's vendor report protocol over any
// byte port (hidraw node or serial line).
//
// Every request is a 33-byte report: a zero report id, the 0x58 prefix, a
// length byte and the body. Command bodies start with 0xA5 and a big-endian
// command id; upload chunk bodies start with a big-endian chunk index and
// end with a CRC-32. The checksum covers index, data and padding plus the
// two zeroed bytes where the checksum then starts. The device answers every
// report with 0x58 followed by two status bytes that are both 1 on success.
//
// The version request is the exception: a bare 0x01 opcode, answered with
// 0x01 and the firmware version in the third byte.
package report

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"screensync/internal/hardware/comm"
)

const (
	ReportSize = 33
	// ReplySize is the reply length on stream transports.
	ReplySize = 32
	ChunkSize = 24

	prefix        = 0x58
	commandMarker = 0xA5
	versionOpcode = 0x01
	checksumSize  = 4
	maxChunks     = 0x10000
)

// checksumOverlap is how far the checksummed range runs into the checksum
// field, which is still zero when the sum is taken.
const checksumOverlap = 2

var (
	ErrArgsTooLong = errors.New("command arguments exceed report size")
	ErrBadReply    = errors.New("malformed reply")
)

// EncodeCommand frames cmd as a report.
func EncodeCommand(cmd comm.Command) ([]byte, error) {
	if len(cmd.Args) > comm.MaxArgs {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrArgsTooLong, cmd.ID, len(cmd.Args))
	}
	buf := make([]byte, ReportSize)
	buf[1] = prefix
	buf[2] = byte(len(cmd.Args) + 3)
	buf[3] = commandMarker
	binary.BigEndian.PutUint16(buf[4:], uint16(cmd.ID))
	copy(buf[6:], cmd.Args)
	return buf, nil
}

// DecodeCommand parses a command report. ok is false for anything that is
// not a command.
func DecodeCommand(buf []byte) (cmd comm.Command, ok bool) {
	if len(buf) < 6 || buf[1] != prefix || buf[3] != commandMarker {
		return comm.Command{}, false
	}
	n := int(buf[2]) - 3
	if n < 0 || 6+n > len(buf) {
		return comm.Command{}, false
	}
	cmd.ID = comm.CommandID(binary.BigEndian.Uint16(buf[4:]))
	if n > 0 {
		cmd.Args = append([]byte(nil), buf[6:6+n]...)
	}
	return cmd, true
}

// EncodeChunk frames one upload chunk. padding zero bytes are appended to
// the data so the checksum lands on a 32-bit boundary.
func EncodeChunk(index int, data []byte, padding int) []byte {
	buf := make([]byte, ReportSize)
	buf[1] = prefix
	buf[2] = byte(2 + len(data) + padding + checksumSize)
	binary.BigEndian.PutUint16(buf[3:], uint16(index))
	copy(buf[5:], data)
	end := 5 + len(data) + padding
	binary.BigEndian.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[3:end+checksumOverlap]))
	return buf
}

// DecodeChunk parses a chunk report, verifying its checksum. The returned
// data still includes any padding.
func DecodeChunk(buf []byte) (index int, data []byte, err error) {
	if len(buf) < 3 || buf[1] != prefix {
		return 0, nil, ErrBadReply
	}
	n := int(buf[2])
	if n < 2+checksumSize || 3+n > len(buf) {
		return 0, nil, fmt.Errorf("chunk length %d out of range", n)
	}
	end := 3 + n - checksumSize
	want := binary.BigEndian.Uint32(buf[end:])
	got := crc32.Update(crc32.ChecksumIEEE(buf[3:end]), crc32.IEEETable, make([]byte, checksumOverlap))
	if got != want {
		return 0, nil, fmt.Errorf("chunk checksum %08x, want %08x", got, want)
	}
	return int(binary.BigEndian.Uint16(buf[3:])), buf[5:end], nil
}

// ChunkPadding returns the padding for chunk i of an upload of size bytes
// on channel kind. Only the final chunk of an animation is padded.
func ChunkPadding(animation bool, size, i int) int {
	last := (size - 1) / ChunkSize
	if !animation || i != last {
		return 0
	}
	return (4 - (size-i*ChunkSize)%4) % 4
}

// EncodeVersion builds the raw firmware version request.
func EncodeVersion() []byte {
	buf := make([]byte, ReportSize)
	buf[1] = versionOpcode
	return buf
}

// IsVersionRequest reports whether buf is a version request.
func IsVersionRequest(buf []byte) bool {
	return len(buf) > 1 && buf[1] == versionOpcode
}

// VersionReply builds the answer to a version request.
func VersionReply(version byte) []byte {
	buf := make([]byte, ReplySize)
	buf[0], buf[2] = versionOpcode, version
	return buf
}

// parseVersion extracts the firmware version from a version reply.
func parseVersion(reply []byte) (int, error) {
	if len(reply) < 3 || reply[0] != versionOpcode {
		return 0, comm.NewError(comm.Rejected, "version", fmt.Errorf("%w: % x", ErrBadReply, head(reply)))
	}
	return int(reply[2]), nil
}

// Ack builds a success reply carrying payload.
func Ack(payload ...byte) []byte {
	buf := make([]byte, ReplySize)
	buf[0], buf[1], buf[2] = prefix, 1, 1
	copy(buf[3:], payload)
	return buf
}

// Nak builds a failure reply.
func Nak() []byte {
	buf := make([]byte, ReplySize)
	buf[0] = prefix
	return buf
}

// checkReply validates a reply and returns its payload.
func checkReply(op string, reply []byte) ([]byte, error) {
	if len(reply) < 3 || reply[0] != prefix {
		return nil, comm.NewError(comm.Rejected, op, fmt.Errorf("%w: % x", ErrBadReply, head(reply)))
	}
	if reply[1] != 1 || reply[2] != 1 {
		return nil, comm.NewError(comm.Rejected, op, fmt.Errorf("status %d/%d", reply[1], reply[2]))
	}
	return reply[3:], nil
}

func head(b []byte) []byte {
	if len(b) > 8 {
		return b[:8]
	}
	return b
}
