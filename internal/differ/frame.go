package differ

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// frameVersion is bumped whenever the on-disk diff-file layout changes
// incompatibly.
const frameVersion byte = 1

// Algorithm names the payload encoding inside a diff frame.
type Algorithm byte

const (
	AlgorithmJSON Algorithm = 0
	AlgorithmGob  Algorithm = 1
)

// encodeFrame serializes payload with algo and wraps it in a
// self-describing binary frame: [version byte][algorithm byte][4-byte
// big-endian payload length][payload][4-byte CRC32 of everything
// preceding it]. Framing this way (rather than a bare
// pickle-equivalent blob) lets a reader detect format drift and
// corruption without out-of-band knowledge of what produced the file.
func encodeFrame(algo Algorithm, payload any) ([]byte, error) {
	var encoded []byte
	var err error
	switch algo {
	case AlgorithmJSON:
		encoded, err = json.Marshal(payload)
	case AlgorithmGob:
		var buf bytes.Buffer
		err = gob.NewEncoder(&buf).Encode(payload)
		encoded = buf.Bytes()
	default:
		return nil, fmt.Errorf("differ: unknown frame algorithm %d", algo)
	}
	if err != nil {
		return nil, fmt.Errorf("differ: encode frame payload: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte(frameVersion)
	buf.WriteByte(byte(algo))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	buf.Write(lenBuf[:])
	buf.Write(encoded)

	checksum := crc32.ChecksumIEEE(buf.Bytes())
	var sumBuf [4]byte
	binary.BigEndian.PutUint32(sumBuf[:], checksum)
	buf.Write(sumBuf[:])

	return buf.Bytes(), nil
}

// decodeFrame validates the trailing checksum and decodes the payload
// of a frame produced by encodeFrame into out (a pointer).
func decodeFrame(frame []byte, out any) error {
	if len(frame) < 1+1+4+4 {
		return fmt.Errorf("differ: frame too short (%d bytes)", len(frame))
	}

	body := frame[:len(frame)-4]
	wantSum := binary.BigEndian.Uint32(frame[len(frame)-4:])
	gotSum := crc32.ChecksumIEEE(body)
	if wantSum != gotSum {
		return fmt.Errorf("differ: checksum mismatch: frame is corrupt")
	}

	version := body[0]
	if version != frameVersion {
		return fmt.Errorf("differ: unsupported frame version %d", version)
	}
	algo := Algorithm(body[1])
	payloadLen := binary.BigEndian.Uint32(body[2:6])
	if int(payloadLen) != len(body)-6 {
		return fmt.Errorf("differ: frame payload length mismatch: header says %d, have %d", payloadLen, len(body)-6)
	}
	payload := body[6:]

	switch algo {
	case AlgorithmJSON:
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("differ: decode json payload: %w", err)
		}
	case AlgorithmGob:
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(out); err != nil {
			return fmt.Errorf("differ: decode gob payload: %w", err)
		}
	default:
		return fmt.Errorf("differ: unknown frame algorithm %d", algo)
	}
	return nil
}
