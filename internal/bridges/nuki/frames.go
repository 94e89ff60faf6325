package nuki

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Keyturner command identifiers, little endian on the wire.
const (
	cmdRequestData     uint16 = 0x0001
	cmdChallenge       uint16 = 0x0004
	cmdKeyturnerStates uint16 = 0x000C
	cmdLockAction      uint16 = 0x000D
	cmdStatus          uint16 = 0x000E
	cmdErrorReport     uint16 = 0x0012
)

// Status codes carried by a status frame (0x000E).
const (
	statusComplete byte = 0x00
	statusAccepted byte = 0x01
)

// Error codes carried by an error report (0x0012). The authorization
// family means the pairing credentials are dead; the rest concern a
// single command.
const (
	errCodeNotPairing    byte = 0x10
	errCodeNotAuthorized byte = 0x20
	errCodeBadPin        byte = 0x21
	errCodeBadNonce      byte = 0x22
	errCodeBadParameter  byte = 0x23
	errCodeInvalidAuthID byte = 0x24
)

const (
	// nonceSize is the XSalsa20-Poly1305 nonce length.
	nonceSize = 24

	// challengeNonceLen is the length of the nonce the lock issues for the
	// challenge step of a lock action.
	challengeNonceLen = 32

	// plainErrorLen is the length of an unencrypted error report frame:
	// command(2) + code(1) + command identifier(2) + crc(2). It is the only
	// plaintext the lock sends on the encrypted characteristic, used when
	// it cannot authenticate our frames at all.
	plainErrorLen = 7

	// minBoxLen is the smallest ciphertext a valid envelope can carry:
	// the authenticator plus authorization id(4) + command(2) + crc(2).
	minBoxLen = secretbox.Overhead + 8
)

// sessionKeys carries the pairing credentials for the encrypted channel.
type sessionKeys struct {
	authID uint32
	key    [32]byte
}

// crc16 computes CRC-16/CCITT-FALSE (polynomial 0x1021, initial 0xFFFF)
// over data, as the keyturner protocol requires.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// encodePlain builds an unencrypted keyturner frame:
//
//	command(2) | payload | crc(2)
//
// The CRC covers command and payload.
func encodePlain(cmd uint16, payload []byte) []byte {
	frame := make([]byte, 2+len(payload)+2)
	binary.LittleEndian.PutUint16(frame[0:2], cmd)
	copy(frame[2:], payload)
	binary.LittleEndian.PutUint16(frame[len(frame)-2:], crc16(frame[:len(frame)-2]))
	return frame
}

// decodePlain splits an unencrypted keyturner frame and verifies its CRC.
func decodePlain(frame []byte) (uint16, []byte, error) {
	if len(frame) < 4 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(frame))
	}

	body := frame[:len(frame)-2]
	want := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	if got := crc16(body); got != want {
		return 0, nil, fmt.Errorf("%w: crc 0x%04X, want 0x%04X", ErrBadFrame, got, want)
	}

	return binary.LittleEndian.Uint16(body[0:2]), body[2:], nil
}

// encryptFrame wraps a command in the envelope the USDIO characteristic
// expects:
//
//	nonce(24) | auth_id(4) | length(2) | box
//	box = XSalsa20-Poly1305( auth_id(4) | command(2) | payload | crc(2) )
//
// The CRC covers the plaintext. The auth_id rides both outside the box,
// so the lock can pick the key, and inside it, so a forged header is
// detected after opening.
func encryptFrame(keys sessionKeys, cmd uint16, payload []byte) ([]byte, error) {
	plain := make([]byte, 4+2+len(payload)+2)
	binary.LittleEndian.PutUint32(plain[0:4], keys.authID)
	binary.LittleEndian.PutUint16(plain[4:6], cmd)
	copy(plain[6:], payload)
	binary.LittleEndian.PutUint16(plain[len(plain)-2:], crc16(plain[:len(plain)-2]))

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	box := secretbox.Seal(nil, plain, &nonce, &keys.key)

	frame := make([]byte, 0, nonceSize+4+2+len(box))
	frame = append(frame, nonce[:]...)
	frame = binary.LittleEndian.AppendUint32(frame, keys.authID)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(box)))
	return append(frame, box...), nil
}

// decryptFrame opens an encrypted envelope and returns the inner command
// and payload.
func decryptFrame(keys sessionKeys, frame []byte) (uint16, []byte, error) {
	if len(frame) < nonceSize+4+2 {
		return 0, nil, fmt.Errorf("%w: short envelope (%d bytes)", ErrBadFrame, len(frame))
	}

	var nonce [nonceSize]byte
	copy(nonce[:], frame[:nonceSize])
	outerAuthID := binary.LittleEndian.Uint32(frame[nonceSize : nonceSize+4])
	boxLen := int(binary.LittleEndian.Uint16(frame[nonceSize+4 : nonceSize+6]))
	box := frame[nonceSize+6:]
	if len(box) != boxLen {
		return 0, nil, fmt.Errorf("%w: envelope carries %d bytes, header says %d", ErrBadFrame, len(box), boxLen)
	}

	plain, ok := secretbox.Open(nil, box, &nonce, &keys.key)
	if !ok {
		return 0, nil, fmt.Errorf("%w: envelope authentication failed", ErrBadFrame)
	}
	if len(plain) < 4+2+2 {
		return 0, nil, fmt.Errorf("%w: short plaintext (%d bytes)", ErrBadFrame, len(plain))
	}

	body := plain[:len(plain)-2]
	want := binary.LittleEndian.Uint16(plain[len(plain)-2:])
	if got := crc16(body); got != want {
		return 0, nil, fmt.Errorf("%w: plaintext crc 0x%04X, want 0x%04X", ErrBadFrame, got, want)
	}
	if inner := binary.LittleEndian.Uint32(body[0:4]); inner != outerAuthID {
		return 0, nil, fmt.Errorf("%w: authorization id mismatch", ErrBadFrame)
	}

	return binary.LittleEndian.Uint16(body[4:6]), body[6:], nil
}

// encodeRequestData builds the payload of a request-data command (0x0001)
// asking the lock to send the named command.
func encodeRequestData(requested uint16) []byte {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, requested)
	return payload
}

// encodeLockAction builds the payload of a lock-action command (0x000D):
// action(1) | app_id(4) | flags(1) | challenge nonce. The nonce must be
// the one the lock issued for this action; a reused nonce is rejected.
func encodeLockAction(action uint8, appID uint32, challenge []byte) []byte {
	payload := make([]byte, 0, 1+4+1+len(challenge))
	payload = append(payload, action)
	payload = binary.LittleEndian.AppendUint32(payload, appID)
	payload = append(payload, 0x00)
	return append(payload, challenge...)
}

// decodeErrorReport decodes an error report payload (0x0012): the error
// code, then the command it refers to.
func decodeErrorReport(payload []byte) (byte, uint16, error) {
	if len(payload) < 3 {
		return 0, 0, fmt.Errorf("%w: error report %d bytes", ErrBadFrame, len(payload))
	}
	return payload[0], binary.LittleEndian.Uint16(payload[1:3]), nil
}

// errorReportToErr maps an error report onto the package's error values.
// Authorization failures map to ErrNotPaired and must never be retried.
func errorReportToErr(code byte, about uint16) error {
	switch code {
	case errCodeNotPairing, errCodeNotAuthorized, errCodeInvalidAuthID:
		return fmt.Errorf("%w: error 0x%02X for command 0x%04X", ErrNotPaired, code, about)
	default:
		return fmt.Errorf("%w: error 0x%02X for command 0x%04X", ErrCommandRejected, code, about)
	}
}
