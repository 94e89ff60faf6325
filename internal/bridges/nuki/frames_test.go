package nuki

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func testKeys() sessionKeys {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return sessionKeys{authID: 0xDEADBEEF, key: key}
}

func TestCRC16KnownValue(t *testing.T) {
	// Standard CCITT-FALSE check value.
	if got := crc16([]byte("123456789")); got != 0x29B1 {
		t.Fatalf("crc16 = 0x%04X, want 0x29B1", got)
	}
}

func TestPlainFrameRoundTrip(t *testing.T) {
	frame := encodePlain(cmdErrorReport, []byte{0x20, 0x0D, 0x00})
	if len(frame) != plainErrorLen {
		t.Fatalf("frame length = %d, want %d", len(frame), plainErrorLen)
	}

	cmd, payload, err := decodePlain(frame)
	if err != nil {
		t.Fatalf("decodePlain: %v", err)
	}
	if cmd != cmdErrorReport {
		t.Fatalf("cmd = 0x%04X, want 0x%04X", cmd, cmdErrorReport)
	}
	if !bytes.Equal(payload, []byte{0x20, 0x0D, 0x00}) {
		t.Fatalf("payload = %x", payload)
	}
}

func TestDecodePlainRejectsBadFrames(t *testing.T) {
	frame := encodePlain(cmdChallenge, []byte{0x01})
	frame[2] ^= 0xFF

	if _, _, err := decodePlain(frame); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("corrupted frame error = %v, want ErrBadFrame", err)
	}
	if _, _, err := decodePlain([]byte{0x01, 0x02}); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("short frame error = %v, want ErrBadFrame", err)
	}
}

func TestEncryptedFrameRoundTrip(t *testing.T) {
	keys := testKeys()
	payload := []byte{0x01, 0x02, 0x03, 0x04}

	frame, err := encryptFrame(keys, cmdKeyturnerStates, payload)
	if err != nil {
		t.Fatalf("encryptFrame: %v", err)
	}

	// Envelope header: nonce, then the auth id in the clear.
	if got := binary.LittleEndian.Uint32(frame[nonceSize : nonceSize+4]); got != keys.authID {
		t.Fatalf("outer auth id = 0x%08X, want 0x%08X", got, keys.authID)
	}

	cmd, got, err := decryptFrame(keys, frame)
	if err != nil {
		t.Fatalf("decryptFrame: %v", err)
	}
	if cmd != cmdKeyturnerStates {
		t.Fatalf("cmd = 0x%04X, want 0x%04X", cmd, cmdKeyturnerStates)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %x, want %x", got, payload)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	keys := testKeys()
	frame, err := encryptFrame(keys, cmdChallenge, make([]byte, challengeNonceLen))
	if err != nil {
		t.Fatalf("encryptFrame: %v", err)
	}

	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"flipped box byte", func(f []byte) []byte {
			g := append([]byte(nil), f...)
			g[len(g)-1] ^= 0xFF
			return g
		}},
		{"flipped nonce byte", func(f []byte) []byte {
			g := append([]byte(nil), f...)
			g[0] ^= 0xFF
			return g
		}},
		{"truncated", func(f []byte) []byte {
			return f[:len(f)-4]
		}},
		{"short envelope", func(f []byte) []byte {
			return f[:10]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := decryptFrame(keys, tt.mangle(frame)); !errors.Is(err, ErrBadFrame) {
				t.Fatalf("error = %v, want ErrBadFrame", err)
			}
		})
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	keys := testKeys()
	frame, err := encryptFrame(keys, cmdStatus, []byte{statusComplete})
	if err != nil {
		t.Fatalf("encryptFrame: %v", err)
	}

	other := keys
	other.key[0] ^= 0xFF
	if _, _, err := decryptFrame(other, frame); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("error = %v, want ErrBadFrame", err)
	}
}

func TestDecryptRejectsAuthIDMismatch(t *testing.T) {
	keys := testKeys()
	frame, err := encryptFrame(keys, cmdStatus, []byte{statusComplete})
	if err != nil {
		t.Fatalf("encryptFrame: %v", err)
	}

	// A forged header: the outer id changes, the sealed one cannot.
	binary.LittleEndian.PutUint32(frame[nonceSize:nonceSize+4], keys.authID+1)

	if _, _, err := decryptFrame(keys, frame); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("error = %v, want ErrBadFrame", err)
	}
}

func TestEncodeRequestData(t *testing.T) {
	payload := encodeRequestData(cmdKeyturnerStates)
	if len(payload) != 2 || binary.LittleEndian.Uint16(payload) != cmdKeyturnerStates {
		t.Fatalf("payload = %x", payload)
	}
}

func TestEncodeLockActionLayout(t *testing.T) {
	challenge := make([]byte, challengeNonceLen)
	for i := range challenge {
		challenge[i] = byte(i)
	}

	payload := encodeLockAction(0x01, 0xCAFEBABE, challenge)

	if len(payload) != 1+4+1+challengeNonceLen {
		t.Fatalf("payload length = %d", len(payload))
	}
	if payload[0] != 0x01 {
		t.Fatalf("action byte = 0x%02X", payload[0])
	}
	if got := binary.LittleEndian.Uint32(payload[1:5]); got != 0xCAFEBABE {
		t.Fatalf("app id = 0x%08X", got)
	}
	if payload[5] != 0x00 {
		t.Fatalf("flags byte = 0x%02X", payload[5])
	}
	if !bytes.Equal(payload[6:], challenge) {
		t.Fatalf("challenge = %x", payload[6:])
	}
}

func TestDecodeErrorReport(t *testing.T) {
	code, about, err := decodeErrorReport([]byte{0x22, 0x0D, 0x00})
	if err != nil {
		t.Fatalf("decodeErrorReport: %v", err)
	}
	if code != errCodeBadNonce || about != cmdLockAction {
		t.Fatalf("code = 0x%02X about = 0x%04X", code, about)
	}

	if _, _, err := decodeErrorReport([]byte{0x22}); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("short report error = %v, want ErrBadFrame", err)
	}
}

func TestErrorReportMapping(t *testing.T) {
	tests := []struct {
		code byte
		want error
	}{
		{errCodeNotPairing, ErrNotPaired},
		{errCodeNotAuthorized, ErrNotPaired},
		{errCodeInvalidAuthID, ErrNotPaired},
		{errCodeBadPin, ErrCommandRejected},
		{errCodeBadNonce, ErrCommandRejected},
		{errCodeBadParameter, ErrCommandRejected},
		{0x99, ErrCommandRejected},
	}

	for _, tt := range tests {
		err := errorReportToErr(tt.code, cmdLockAction)
		if !errors.Is(err, tt.want) {
			t.Errorf("code 0x%02X mapped to %v, want %v", tt.code, err, tt.want)
		}
	}
}
