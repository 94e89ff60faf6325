package nuki

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/sesami-core/internal/nuki"
)

// newTestClient builds a client without touching the radio. New only
// parses the address and registers the connect handler, so the frame
// assembly, dispatch and response paths below run hardware-free.
func newTestClient(t *testing.T) *BLEClient {
	t.Helper()

	authID, key, err := ParsePairing("efbeadde", strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("ParsePairing: %v", err)
	}

	c, err := New(BLEConfig{
		MACAddress: "54:D2:72:01:02:03",
		AuthID:     authID,
		SharedKey:  key,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// startCallbackWorker runs the delivery worker the way Connect would.
func startCallbackWorker(c *BLEClient) {
	c.wg.Add(1)
	go c.callbackWorker()
}

// keyturnerPayload builds a wire state report. The zeroed date bytes
// decode to a zero time.
func keyturnerPayload(lockState, sensor, trigger byte, batteryCritical bool) []byte {
	p := make([]byte, 19)
	p[0] = 0x02 // door mode
	p[1] = lockState
	p[2] = trigger
	if batteryCritical {
		p[12] = 0x01
	}
	p[15] = byte(nuki.ActionUnlock)
	p[16] = trigger
	p[18] = sensor
	return p
}

func encryptTestFrame(t *testing.T, c *BLEClient, cmd uint16, payload []byte) []byte {
	t.Helper()
	frame, err := encryptFrame(c.keys, cmd, payload)
	if err != nil {
		t.Fatalf("encryptFrame: %v", err)
	}
	return frame
}

// ============================================================
// Construction
// ============================================================

func TestParsePairing(t *testing.T) {
	authID, key, err := ParsePairing("efbeadde", strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("ParsePairing: %v", err)
	}
	if authID != 0xDEADBEEF {
		t.Fatalf("authID = 0x%08X, want 0xDEADBEEF", authID)
	}
	if key[0] != 0xAB || key[31] != 0xAB {
		t.Fatalf("key = %x", key)
	}

	if _, _, err := ParsePairing("efbead", strings.Repeat("ab", 32)); err == nil {
		t.Fatal("short auth id accepted")
	}
	if _, _, err := ParsePairing("efbeadde", strings.Repeat("ab", 16)); err == nil {
		t.Fatal("short key accepted")
	}
	if _, _, err := ParsePairing("zzzzzzzz", strings.Repeat("ab", 32)); err == nil {
		t.Fatal("bad hex accepted")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(BLEConfig{MACAddress: "not-a-mac"}); err == nil {
		t.Fatal("bad address accepted")
	}

	c := newTestClient(t)
	if c.cfg.ConnectTimeout != defaultConnectTimeout {
		t.Fatalf("ConnectTimeout = %v, want %v", c.cfg.ConnectTimeout, defaultConnectTimeout)
	}
	if c.cfg.ReconnectInterval != defaultReconnectInterval {
		t.Fatalf("ReconnectInterval = %v, want %v", c.cfg.ReconnectInterval, defaultReconnectInterval)
	}
	if c.IsConnected() {
		t.Fatal("new client reports connected")
	}
}

// ============================================================
// Frame assembly and dispatch
// ============================================================

func TestIndicationReassembly(t *testing.T) {
	c := newTestClient(t)

	got := make(chan nuki.KeyturnerState, 4)
	c.SetOnState(func(s nuki.KeyturnerState) { got <- s })
	startCallbackWorker(c)

	frame := encryptTestFrame(t, c, cmdKeyturnerStates,
		keyturnerPayload(byte(nuki.LockStateUnlocked), byte(nuki.DoorSensorDoorClosed), byte(nuki.TriggerManual), false))

	// Deliver in radio-sized chunks; only the last one completes the frame.
	for i := 0; i < len(frame); i += writeChunkSize {
		end := min(i+writeChunkSize, len(frame))
		c.handleIndication(frame[i:end])
	}

	select {
	case state := <-got:
		if state.LockState != nuki.LockStateUnlocked {
			t.Fatalf("lock state = %d, want unlocked", state.LockState)
		}
		if state.DoorSensor != nuki.DoorSensorDoorClosed {
			t.Fatalf("door sensor = %d, want closed", state.DoorSensor)
		}
		if state.Trigger != nuki.TriggerManual {
			t.Fatalf("trigger = %d, want manual", state.Trigger)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("state report not delivered")
	}

	if c.Stats().Notifications != 1 {
		t.Fatalf("notifications = %d, want 1", c.Stats().Notifications)
	}
}

func TestIndicationCarryingTwoFrames(t *testing.T) {
	c := newTestClient(t)

	got := make(chan nuki.KeyturnerState, 4)
	c.SetOnState(func(s nuki.KeyturnerState) { got <- s })
	startCallbackWorker(c)

	one := encryptTestFrame(t, c, cmdKeyturnerStates,
		keyturnerPayload(byte(nuki.LockStateLocked), 0, 0, false))
	two := encryptTestFrame(t, c, cmdKeyturnerStates,
		keyturnerPayload(byte(nuki.LockStateUnlocked), 0, 0, false))

	c.handleIndication(append(append([]byte(nil), one...), two...))

	want := []nuki.LockState{nuki.LockStateLocked, nuki.LockStateUnlocked}
	for _, w := range want {
		select {
		case state := <-got:
			if state.LockState != w {
				t.Fatalf("lock state = %d, want %d", state.LockState, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("report %d not delivered", w)
		}
	}
}

func TestDesyncRecovery(t *testing.T) {
	c := newTestClient(t)

	got := make(chan nuki.KeyturnerState, 4)
	c.SetOnState(func(s nuki.KeyturnerState) { got <- s })
	startCallbackWorker(c)

	// A nonsense length field poisons the buffer; the next indication
	// must decode cleanly after the reset.
	garbage := make([]byte, nonceSize+4+2)
	garbage[nonceSize+4] = 0xFF
	garbage[nonceSize+5] = 0xFF
	c.handleIndication(garbage)

	c.rxMu.Lock()
	buffered := len(c.rxBuf)
	c.rxMu.Unlock()
	if buffered != 0 {
		t.Fatalf("assembly buffer holds %d bytes after desync", buffered)
	}

	frame := encryptTestFrame(t, c, cmdKeyturnerStates,
		keyturnerPayload(byte(nuki.LockStateLocked), 0, 0, false))
	c.handleIndication(frame)

	select {
	case state := <-got:
		if state.LockState != nuki.LockStateLocked {
			t.Fatalf("lock state = %d, want locked", state.LockState)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("state report not delivered after resync")
	}
}

// ============================================================
// Response routing
// ============================================================

func TestResponseRouting(t *testing.T) {
	c := newTestClient(t)

	challenge := make([]byte, challengeNonceLen)
	for i := range challenge {
		challenge[i] = byte(i)
	}

	type result struct {
		r   response
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		r, err := c.awaitResponse(context.Background(), cmdChallenge)
		resCh <- result{r, err}
	}()

	// A stale status answer first; the waiter must skip it.
	c.handleIndication(encryptTestFrame(t, c, cmdStatus, []byte{statusComplete}))
	c.handleIndication(encryptTestFrame(t, c, cmdChallenge, challenge))

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatalf("awaitResponse: %v", res.err)
		}
		if len(res.r.payload) != challengeNonceLen || res.r.payload[0] != 0 || res.r.payload[31] != 31 {
			t.Fatalf("challenge payload = %x", res.r.payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("response not routed")
	}
}

func TestAwaitResponseContextCancel(t *testing.T) {
	c := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.awaitResponse(ctx, cmdChallenge); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

// ============================================================
// Error reports and pairing fatality
// ============================================================

func TestEncryptedErrorReportFatal(t *testing.T) {
	c := newTestClient(t)

	c.handleIndication(encryptTestFrame(t, c, cmdErrorReport, []byte{errCodeNotAuthorized, 0x0D, 0x00}))

	select {
	case err := <-c.Fatal():
		if !errors.Is(err, ErrNotPaired) {
			t.Fatalf("fatal error = %v, want ErrNotPaired", err)
		}
	default:
		t.Fatal("no fatal error reported")
	}
}

func TestPlainErrorReportFatal(t *testing.T) {
	c := newTestClient(t)

	// The lock answers in the clear when it cannot authenticate our
	// frames at all. That is the wrong-credentials path.
	c.handleIndication(encodePlain(cmdErrorReport, []byte{errCodeNotPairing, 0x01, 0x00}))

	select {
	case err := <-c.Fatal():
		if !errors.Is(err, ErrNotPaired) {
			t.Fatalf("fatal error = %v, want ErrNotPaired", err)
		}
	default:
		t.Fatal("no fatal error reported")
	}
}

func TestCommandErrorReportNotFatal(t *testing.T) {
	c := newTestClient(t)

	c.handleIndication(encryptTestFrame(t, c, cmdErrorReport, []byte{errCodeBadNonce, 0x0D, 0x00}))

	select {
	case err := <-c.Fatal():
		t.Fatalf("command error escalated to fatal: %v", err)
	default:
	}

	// The waiting operation still sees the rejection.
	select {
	case r := <-c.responses:
		if !errors.Is(r.err, ErrCommandRejected) {
			t.Fatalf("routed error = %v, want ErrCommandRejected", r.err)
		}
	default:
		t.Fatal("error report not routed to responses")
	}
}

// ============================================================
// Operations without a session
// ============================================================

func TestOperationsRequireConnection(t *testing.T) {
	c := newTestClient(t)

	if err := c.RequestState(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("RequestState error = %v, want ErrNotConnected", err)
	}
	if err := c.PerformAction(context.Background(), nuki.ActionUnlatch); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("PerformAction error = %v, want ErrNotConnected", err)
	}
}

// ============================================================
// Lifecycle
// ============================================================

func TestCloseIdempotent(t *testing.T) {
	c := newTestClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !c.isClosed() {
		t.Fatal("client not closed")
	}
}

func TestStatsSnapshot(t *testing.T) {
	c := newTestClient(t)

	c.statsConnects.Add(2)
	c.statsDisconnects.Add(1)
	c.statsDropped.Add(3)
	c.lastActivity.Store(time.Now().Unix())

	stats := c.Stats()
	if stats.Connects != 2 || stats.Disconnects != 1 || stats.Dropped != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Connected {
		t.Fatal("stats report connected")
	}
	if time.Since(stats.LastActivity) > time.Minute {
		t.Fatalf("last activity = %v", stats.LastActivity)
	}
}

func TestQueueOverflowDrops(t *testing.T) {
	c := newTestClient(t)

	// Callback registered but no worker draining.
	c.SetOnState(func(nuki.KeyturnerState) {})

	state := nuki.KeyturnerState{LockState: nuki.LockStateLocked}
	for range callbackQueueSize + 5 {
		c.queueState(state)
	}

	if dropped := c.Stats().Dropped; dropped != 5 {
		t.Fatalf("dropped = %d, want 5", dropped)
	}
}
