package nuki

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sesami-core/internal/nuki"
	"tinygo.org/x/bluetooth"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for the BLE session.
const (
	// defaultConnectTimeout is the maximum time for one session
	// establishment attempt, including the scan fallback.
	defaultConnectTimeout = 20 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// responseTimeout is how long an operation waits for the lock to answer.
	responseTimeout = 10 * time.Second

	// writeChunkSize splits outgoing frames. 20 bytes fits the smallest
	// ATT payload every firmware negotiates.
	writeChunkSize = 20

	// maxFrameLen caps the encrypted box length a frame header may claim.
	// Anything larger means the assembly buffer lost framing.
	maxFrameLen = 1024

	// callbackQueueSize is the buffer size for the state callback queue.
	callbackQueueSize = 100

	// callbackWorkerCount is the number of concurrent callback workers.
	// State reports must reach the consumer in arrival order, so there is
	// exactly one.
	callbackWorkerCount = 1

	// responseQueueSize buffers responses between the indication handler
	// and the operation waiting for them.
	responseQueueSize = 4
)

// Keyturner GATT identifiers. The pairing service is not used here;
// pairing happens out of band and its credentials arrive through
// configuration.
var (
	serviceKeyturnerUUID = mustUUID("a92ee200-5501-11e4-916c-0800200c9a66")
	charUSDIOUUID        = mustUUID("a92ee202-5501-11e4-916c-0800200c9a66")
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BLEConfig holds the BLE session configuration.
type BLEConfig struct {
	// MACAddress is the lock's Bluetooth address, e.g. "54:D2:72:01:02:03".
	MACAddress string

	// AuthID is the authorization identifier issued at pairing.
	AuthID uint32

	// SharedKey is the long-term key issued at pairing.
	SharedKey [32]byte

	// ConnectTimeout bounds one session establishment attempt.
	// Default: 20 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// ParsePairing decodes the hex pairing credentials from configuration
// into the forms the session uses.
func ParsePairing(authIDHex, sharedKeyHex string) (uint32, [32]byte, error) {
	var key [32]byte

	id, err := hex.DecodeString(authIDHex)
	if err != nil {
		return 0, key, fmt.Errorf("auth id: %w", err)
	}
	if len(id) != 4 {
		return 0, key, fmt.Errorf("auth id: want 4 bytes, got %d", len(id))
	}

	k, err := hex.DecodeString(sharedKeyHex)
	if err != nil {
		return 0, key, fmt.Errorf("shared key: %w", err)
	}
	if len(k) != 32 {
		return 0, key, fmt.Errorf("shared key: want 32 bytes, got %d", len(k))
	}

	copy(key[:], k)
	return binary.LittleEndian.Uint32(id), key, nil
}

// BLEStats holds operational statistics.
type BLEStats struct {
	Connects        uint64
	Disconnects     uint64
	Notifications   uint64
	Dropped         uint64 // State reports dropped due to full callback queue
	WriteErrors     uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Lock is the session surface the bridge consumes.
// This allows substituting the BLE client in tests.
type Lock interface {
	Connect(ctx context.Context) error
	RequestState(ctx context.Context) error
	PerformAction(ctx context.Context, action nuki.LockAction) error
	SetOnState(callback func(nuki.KeyturnerState))
	IsConnected() bool
	Stats() BLEStats
	Fatal() <-chan error
	Close() error
}

// Ensure BLEClient implements Lock.
var _ Lock = (*BLEClient)(nil)

// response is a decoded non-state frame routed to the waiting operation.
type response struct {
	cmd     uint16
	payload []byte
	err     error
}

// BLEClient owns the single BLE session to the lock.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Operations on the encrypted channel are serialized; the lock
//     handles one request at a time.
//   - State callbacks are invoked on a dedicated goroutine, in order.
//
// Auto-Reconnection:
//   - When the session drops, the client reconnects on its own.
//   - Uses exponential backoff starting at ReconnectInterval (default 5s)
//     up to maxReconnectInterval (2min).
//   - Reconnection stops only when Close() is called.
type BLEClient struct {
	cfg     BLEConfig
	adapter *bluetooth.Adapter
	addr    bluetooth.Address
	keys    sessionKeys

	// Connection state
	connMu     sync.RWMutex
	connected  bool
	haveDevice bool
	device     bluetooth.Device
	usdio      bluetooth.DeviceCharacteristic

	// True once Connect has started the background workers.
	started atomic.Bool

	// Reconnection state
	reconnecting   atomic.Bool  // True while reconnection is in progress
	reconnectCount atomic.Int32 // Number of consecutive reconnection attempts
	lost           chan struct{}

	// Frame assembly for indications split across MTU-sized chunks
	rxMu  sync.Mutex
	rxBuf []byte

	// State report callback
	onState    func(nuki.KeyturnerState)
	callbackMu sync.RWMutex

	// Callback worker (bounded queue, drop on overflow)
	callbackQueue chan nuki.KeyturnerState

	// Response routing for the operation in flight
	opMu      sync.Mutex
	responses chan response

	// First non-recoverable error, such as a pairing rejection
	fatal chan error

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	statsConnects      atomic.Uint64
	statsDisconnects   atomic.Uint64
	statsNotifications atomic.Uint64
	statsDropped       atomic.Uint64
	statsWriteErrors   atomic.Uint64
	statsErrors        atomic.Uint64
	statsReconnects    atomic.Uint64
	lastActivity       atomic.Int64 // Unix timestamp
}

// New creates a client for the lock at the configured address.
// Nothing touches the radio until Connect is called.
//
// Parameters:
//   - cfg: Session configuration with the pairing credentials
//
// Returns:
//   - *BLEClient: Ready for Connect
//   - error: If the MAC address does not parse
func New(cfg BLEConfig) (*BLEClient, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	mac, err := bluetooth.ParseMAC(cfg.MACAddress)
	if err != nil {
		return nil, fmt.Errorf("parse mac address %q: %w", cfg.MACAddress, err)
	}

	c := &BLEClient{
		cfg:           cfg,
		adapter:       bluetooth.DefaultAdapter,
		addr:          bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}},
		keys:          sessionKeys{authID: cfg.AuthID, key: cfg.SharedKey},
		lost:          make(chan struct{}, 1),
		callbackQueue: make(chan nuki.KeyturnerState, callbackQueueSize),
		responses:     make(chan response, responseQueueSize),
		fatal:         make(chan error, 1),
		done:          newCloseOnce(),
	}

	// The handler must be registered before the first Connect call.
	c.adapter.SetConnectHandler(c.handleConnectEvent)

	return c, nil
}

// Connect establishes the BLE session and starts the background workers.
//
// Call it once after New; afterwards the client keeps the session alive
// on its own, reconnecting with exponential backoff whenever it drops.
//
// Parameters:
//   - ctx: Context for cancellation (used for this attempt only)
//
// Returns:
//   - error: If enabling the adapter or establishing the session fails
func (c *BLEClient) Connect(ctx context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable adapter: %w", ErrConnectionFailed, err)
	}

	if err := c.establishSession(ctx); err != nil {
		return err
	}

	if c.started.CompareAndSwap(false, true) {
		c.startWorkers()
	}

	return nil
}

// startWorkers launches the callback worker and the session loop.
func (c *BLEClient) startWorkers() {
	for range callbackWorkerCount {
		c.wg.Add(1)
		go c.callbackWorker()
	}

	c.wg.Add(1)
	go c.sessionLoop()
}

// establishSession connects to the lock, discovers the keyturner service
// and subscribes to USDIO indications.
//
// A lock that advertised recently connects directly; otherwise the
// adapter scans for it first so it has fresh advertisement data.
func (c *BLEClient) establishSession(ctx context.Context) error {
	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, c.cfg.ConnectTimeout)
	defer cancel()

	params := bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(c.cfg.ConnectTimeout),
	}

	device, err := c.adapter.Connect(c.addr, params)
	if err != nil {
		addr, scanErr := c.findDevice(connectCtx)
		if scanErr != nil {
			return fmt.Errorf("%w: direct connect failed (%v), scan: %w", ErrConnectionFailed, err, scanErr)
		}
		if device, err = c.adapter.Connect(addr, params); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceKeyturnerUUID})
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("%w: discover keyturner service: %w", ErrConnectionFailed, err)
	}
	if len(services) == 0 {
		device.Disconnect()
		return fmt.Errorf("%w: keyturner service not offered; is this the right device?", ErrConnectionFailed)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUSDIOUUID})
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("%w: discover usdio characteristic: %w", ErrConnectionFailed, err)
	}
	if len(chars) == 0 {
		device.Disconnect()
		return fmt.Errorf("%w: usdio characteristic not offered", ErrConnectionFailed)
	}

	usdio := chars[0]
	if err := usdio.EnableNotifications(c.handleIndication); err != nil {
		device.Disconnect()
		return fmt.Errorf("%w: enable indications: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.device = device
	c.usdio = usdio
	c.haveDevice = true
	c.connected = true
	c.connMu.Unlock()

	c.statsConnects.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.logInfo("lock session established", "address", c.addr.String())
	return nil
}

// findDevice scans until the configured address shows up.
func (c *BLEClient) findDevice(ctx context.Context) (bluetooth.Address, error) {
	target := c.addr.String()

	found := make(chan bluetooth.Address, 1)
	scanDone := make(chan error, 1)
	go func() {
		scanDone <- c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !strings.EqualFold(result.Address.String(), target) {
				return
			}
			select {
			case found <- result.Address:
			default:
			}
			adapter.StopScan()
		})
	}()

	select {
	case addr := <-found:
		return addr, nil
	case err := <-scanDone:
		if err != nil {
			return bluetooth.Address{}, fmt.Errorf("scan: %w", err)
		}
		select {
		case addr := <-found:
			return addr, nil
		default:
			return bluetooth.Address{}, fmt.Errorf("scan ended without sighting %s", target)
		}
	case <-ctx.Done():
		c.adapter.StopScan()
		return bluetooth.Address{}, ctx.Err()
	case <-c.done.Done():
		c.adapter.StopScan()
		return bluetooth.Address{}, ErrClosed
	}
}

// handleConnectEvent reacts to adapter connection events. Only a drop of
// our own device triggers the reconnect loop; the adapter may carry
// sessions to other peripherals.
func (c *BLEClient) handleConnectEvent(device bluetooth.Device, connected bool) {
	if connected || device.Address.String() != c.addr.String() {
		return
	}
	c.handleDisconnect()
}

// handleDisconnect handles session loss and signals the reconnect loop.
func (c *BLEClient) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if !wasConnected {
		return
	}

	c.statsDisconnects.Add(1)
	c.logInfo("lock session lost, will attempt reconnection")

	select {
	case c.lost <- struct{}{}:
	default:
	}
}

// sessionLoop owns reconnection. Indications arrive through the
// bluetooth stack's own callbacks, so unlike a socket client there is
// nothing to read here; the loop sleeps until the connect handler
// reports the session gone.
func (c *BLEClient) sessionLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case <-c.lost:
			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect attempts to re-establish the session with exponential backoff.
// Returns true if reconnection succeeded, false if shutdown was signalled.
func (c *BLEClient) reconnect() bool {
	// Prevent multiple concurrent reconnection attempts
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		c.closeSession()

		if err := c.establishSession(context.Background()); err != nil {
			backoff = c.handleReconnectFailure(err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		c.finalizeReconnection()
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *BLEClient) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *BLEClient) handleReconnectFailure(err error, backoff time.Duration) time.Duration {
	c.logError("reconnect failed", err)
	c.statsErrors.Add(1)

	select {
	case <-c.done.Done():
		return 0 // Signal shutdown
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := time.Duration(float64(backoff) * 1.5)
	if newBackoff > maxReconnectInterval {
		newBackoff = maxReconnectInterval
	}
	return newBackoff
}

// finalizeReconnection resets the attempt counter and updates stats.
func (c *BLEClient) finalizeReconnection() {
	c.reconnectCount.Store(0)
	c.statsReconnects.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.logInfo("reconnection successful", "total_reconnects", c.statsReconnects.Load())
}

// closeSession tears down the current connection, if any.
func (c *BLEClient) closeSession() {
	c.connMu.Lock()
	device := c.device
	hadDevice := c.haveDevice
	c.device = bluetooth.Device{}
	c.haveDevice = false
	c.connected = false
	c.connMu.Unlock()

	if hadDevice {
		device.Disconnect()
	}
}

// handleIndication appends one indication to the assembly buffer and
// dispatches every frame completed by it. The lock splits frames into
// MTU-sized chunks, so a frame may span several indications and one
// indication may complete more than one frame.
func (c *BLEClient) handleIndication(buf []byte) {
	c.rxMu.Lock()
	c.rxBuf = append(c.rxBuf, buf...)
	c.rxMu.Unlock()

	for {
		c.rxMu.Lock()
		frame, plain, ok := c.takeFrame()
		c.rxMu.Unlock()
		if !ok {
			return
		}
		c.handleFrame(frame, plain)
	}
}

// takeFrame cuts one complete frame off the front of the assembly buffer.
// Called with rxMu held. The bool results are (plain, ok).
func (c *BLEClient) takeFrame() ([]byte, bool, bool) {
	// An unencrypted error report is recognized by its exact length and a
	// valid CRC together with the command identifier; envelope bytes
	// cannot satisfy all three.
	if len(c.rxBuf) >= plainErrorLen {
		if cmd, _, err := decodePlain(c.rxBuf[:plainErrorLen]); err == nil && cmd == cmdErrorReport {
			frame := make([]byte, plainErrorLen)
			copy(frame, c.rxBuf)
			c.rxBuf = c.rxBuf[plainErrorLen:]
			return frame, true, true
		}
	}

	const header = nonceSize + 4 + 2
	if len(c.rxBuf) < header {
		return nil, false, false
	}

	boxLen := int(binary.LittleEndian.Uint16(c.rxBuf[header-2 : header]))
	if boxLen < minBoxLen || boxLen > maxFrameLen {
		// The length field is nonsense, so the buffer lost framing and
		// nothing in it can be trusted. Discard and resync on the next
		// indication.
		c.logError("frame assembly desynced, resetting", fmt.Errorf("box length %d", boxLen))
		c.statsErrors.Add(1)
		c.rxBuf = nil
		return nil, false, false
	}

	total := header + boxLen
	if len(c.rxBuf) < total {
		return nil, false, false
	}

	frame := make([]byte, total)
	copy(frame, c.rxBuf)
	c.rxBuf = c.rxBuf[total:]
	return frame, false, true
}

// resetAssembly discards any partial frame data.
func (c *BLEClient) resetAssembly() {
	c.rxMu.Lock()
	c.rxBuf = nil
	c.rxMu.Unlock()
}

// handleFrame dispatches one assembled frame. State reports fan out to
// the callback worker; everything else is routed to the operation
// waiting for a response.
func (c *BLEClient) handleFrame(frame []byte, plain bool) {
	var (
		cmd     uint16
		payload []byte
		err     error
	)
	if plain {
		cmd, payload, err = decodePlain(frame)
	} else {
		cmd, payload, err = decryptFrame(c.keys, frame)
	}
	if err != nil {
		c.statsErrors.Add(1)
		c.logError("discarding frame", err)
		c.resetAssembly()
		return
	}

	c.statsNotifications.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	switch cmd {
	case cmdKeyturnerStates:
		state, err := nuki.DecodeKeyturnerState(payload)
		if err != nil {
			c.statsErrors.Add(1)
			c.logError("discarding keyturner state", err)
			return
		}
		c.queueState(state)

	case cmdErrorReport:
		code, about, err := decodeErrorReport(payload)
		if err != nil {
			c.statsErrors.Add(1)
			c.logError("discarding error report", err)
			return
		}
		reportErr := errorReportToErr(code, about)
		if errors.Is(reportErr, ErrNotPaired) {
			c.reportFatal(reportErr)
		}
		c.routeResponse(response{cmd: cmd, err: reportErr})

	default:
		c.routeResponse(response{cmd: cmd, payload: payload})
	}
}

// queueState hands a state report to the callback worker.
func (c *BLEClient) queueState(state nuki.KeyturnerState) {
	c.callbackMu.RLock()
	hasCallback := c.onState != nil
	c.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	// Queue for the worker (non-blocking with drop on overflow)
	select {
	case c.callbackQueue <- state:
	default:
		c.logError("callback queue full, dropping state report", nil)
		c.statsDropped.Add(1)
		c.statsErrors.Add(1)
	}
}

// callbackWorker delivers state reports to the registered callback.
func (c *BLEClient) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			// Drain any remaining items (best-effort, non-blocking)
			c.drainCallbackQueue()
			return
		case state := <-c.callbackQueue:
			c.callbackMu.RLock()
			callback := c.onState
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("state callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(state)
				}()
			}
		}
	}
}

// drainCallbackQueue removes and discards any remaining queued reports.
// Called during shutdown to prevent goroutines from blocking on send.
func (c *BLEClient) drainCallbackQueue() {
	for {
		select {
		case <-c.callbackQueue:
			// Discard item
		default:
			return // Queue is empty
		}
	}
}

// routeResponse hands a non-state frame to the operation awaiting it.
// Without a waiter the frame is eventually dropped; late answers to an
// abandoned operation land here.
func (c *BLEClient) routeResponse(r response) {
	select {
	case c.responses <- r:
	default:
	}
}

// drainResponses discards responses left over from an earlier operation.
// Called with opMu held, before a new request goes out.
func (c *BLEClient) drainResponses() {
	for {
		select {
		case <-c.responses:
		default:
			return
		}
	}
}

// awaitResponse waits for the lock to answer with the wanted command.
// An error report answering the operation surfaces as its mapped error.
func (c *BLEClient) awaitResponse(ctx context.Context, want uint16) (response, error) {
	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return response{}, ctx.Err()
		case <-c.done.Done():
			return response{}, ErrClosed
		case <-timer.C:
			return response{}, fmt.Errorf("%w: no answer for command 0x%04X", ErrResponseTimeout, want)
		case r := <-c.responses:
			if r.err != nil {
				return response{}, r.err
			}
			if r.cmd == want {
				return r, nil
			}
			// A late answer to an abandoned operation; keep waiting.
		}
	}
}

// writeFrame encrypts one command and writes it to the USDIO
// characteristic in chunks.
func (c *BLEClient) writeFrame(ctx context.Context, cmd uint16, payload []byte) error {
	frame, err := encryptFrame(c.keys, cmd, payload)
	if err != nil {
		return fmt.Errorf("encrypt command 0x%04X: %w", cmd, err)
	}

	c.connMu.RLock()
	connected := c.connected
	usdio := c.usdio
	c.connMu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for len(frame) > 0 {
		n := min(len(frame), writeChunkSize)
		if _, err := usdio.WriteWithoutResponse(frame[:n]); err != nil {
			c.statsWriteErrors.Add(1)
			c.statsErrors.Add(1)
			return fmt.Errorf("write command 0x%04X: %w", cmd, err)
		}
		frame = frame[n:]
	}

	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// RequestState asks the lock for a fresh keyturner state report.
//
// The report arrives as an indication and reaches the consumer through
// the SetOnState callback; there is no synchronous result beyond the
// request write itself.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: If the request could not be written
func (c *BLEClient) RequestState(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.writeFrame(ctx, cmdRequestData, encodeRequestData(cmdKeyturnerStates))
}

// PerformAction executes a lock action over the encrypted channel.
//
// The keyturner protocol demands a fresh challenge for every action: the
// client requests one, includes it in the action payload, and waits for
// the lock to accept. State changes stream in as indications while the
// motor runs; completion shows up on the state topic, not here.
//
// Parameters:
//   - ctx: Context for cancellation
//   - action: Motor command to execute
//
// Returns:
//   - error: ErrNotPaired if the credentials were rejected, otherwise
//     the write, response or rejection error
func (c *BLEClient) PerformAction(ctx context.Context, action nuki.LockAction) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.drainResponses()

	if err := c.writeFrame(ctx, cmdRequestData, encodeRequestData(cmdChallenge)); err != nil {
		return fmt.Errorf("request challenge: %w", err)
	}

	challenge, err := c.awaitResponse(ctx, cmdChallenge)
	if err != nil {
		return fmt.Errorf("challenge: %w", err)
	}
	if len(challenge.payload) != challengeNonceLen {
		return fmt.Errorf("%w: challenge nonce %d bytes", ErrBadFrame, len(challenge.payload))
	}

	if err := c.writeFrame(ctx, cmdLockAction, encodeLockAction(byte(action), c.keys.authID, challenge.payload)); err != nil {
		return fmt.Errorf("lock action %s: %w", action, err)
	}

	status, err := c.awaitResponse(ctx, cmdStatus)
	if err != nil {
		return fmt.Errorf("lock action %s: %w", action, err)
	}
	if len(status.payload) < 1 {
		return fmt.Errorf("%w: empty status", ErrBadFrame)
	}
	if code := status.payload[0]; code != statusAccepted && code != statusComplete {
		return fmt.Errorf("%w: status 0x%02X", ErrCommandRejected, code)
	}

	return nil
}

// SetOnState sets the callback for keyturner state reports.
//
// The callback is invoked on a dedicated goroutine, in arrival order.
// Panics in the callback are recovered and logged.
//
// Parameters:
//   - callback: Function to call for every state report
func (c *BLEClient) SetOnState(callback func(nuki.KeyturnerState)) {
	c.callbackMu.Lock()
	c.onState = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *BLEClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the session to the lock is up.
func (c *BLEClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *BLEClient) Stats() BLEStats {
	return BLEStats{
		Connects:        c.statsConnects.Load(),
		Disconnects:     c.statsDisconnects.Load(),
		Notifications:   c.statsNotifications.Load(),
		Dropped:         c.statsDropped.Load(),
		WriteErrors:     c.statsWriteErrors.Load(),
		ErrorsTotal:     c.statsErrors.Load(),
		ReconnectsTotal: c.statsReconnects.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// reportFatal records a non-recoverable error. The first one wins.
func (c *BLEClient) reportFatal(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

// Fatal delivers errors that end the session for good, such as the lock
// rejecting the pairing credentials. The daemon should exit; restarting
// cannot help until the lock is paired again.
func (c *BLEClient) Fatal() <-chan error {
	return c.fatal
}

// isClosed returns true if the client has been closed.
func (c *BLEClient) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the session.
//
// It signals the background workers to stop and disconnects from the
// lock. Safe to call multiple times (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *BLEClient) Close() error {
	// Signal shutdown (safe to call multiple times via sync.Once)
	c.done.Close()

	c.closeSession()

	// Wait for all goroutines to finish
	c.wg.Wait()

	c.logInfo("lock session closed")
	return nil
}

// logInfo logs an info message if logger is set.
func (c *BLEClient) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *BLEClient) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
