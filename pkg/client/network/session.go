package network

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/messages"
	"github.com/cbodonnell/apsync/pkg/queue"
	"github.com/cbodonnell/apsync/pkg/state"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultKeepaliveTimeout  = 45 * time.Second
	DefaultBackoffInitial    = 200 * time.Millisecond
	DefaultBackoffMax        = 5 * time.Second

	writeTimeout       = 10 * time.Second
	readLimit          = 16 << 20
	stateChangeBacklog = 64
)

// ProtocolVersion is the protocol version announced in Connect.
var ProtocolVersion = messages.NewVersion(0, 5, 1)

// Credentials identify the slot to connect as.
type Credentials struct {
	ServerAddress string
	Slot          string
	Token         string
}

// URL returns the websocket URL for the server address, defaulting to ws://.
func (c Credentials) URL() string {
	addr := strings.TrimSpace(c.ServerAddress)
	if strings.Contains(addr, "://") {
		return addr
	}
	return "ws://" + addr
}

// Session is the client side of one slot's connection to the multiworld server.
// It reconnects on its own until it is closed or the server refuses the credentials.
type Session struct {
	game          string
	tags          []string
	itemsHandling int
	version       messages.Version
	uuid          string

	handshakeTimeout  time.Duration
	keepaliveInterval time.Duration
	keepaliveTimeout  time.Duration
	backoffInitial    time.Duration
	backoffMax        time.Duration
	dialer            *websocket.Dialer

	// lock guards the connection fields below
	lock        sync.RWMutex
	credentials Credentials
	conn        *websocket.Conn
	state       ConnectionState
	generation  uint64
	seedName    string
	slot        int
	fatal       error
	lastErr     error

	// writeLock serializes data frames; gorilla allows one concurrent writer
	writeLock sync.Mutex

	// owned by the read loop
	nextIndex   int
	syncPending bool

	resumeCursor atomic.Int64
	events       *queue.InMemoryQueue[state.ReceiveEvent]
	stateChanges chan StateChange

	rttLock sync.Mutex
	rtts    rttWindow
	ping    float64

	runLock   sync.Mutex
	parentCtx context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

type NewSessionOptions struct {
	Credentials Credentials
	Game        string
	Tags        []string
	// ItemsHandling defaults to remote items plus starting inventory.
	ItemsHandling     int
	Version           messages.Version
	UUID              string
	HandshakeTimeout  time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	Dialer            *websocket.Dialer
}

func NewSession(opts NewSessionOptions) *Session {
	s := &Session{
		credentials:       opts.Credentials,
		game:              opts.Game,
		tags:              opts.Tags,
		itemsHandling:     opts.ItemsHandling,
		version:           opts.Version,
		uuid:              opts.UUID,
		handshakeTimeout:  opts.HandshakeTimeout,
		keepaliveInterval: opts.KeepaliveInterval,
		keepaliveTimeout:  opts.KeepaliveTimeout,
		backoffInitial:    opts.BackoffInitial,
		backoffMax:        opts.BackoffMax,
		dialer:            opts.Dialer,
		events:            queue.NewInMemoryQueue[state.ReceiveEvent](0),
		stateChanges:      make(chan StateChange, stateChangeBacklog),
	}
	if s.itemsHandling == 0 {
		s.itemsHandling = messages.ItemsHandlingRemote | messages.ItemsHandlingStartingInventory
	}
	if s.version == (messages.Version{}) {
		s.version = ProtocolVersion
	}
	if s.uuid == "" {
		s.uuid = uuid.NewString()
	}
	if s.tags == nil {
		s.tags = []string{}
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = DefaultHandshakeTimeout
	}
	if s.keepaliveInterval <= 0 {
		s.keepaliveInterval = DefaultKeepaliveInterval
	}
	if s.keepaliveTimeout <= 0 {
		s.keepaliveTimeout = DefaultKeepaliveTimeout
	}
	if s.backoffInitial <= 0 {
		s.backoffInitial = DefaultBackoffInitial
	}
	if s.backoffMax <= 0 {
		s.backoffMax = DefaultBackoffMax
	}
	if s.dialer == nil {
		s.dialer = &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  s.handshakeTimeout,
			EnableCompression: true,
		}
	}
	return s
}

// Start connects in the background and keeps the session connected until
// ctx is cancelled, Close is called, or the server refuses the credentials.
func (s *Session) Start(ctx context.Context) error {
	s.runLock.Lock()
	defer s.runLock.Unlock()
	if s.running() {
		return fmt.Errorf("session already started")
	}
	s.parentCtx = ctx
	s.startLocked()
	return nil
}

// Connect is Start, but waits for the outcome of the first connection
// attempt. An *ErrNetworkUnavailable result is retried in the background;
// an *ErrAuthRejected result stops the session.
func (s *Session) Connect(ctx context.Context) error {
	s.runLock.Lock()
	if s.running() {
		s.runLock.Unlock()
		return fmt.Errorf("session already started")
	}
	s.parentCtx = ctx
	first := s.startLocked()
	s.runLock.Unlock()
	return <-first
}

func (s *Session) startLocked() <-chan error {
	ctx, cancel := context.WithCancel(s.parentCtx)
	done := make(chan struct{})
	first := make(chan error, 1)
	s.cancel = cancel
	s.done = done
	go s.run(ctx, done, first)
	return first
}

// running must be called with runLock held.
func (s *Session) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close disconnects and waits for the background loop to exit.
func (s *Session) Close() {
	s.runLock.Lock()
	defer s.runLock.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.closeConn()
	<-s.done
	s.cancel = nil
}

// Reconnect drops the current connection so the session dials again. A session
// stopped by a refusal is restarted.
func (s *Session) Reconnect() error {
	s.runLock.Lock()
	defer s.runLock.Unlock()
	if s.parentCtx == nil {
		return fmt.Errorf("session not started")
	}
	if s.running() {
		s.closeConn()
		return nil
	}
	if err := s.parentCtx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	s.fatal = nil
	s.lock.Unlock()
	s.startLocked()
	return nil
}

// SetCredentials replaces the credentials used by the next connection attempt.
func (s *Session) SetCredentials(credentials Credentials) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.credentials = credentials
}

func (s *Session) Credentials() Credentials {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.credentials
}

// SetResumeCursor sets the last sequence already applied. Items at or below
// it are not emitted.
func (s *Session) SetResumeCursor(sequence int64) {
	s.resumeCursor.Store(sequence)
}

func (s *Session) State() ConnectionState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state
}

// Generation counts successful handshakes.
func (s *Session) Generation() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.generation
}

// SeedName is the seed reported by the last RoomInfo.
func (s *Session) SeedName() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.seedName
}

// Err returns the refusal that stopped the session, if any.
func (s *Session) Err() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.fatal
}

// LastError returns the most recent connection error.
func (s *Session) LastError() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lastErr
}

// Ping returns the average keepalive round trip time in milliseconds.
func (s *Session) Ping() float64 {
	s.rttLock.Lock()
	defer s.rttLock.Unlock()
	return s.ping
}

// StateChanges delivers every state transition. Transitions are dropped
// when the consumer falls more than a small backlog behind.
func (s *Session) StateChanges() <-chan StateChange {
	return s.stateChanges
}

// Events yields the received items queued since the last call, in arrival
// order. Items at or below the resume cursor are skipped.
func (s *Session) Events() iter.Seq[state.ReceiveEvent] {
	return func(yield func(state.ReceiveEvent) bool) {
		n := s.events.Size()
		for range n {
			e, ok := s.events.TryDequeue()
			if !ok {
				return
			}
			if e.Sequence <= s.resumeCursor.Load() {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// SendChecked reports checked locations to the server.
func (s *Session) SendChecked(ctx context.Context, locations ...catalog.NormalizedID) error {
	ids := make([]int64, 0, len(locations))
	for _, id := range locations {
		ids = append(ids, int64(id))
	}
	return s.send(ctx, messages.LocationChecks{Locations: ids})
}

// SendGoal reports that the slot's goal is complete.
func (s *Session) SendGoal(ctx context.Context) error {
	return s.send(ctx, messages.StatusUpdate{Status: messages.ClientStatusGoal})
}

// Say sends a chat message to the room.
func (s *Session) Say(ctx context.Context, text string) error {
	return s.send(ctx, messages.Say{Text: text})
}

func (s *Session) send(ctx context.Context, packets ...messages.Packet) error {
	s.lock.RLock()
	conn, st := s.conn, s.state
	s.lock.RUnlock()
	if conn == nil || st != StateSynced {
		return &ErrNetworkUnavailable{Err: ErrNotConnected}
	}
	return s.write(ctx, conn, packets...)
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, packets ...messages.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := messages.SerializeMessages(packets...)
	if err != nil {
		return fmt.Errorf("failed to serialize messages: %w", err)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return &ErrNetworkUnavailable{Err: err}
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return &ErrNetworkUnavailable{Err: err}
	}
	return nil
}

func (s *Session) run(ctx context.Context, done chan struct{}, first chan<- error) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.backoffInitial
	b.MaxInterval = s.backoffMax
	b.Reset()

	for {
		synced, err := s.connectAndServe(ctx, first)
		first = nil
		if ctx.Err() != nil {
			s.setState(StateDisconnected, nil)
			return
		}
		if IsAuthRejected(err) {
			log.Error("Connection refused: %v", err)
			s.lock.Lock()
			s.fatal = err
			s.lock.Unlock()
			s.setState(StateDisconnected, err)
			return
		}
		if synced {
			b.Reset()
		}

		wait := b.NextBackOff()
		log.Warn("Connection lost: %v, reconnecting in %s", err, wait)
		s.setState(StateReconnecting, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateDisconnected, nil)
			return
		case <-timer.C:
		}
	}
}

// connectAndServe makes one connection attempt and serves it until it fails.
// synced reports whether the handshake completed. The handshake outcome is
// sent on first when it is not nil.
func (s *Session) connectAndServe(ctx context.Context, first chan<- error) (synced bool, err error) {
	s.setState(StateConnecting, nil)
	credentials := s.Credentials()

	dialCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()
	log.Info("Connecting to %s as %s", credentials.URL(), credentials.Slot)
	conn, _, err := s.dialer.DialContext(dialCtx, credentials.URL(), nil)
	if err != nil {
		err = &ErrNetworkUnavailable{Err: err}
		notify(first, err)
		return false, err
	}
	conn.SetReadLimit(readLimit)

	s.lock.Lock()
	s.conn = conn
	s.lock.Unlock()
	defer func() {
		s.lock.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.lock.Unlock()
		conn.Close()
	}()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	rest, err := s.handshake(ctx, conn, credentials)
	notify(first, err)
	if err != nil {
		return false, err
	}

	for _, msg := range rest {
		s.handleMessage(ctx, conn, msg)
	}

	keepaliveCtx, cancelKeepalive := context.WithCancel(ctx)
	defer cancelKeepalive()
	conn.SetPongHandler(func(appData string) error {
		s.recordPong(appData)
		return conn.SetReadDeadline(time.Now().Add(s.keepaliveTimeout))
	})
	go s.keepalive(keepaliveCtx, conn)

	err = s.readLoop(ctx, conn)
	if ctx.Err() != nil {
		return true, &ErrNetworkUnavailable{Err: &ErrConnectionClosedByClient{}}
	}
	return true, err
}

// handshake waits for RoomInfo, sends Connect and waits for the answer.
// Packets that arrived in the same frame after Connected are returned.
func (s *Session) handshake(ctx context.Context, conn *websocket.Conn, credentials Credentials) ([]*messages.Message, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout)); err != nil {
		return nil, &ErrNetworkUnavailable{Err: err}
	}

	for sentConnect := false; ; {
		msgs, err := readFrame(conn)
		if err != nil {
			return nil, err
		}
		for i, msg := range msgs {
			switch msg.Cmd {
			case messages.CmdRoomInfo:
				roomInfo := &messages.RoomInfo{}
				if err := msg.Decode(roomInfo); err != nil {
					return nil, &ErrNetworkUnavailable{Err: fmt.Errorf("failed to decode room info: %w", err)}
				}
				s.lock.Lock()
				s.seedName = roomInfo.SeedName
				s.lock.Unlock()
				s.setState(StateAuthenticating, nil)
				log.Debug("Room info received: seed %s, server version %d.%d.%d", roomInfo.SeedName,
					roomInfo.Version.Major, roomInfo.Version.Minor, roomInfo.Version.Build)

				if err := s.write(ctx, conn, messages.Connect{
					Password:      credentials.Token,
					Game:          s.game,
					Name:          credentials.Slot,
					UUID:          s.uuid,
					Version:       s.version,
					ItemsHandling: s.itemsHandling,
					Tags:          s.tags,
				}); err != nil {
					return nil, err
				}
				sentConnect = true
			case messages.CmdConnectionRefused:
				refused := &messages.ConnectionRefused{}
				if err := msg.Decode(refused); err != nil {
					return nil, &ErrNetworkUnavailable{Err: fmt.Errorf("failed to decode connection refused: %w", err)}
				}
				return nil, &ErrAuthRejected{Reasons: refused.Errors}
			case messages.CmdConnected:
				if !sentConnect {
					return nil, &ErrNetworkUnavailable{Err: fmt.Errorf("connected before room info")}
				}
				connected := &messages.Connected{}
				if err := msg.Decode(connected); err != nil {
					return nil, &ErrNetworkUnavailable{Err: fmt.Errorf("failed to decode connected: %w", err)}
				}
				s.onConnected(connected)
				return msgs[i+1:], nil
			default:
				log.Trace("Ignoring %s during handshake", msg.Cmd)
			}
		}
	}
}

func (s *Session) onConnected(connected *messages.Connected) {
	s.nextIndex = 0
	s.syncPending = false

	s.lock.Lock()
	s.generation++
	s.slot = connected.Slot
	s.lastErr = nil
	s.lock.Unlock()

	log.Info("Connected as slot %d with %d checked and %d missing locations",
		connected.Slot, len(connected.CheckedLocations), len(connected.MissingLocations))
	s.setState(StateSynced, nil)
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.keepaliveTimeout)); err != nil {
			return &ErrNetworkUnavailable{Err: err}
		}
		msgs, err := readFrame(conn)
		if err != nil {
			var unavailable *ErrNetworkUnavailable
			if errors.As(err, &unavailable) {
				return err
			}
			log.Warn("Dropping malformed frame: %v", err)
			continue
		}
		for _, msg := range msgs {
			s.handleMessage(ctx, conn, msg)
		}
	}
}

func readFrame(conn *websocket.Conn) ([]*messages.Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, &ErrNetworkUnavailable{Err: &ErrConnectionClosedByServer{}}
		}
		return nil, &ErrNetworkUnavailable{Err: err}
	}
	return messages.DeserializeMessages(data)
}

func (s *Session) handleMessage(ctx context.Context, conn *websocket.Conn, msg *messages.Message) {
	switch msg.Cmd {
	case messages.CmdReceivedItems:
		received := &messages.ReceivedItems{}
		if err := msg.Decode(received); err != nil {
			log.Error("Failed to decode received items: %v", err)
			return
		}
		s.receiveItems(ctx, conn, received)
	case messages.CmdPrintJSON:
		p := &messages.PrintJSON{}
		if err := msg.Decode(p); err != nil {
			log.Error("Failed to decode print json: %v", err)
			return
		}
		if text := p.PlainText(); text != "" {
			log.User("%s", text)
		}
	case messages.CmdRoomUpdate:
		log.Debug("Room updated")
	default:
		log.Trace("Ignoring %s", msg.Cmd)
	}
}

// receiveItems queues items by sequence. A batch that starts past the next
// expected index means items were missed, so the batch is dropped and a full
// resend is requested.
func (s *Session) receiveItems(ctx context.Context, conn *websocket.Conn, received *messages.ReceivedItems) {
	if received.Index > s.nextIndex {
		log.Warn("Received items starting at %d, expected %d", received.Index, s.nextIndex)
		if !s.syncPending {
			if err := s.write(ctx, conn, messages.Sync{}); err != nil {
				log.Error("Failed to request resync: %v", err)
				return
			}
			s.syncPending = true
		}
		return
	}
	if received.Index == 0 {
		s.syncPending = false
	}
	if end := received.Index + len(received.Items); end > s.nextIndex {
		s.nextIndex = end
	}

	cursor := s.resumeCursor.Load()
	for i, item := range received.Items {
		seq := int64(received.Index + i + 1)
		if seq <= cursor {
			continue
		}
		if err := s.events.Enqueue(state.ReceiveEvent{
			Item:         catalog.NormalizedID(item.Item),
			SourcePlayer: item.Player,
			Location:     catalog.NormalizedID(item.Location),
			Sequence:     seq,
		}); err != nil {
			log.Error("Failed to enqueue received item %d: %v", seq, err)
		}
	}
}

func (s *Session) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := strconv.FormatInt(time.Now().UnixMilli(), 10)
			if err := conn.WriteControl(websocket.PingMessage, []byte(payload), time.Now().Add(writeTimeout)); err != nil {
				log.Debug("Failed to send keepalive: %v", err)
				return
			}
		}
	}
}

func (s *Session) recordPong(appData string) {
	sent, err := strconv.ParseInt(appData, 10, 64)
	if err != nil {
		return
	}
	rtt := time.Now().UnixMilli() - sent
	s.rttLock.Lock()
	defer s.rttLock.Unlock()
	s.rtts.add(rtt)
	s.ping = s.rtts.average()
	log.Trace("Keepalive round trip %dms, average %.1fms", rtt, s.ping)
}

func notify(ch chan<- error, err error) {
	if ch != nil {
		ch <- err
	}
}

func (s *Session) closeConn() {
	s.lock.RLock()
	conn := s.conn
	s.lock.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Session) setState(st ConnectionState, err error) {
	s.lock.Lock()
	s.state = st
	if err != nil {
		s.lastErr = err
	}
	change := StateChange{
		State:      st,
		Generation: s.generation,
		SeedName:   s.seedName,
		Slot:       s.slot,
		Err:        err,
	}
	s.lock.Unlock()

	select {
	case s.stateChanges <- change:
	default:
		log.Warn("State change to %s dropped", st)
	}
}
