package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/messages"
	"nhooyr.io/websocket"
)

const readLimit = 16 << 20

// WSServer serves a Room over websocket.
type WSServer struct {
	port    int
	tls     *TLSConfig
	room    *Room
	clients *ClientManager
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewWSServerOptions struct {
	Port int
	TLS  *TLSConfig
	Room *Room
}

// NewWSServer creates a new WebSocket server.
func NewWSServer(opts NewWSServerOptions) *WSServer {
	return &WSServer{
		port:    opts.Port,
		tls:     opts.TLS,
		room:    opts.Room,
		clients: NewClientManager(),
	}
}

// Clients returns the server's client registry.
func (s *WSServer) Clients() *ClientManager {
	return s.clients
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Error("Failed to upgrade to WebSocket: %v", err)
		return
	}
	conn.SetReadLimit(readLimit)
	log.Debug("New WebSocket connection from %s", r.RemoteAddr)
	s.handleWSConnection(r.Context(), conn)
}

// Start starts the WebSocket server.
func (s *WSServer) Start(ctx context.Context) {
	addr := fmt.Sprintf(":%d", s.port)
	server := &http.Server{Addr: addr, Handler: s}

	go func() {
		<-ctx.Done()
		s.clients.CloseAll("server shutting down")
		server.Shutdown(context.Background())
	}()

	var listenAndServe func() error
	if s.tls != nil {
		log.Info("WebSocket server listening on %s with TLS", addr)
		listenAndServe = func() error {
			return server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("WebSocket server listening on %s", addr)
		listenAndServe = server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("WebSocket server closed")
			return
		}
		log.Error("WebSocket server error: %v", err)
	}
}

// handleWSConnection handles a WebSocket connection.
func (s *WSServer) handleWSConnection(ctx context.Context, conn *websocket.Conn) {
	client, err := s.clients.ConnectClient(conn)
	if err != nil {
		log.Error("Failed to register client: %v", err)
		conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	defer func() {
		s.clients.DisconnectClient(client.ID)
		conn.Close(websocket.StatusNormalClosure, "")
		log.Info("Client %d disconnected", client.ID)
	}()

	if err := client.Send(ctx, s.room.roomInfo()); err != nil {
		log.Error("Failed to send room info: %v", err)
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				log.Debug("Error reading from client %d: %v", client.ID, err)
			}
			return
		}
		msgs, err := messages.DeserializeMessages(data)
		if err != nil {
			log.Warn("Dropping malformed frame from client %d: %v", client.ID, err)
			continue
		}
		for _, msg := range msgs {
			if err := s.handleMessage(ctx, client, msg); err != nil {
				log.Error("Failed to handle %s from client %d: %v", msg.Cmd, client.ID, err)
			}
		}
	}
}

func (s *WSServer) handleMessage(ctx context.Context, client *Client, msg *messages.Message) error {
	number := s.clients.SlotOf(client.ID)
	if number == 0 && msg.Cmd != messages.CmdConnect {
		log.Warn("Received %s from client %d before Connect", msg.Cmd, client.ID)
		return nil
	}

	switch msg.Cmd {
	case messages.CmdConnect:
		if number != 0 {
			log.Warn("Client %d is already connected as slot %d", client.ID, number)
			return nil
		}
		connect := &messages.Connect{}
		if err := msg.Decode(connect); err != nil {
			return err
		}
		return s.handleConnect(ctx, client, connect)
	case messages.CmdLocationChecks:
		checks := &messages.LocationChecks{}
		if err := msg.Decode(checks); err != nil {
			return err
		}
		return s.handleLocationChecks(ctx, number, checks)
	case messages.CmdSync:
		s.room.lock.Lock()
		defer s.room.lock.Unlock()
		return client.Send(ctx, s.room.resend(number))
	case messages.CmdStatusUpdate:
		update := &messages.StatusUpdate{}
		if err := msg.Decode(update); err != nil {
			return err
		}
		if update.Status != messages.ClientStatusGoal {
			return nil
		}
		s.room.lock.Lock()
		defer s.room.lock.Unlock()
		slot := s.room.slots[number-1]
		if slot.goal {
			return nil
		}
		slot.goal = true
		return s.broadcastLocked(ctx, 0, textMessage("Goal", fmt.Sprintf("%s has completed their goal.", slot.name)))
	case messages.CmdSay:
		say := &messages.Say{}
		if err := msg.Decode(say); err != nil {
			return err
		}
		s.room.lock.Lock()
		defer s.room.lock.Unlock()
		return s.broadcastLocked(ctx, 0, textMessage("Chat", fmt.Sprintf("%s: %s", s.room.slotName(number), say.Text)))
	default:
		log.Trace("Ignoring %s from client %d", msg.Cmd, client.ID)
		return nil
	}
}

// handleConnect authenticates the client and replies with Connected followed
// by the full received list in the same frame.
func (s *WSServer) handleConnect(ctx context.Context, client *Client, connect *messages.Connect) error {
	s.room.lock.Lock()
	defer s.room.lock.Unlock()

	number, reasons := s.room.authenticate(connect)
	if len(reasons) > 0 {
		log.Info("Refusing client %d as %q: %v", client.ID, connect.Name, reasons)
		return client.Send(ctx, messages.ConnectionRefused{Errors: reasons})
	}

	s.clients.Authenticate(client.ID, number)
	connected, received := s.room.connected(number)
	log.Info("Client %d connected as %s (slot %d)", client.ID, connect.Name, number)
	return client.Send(ctx, connected, received)
}

func (s *WSServer) handleLocationChecks(ctx context.Context, finder int, checks *messages.LocationChecks) error {
	s.room.lock.Lock()
	defer s.room.lock.Unlock()

	var errs []error
	for _, d := range s.room.checkLocations(finder, checks.Locations) {
		batch := messages.ReceivedItems{Index: d.index, Items: d.items}
		if err := s.broadcastLocked(ctx, d.receiver, batch); err != nil {
			errs = append(errs, err)
		}
		if d.receiver == finder {
			continue
		}
		for _, item := range d.items {
			text := fmt.Sprintf("%s sent item %d to %s", s.room.slotName(finder), item.Item, s.room.slotName(d.receiver))
			if err := s.broadcastLocked(ctx, finder, textMessage("ItemSend", text)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SendItem appends an item to the named slot's received list as if another
// player found it, and notifies the slot's clients.
func (s *WSServer) SendItem(ctx context.Context, receiver string, item messages.NetworkItem) error {
	s.room.lock.Lock()
	defer s.room.lock.Unlock()

	r, ok := s.room.byName[receiver]
	if !ok {
		return fmt.Errorf("unknown slot %q", receiver)
	}
	for _, d := range s.room.appendItem(nil, r.number, item) {
		if err := s.broadcastLocked(ctx, d.receiver, messages.ReceivedItems{Index: d.index, Items: d.items}); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast sends packets to every client of the named slot as-is.
func (s *WSServer) Broadcast(ctx context.Context, receiver string, packets ...messages.Packet) error {
	s.room.lock.Lock()
	defer s.room.lock.Unlock()
	r, ok := s.room.byName[receiver]
	if !ok {
		return fmt.Errorf("unknown slot %q", receiver)
	}
	return s.broadcastLocked(ctx, r.number, packets...)
}

// broadcastLocked sends to every client of slot, or to all authenticated
// clients when slot is 0. Writes happen under the room lock so each client
// sees its received list in order.
func (s *WSServer) broadcastLocked(ctx context.Context, slot int, packets ...messages.Packet) error {
	var errs []error
	for _, client := range s.clients.ClientsForSlot(slot) {
		if err := client.Send(ctx, packets...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DisconnectAll closes every client connection.
func (s *WSServer) DisconnectAll() {
	s.clients.CloseAll("disconnected by server")
}

func textMessage(kind, text string) messages.PrintJSON {
	return messages.PrintJSON{
		Type: kind,
		Data: []messages.JSONMessagePart{{Text: text}},
	}
}
