package network

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cbodonnell/apsync/pkg/messages"
	"nhooyr.io/websocket"
)

const (
	// ClientIDMaxRetries represents the maximum number of retries when generating a unique ID
	ClientIDMaxRetries = 1024
	// ClientWriteTimeout bounds a single write to a client
	ClientWriteTimeout = 5 * time.Second
)

// Client represents a connected client. Slot is 0 until the client authenticates.
type Client struct {
	ID   uint32
	Slot int
	conn *websocket.Conn
}

// Send writes packets to the client as one frame.
func (c *Client) Send(ctx context.Context, packets ...messages.Packet) error {
	b, err := messages.SerializeMessages(packets...)
	if err != nil {
		return fmt.Errorf("failed to serialize messages: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, ClientWriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("failed to write to client %d: %v", c.ID, err)
	}
	return nil
}

// ClientManager manages connected clients
type ClientManager struct {
	clients     map[uint32]*Client
	clientsLock sync.RWMutex
}

// NewClientManager creates a new ClientManager
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[uint32]*Client),
	}
}

// ConnectClient adds a new client to the manager
func (cm *ClientManager) ConnectClient(conn *websocket.Conn) (*Client, error) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()

	clientID, err := cm.generateUniqueID(ClientIDMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to generate a unique ID: %v", err)
	}
	client := &Client{
		ID:   clientID,
		conn: conn,
	}
	cm.clients[clientID] = client
	return client, nil
}

// Authenticate binds a client to a slot
func (cm *ClientManager) Authenticate(clientID uint32, slot int) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()
	if client, ok := cm.clients[clientID]; ok {
		client.Slot = slot
	}
}

// SlotOf returns the slot a client is bound to, or 0
func (cm *ClientManager) SlotOf(clientID uint32) int {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	if client, ok := cm.clients[clientID]; ok {
		return client.Slot
	}
	return 0
}

// ClientsForSlot returns every client authenticated as slot.
// A slot of 0 returns every authenticated client.
func (cm *ClientManager) ClientsForSlot(slot int) []*Client {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	var clients []*Client
	for _, client := range cm.clients {
		if client.Slot == 0 {
			continue
		}
		if slot == 0 || client.Slot == slot {
			clients = append(clients, client)
		}
	}
	return clients
}

// DisconnectClient removes a client from the manager
func (cm *ClientManager) DisconnectClient(clientID uint32) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()
	delete(cm.clients, clientID)
}

// CloseAll closes every client connection
func (cm *ClientManager) CloseAll(reason string) {
	cm.clientsLock.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	cm.clientsLock.RUnlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.conn.Close(websocket.StatusGoingAway, reason)
		}()
	}
	wg.Wait()
}

func (cm *ClientManager) Count() int {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	return len(cm.clients)
}

// generateUniqueID generates a unique client ID with a maximum number of retries
// it reads from the clients, so it needs to be locked before calling
func (cm *ClientManager) generateUniqueID(maxRetries int) (uint32, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		id := rand.Uint32()
		if id == 0 {
			continue
		}
		if _, ok := cm.clients[id]; !ok {
			return id, nil
		}
	}

	return 0, fmt.Errorf("failed to generate a unique ID after %d attempts", maxRetries)
}
