package websocket

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socketClient wraps a single upgraded websocket connection. Writes are
// serialised with a mutex as gorilla connections permit only one
// concurrent writer.
type socketClient struct {
	id        *uuid.UUID
	socket    *websocket.Conn
	writeLock sync.Mutex
	closed    bool
}

// Read runs the read loop for this client, decoding each inbound frame
// in to a SocketMessage and forwarding it on the channel provided. The
// origin of each message is stamped with this clients ID.
// This method blocks until the connection errors or closes.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		var message SocketMessage
		if err := client.socket.ReadJSON(&message); err != nil {
			return fmt.Errorf("socket read failed: %w", err)
		}

		message.Origin = client.id
		receiveCh <- &message
	}
}

// SendMessage encodes the message provided and writes it to the
// underlying socket.
func (client *socketClient) SendMessage(message *SocketMessage) error {
	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	if client.closed {
		return fmt.Errorf("cannot send message to client {%v}: connection closed", client.id)
	}

	if err := client.socket.WriteJSON(message); err != nil {
		return fmt.Errorf("socket write failed: %w", err)
	}

	return nil
}

// Close tears down the underlying socket connection. Safe to call
// multiple times.
func (client *socketClient) Close() {
	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	if client.closed {
		return
	}

	client.closed = true
	client.socket.Close()
}
