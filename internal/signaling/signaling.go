// Package signaling implements the out-of-band SDP/ICE-candidate exchange
// that sits outside the core media transport: a thin relay over a
// websocket, carrying JSON messages between two peers.
package signaling

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/lanikai/rtcmedia/internal/logging"
)

var log = logging.DefaultLogger.WithTag("signaling")

// MessageType identifies the payload carried by one Message.
type MessageType string

const (
	MessageOffer     MessageType = "offer"
	MessageAnswer    MessageType = "answer"
	MessageCandidate MessageType = "candidate"
	MessageBye       MessageType = "bye"
)

// Message is the JSON envelope exchanged over the signaling connection.
type Message struct {
	Type MessageType `json:"type"`
	SDP  string      `json:"sdp,omitempty"`

	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex int    `json:"sdpMLineIndex,omitempty"`
}

// Peer is one end of a signaling connection: it can send and receive
// Messages, and is safe for concurrent sends from multiple goroutines.
type Peer struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Dial opens a signaling connection to a relay server at url.
func Dial(url string) (*Peer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "signaling: dial")
	}
	return &Peer{conn: conn}, nil
}

// NewPeer wraps an already-established websocket connection, such as one
// accepted by an http.Handler using websocket.Upgrader.
func NewPeer(conn *websocket.Conn) *Peer {
	return &Peer{conn: conn}
}

// Send serializes and writes one Message as a websocket text frame.
func (p *Peer) Send(m Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "signaling: marshal")
	}
	return p.conn.WriteMessage(websocket.TextMessage, b)
}

// Recv blocks for the next Message. It returns an error once the
// connection is closed.
func (p *Peer) Recv() (Message, error) {
	var m Message
	_, b, err := p.conn.ReadMessage()
	if err != nil {
		return m, errors.Wrap(err, "signaling: read")
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, errors.Wrap(err, "signaling: unmarshal")
	}
	return m, nil
}

// Close closes the underlying websocket connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}

// Relay forwards every Message received from a to b, and vice versa,
// until either side disconnects. It is the whole server-side logic of a
// two-party signaling relay.
func Relay(a, b *Peer) error {
	errs := make(chan error, 2)
	go func() { errs <- pump(a, b) }()
	go func() { errs <- pump(b, a) }()
	err := <-errs
	a.Close()
	b.Close()
	<-errs
	return err
}

func pump(src, dst *Peer) error {
	for {
		m, err := src.Recv()
		if err != nil {
			return err
		}
		if err := dst.Send(m); err != nil {
			return err
		}
		if m.Type == MessageBye {
			log.Debug("signaling: relayed bye")
		}
	}
}
