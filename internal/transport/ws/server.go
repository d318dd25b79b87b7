package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chargegrid.ai/internal/protocol"
	"chargegrid.ai/internal/sim/world"
)

const (
	handshakeTimeout = 5 * time.Second
	readIdleTimeout  = 60 * time.Second
	writeTimeout     = 5 * time.Second

	defaultQueue = 8
	maxQueue     = 64
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		clientID, out := s.handshake(conn)
		if clientID == "" {
			return
		}
		s.log.Printf("client joined id=%s remote=%s", clientID, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: sole writer on conn after the handshake.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		s.readLoop(ctx, conn, clientID, out)
		cancel()
		<-done

		s.world.Leave() <- clientID
		s.log.Printf("client left id=%s", clientID)
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID string, out chan []byte) {
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			enqueue(out, errorMsg(protocol.ErrProtoBadRequest, "invalid json"))
			continue
		}
		if base.Type != protocol.TypeEdit {
			enqueue(out, errorMsg(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type))
			continue
		}
		if base.ProtocolVersion != protocol.Version {
			enqueue(out, errorMsg(protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version))
			continue
		}
		if err := protocol.Validate(protocol.SchemaEdit, msg); err != nil {
			enqueue(out, errorMsg(protocol.ErrProtoBadRequest, err.Error()))
			continue
		}
		var edit protocol.EditMsg
		if err := json.Unmarshal(msg, &edit); err != nil {
			enqueue(out, errorMsg(protocol.ErrProtoBadRequest, err.Error()))
			continue
		}
		// Edits always apply as the connection's client.
		edit.ClientID = clientID
		select {
		case s.world.Inbox() <- world.EditEnvelope{ClientID: clientID, Edit: edit}:
		default:
			enqueue(out, errorMsg(protocol.ErrWorldBusy, "world inbox full"))
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (clientID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return "", nil
	}
	if base.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version)
		return "", nil
	}
	if err := protocol.Validate(protocol.SchemaHello, msg); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, err.Error())
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, err.Error())
		return "", nil
	}

	q := hello.Capabilities.MaxQueue
	if q <= 0 {
		q = defaultQueue
	}
	if q > maxQueue {
		q = maxQueue
	}
	out = make(chan []byte, q)

	respCh := make(chan world.JoinResponse, 1)
	select {
	case s.world.Join() <- world.JoinRequest{Name: hello.ClientName, Watch: hello.Watch, Out: out, Resp: respCh}:
	case <-time.After(handshakeTimeout):
		reject(conn, protocol.ErrWorldBusy, "join queue full")
		return "", nil
	}
	resp := <-respCh

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.ClientID
		return "", nil
	}
	return resp.Welcome.ClientID, out
}

func errorMsg(code, message string) []byte {
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	return b
}

// enqueue never blocks the reader; a full queue drops the message.
func enqueue(out chan []byte, b []byte) {
	select {
	case out <- b:
	default:
	}
}

func reject(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, errorMsg(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
