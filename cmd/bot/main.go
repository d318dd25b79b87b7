package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"chargegrid.ai/internal/protocol"
	simenc "chargegrid.ai/internal/sim/encoding"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name    = flag.String("name", "bot", "client name")
		originX = flag.Int("x", 0, "emitter x")
		originZ = flag.Int("z", 0, "emitter z")
		length  = flag.Int("len", 12, "wire line length")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	radius := *length/2 + 1
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
		Watch: &protocol.WatchReq{
			Center: [3]int{*originX + *length/2, 0, *originZ},
			Radius: radius,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	built := false
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME client_id=%s world=%s tick_rate=%d max_charge=%d", w.ClientID, w.WorldID, w.WorldParams.TickRateHz, w.WorldParams.MaxCharge)
			if !built {
				built = true
				if err := conn.WriteJSON(demoLine(w.Tick, *originX, *originZ, *length)); err != nil {
					logger.Fatalf("send EDIT: %v", err)
				}
			}

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			logState(logger, &st)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				logger.Printf("ERROR code=%s retryable=%v message=%s", e.Code, protocol.Retryable(e.Code), e.Message)
			}
		}
	}
}

// demoLine places a battery at the origin and a straight wire run along +X.
func demoLine(tick uint64, x, z, n int) protocol.EditMsg {
	edits := []protocol.EditReq{{ID: "E0", Op: protocol.EditPlace, Pos: [3]int{x, 0, z}, Block: "BATTERY"}}
	for i := 1; i <= n; i++ {
		edits = append(edits, protocol.EditReq{
			ID:    fmt.Sprintf("W%d", i),
			Op:    protocol.EditPlace,
			Pos:   [3]int{x + i, 0, z},
			Block: "WIRE",
		})
	}
	return protocol.EditMsg{
		Type:            protocol.TypeEdit,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Edits:           edits,
	}
}

func logState(logger *log.Logger, st *protocol.StateMsg) {
	for _, ev := range st.Events {
		if ok, _ := ev["ok"].(bool); !ok {
			code, _ := ev["code"].(string)
			logger.Printf("edit %v rejected: %s %v retryable=%v", ev["ref"], code, ev["message"], protocol.Retryable(code))
		}
	}
	charges, err := simenc.DecodeRLE[uint8](st.Window.Charges)
	if err != nil {
		logger.Printf("bad charges at tick %d: %v", st.Tick, err)
		return
	}
	side := 2*st.Window.Radius + 1
	if len(charges) != side*side {
		return
	}
	// Row through the window center.
	mid := st.Window.Radius * side
	logger.Printf("tick=%d digest=%.12s charges=%v", st.Tick, st.Digest, charges[mid:mid+side])
}
