package protocol_test

import (
	"encoding/json"
	"testing"

	"chargegrid.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	samples := map[string]string{
		protocol.SchemaHello: `{
		  "type":"HELLO",
		  "protocol_version":"1.0",
		  "client_name":"bot1",
		  "capabilities":{"max_queue":8},
		  "watch":{"center":[0,0,0],"radius":8}
		}`,
		protocol.SchemaWelcome: `{
		  "type":"WELCOME",
		  "protocol_version":"1.0",
		  "client_id":"C1",
		  "world_id":"GRID",
		  "tick":0,
		  "world_params":{"tick_rate_hz":5,"chunk_size":[16,16,1],"boundary_r":512,"watch_radius_max":32,"max_charge":15},
		  "catalogs":{"block_palette":{"digest":"deadbeef","count":6},"block_defs_digest":"deadbeef"}
		}`,
		protocol.SchemaEdit: `{
		  "type":"EDIT",
		  "protocol_version":"1.0",
		  "tick":3,
		  "client_id":"C1",
		  "edits":[
		    {"id":"e1","op":"PLACE","pos":[0,0,0],"block":"WIRE"},
		    {"id":"e2","op":"SET_OUTPUT","pos":[-1,0,0],"output":5},
		    {"id":"e3","op":"TOGGLE","pos":[2,0,0]},
		    {"id":"e4","op":"REMOVE","pos":[1,0,0]}
		  ]
		}`,
		protocol.SchemaState: `{
		  "type":"STATE",
		  "protocol_version":"1.0",
		  "tick":4,
		  "world_id":"GRID",
		  "digest":"abc",
		  "window":{"center":[0,0,0],"radius":1,"encoding":"RLE","blocks":"AAk=","charges":"AAk="},
		  "events":[{"t":4,"type":"EDIT_RESULT","ref":"e1","ok":true}]
		}`,
	}
	for kind, raw := range samples {
		if err := protocol.Validate(kind, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", kind, err)
		}
	}
}

func TestSchemas_RejectBadEdits(t *testing.T) {
	bad := []string{
		`{"type":"EDIT","protocol_version":"1.0","edits":[{"op":"PLACE","pos":[0,0,0]}]}`,
		`{"type":"EDIT","protocol_version":"1.0","edits":[{"op":"SET_OUTPUT","pos":[0,0,0]}]}`,
		`{"type":"EDIT","protocol_version":"1.0","edits":[{"op":"SET_OUTPUT","pos":[0,0,0],"output":16}]}`,
		`{"type":"EDIT","protocol_version":"1.0","edits":[{"op":"EXPLODE","pos":[0,0,0]}]}`,
		`{"type":"EDIT","protocol_version":"1.0","edits":[{"op":"REMOVE","pos":[0,0]}]}`,
		`{"type":"HELLO","protocol_version":"1.0","edits":[]}`,
		`not json`,
	}
	for _, raw := range bad {
		if err := protocol.Validate(protocol.SchemaEdit, []byte(raw)); err == nil {
			t.Fatalf("expected rejection for %s", raw)
		}
	}
	if err := protocol.Validate("obs", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestSchemas_MarshaledMessagesValidate(t *testing.T) {
	out := 3
	msg := protocol.EditMsg{
		Type:            protocol.TypeEdit,
		ProtocolVersion: protocol.Version,
		ClientID:        "C1",
		Edits: []protocol.EditReq{
			{ID: "a", Op: protocol.EditPlace, Pos: [3]int{1, 0, 1}, Block: "WIRE"},
			{ID: "b", Op: protocol.EditSetOutput, Pos: [3]int{0, 0, 1}, Output: &out},
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := protocol.Validate(protocol.SchemaEdit, raw); err != nil {
		t.Fatalf("validate marshaled edit: %v", err)
	}

	state := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            1,
		Digest:          "d",
		Window:          protocol.WindowObs{Encoding: "RLE"},
		Events:          []protocol.Event{},
	}
	raw, _ = json.Marshal(state)
	if err := protocol.Validate(protocol.SchemaState, raw); err != nil {
		t.Fatalf("validate marshaled state: %v", err)
	}
}
