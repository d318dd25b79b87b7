package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Watch           *WatchReq         `json:"watch,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WatchReq selects the square window a client receives STATE for.
type WatchReq struct {
	Center [3]int `json:"center"`
	Radius int    `json:"radius"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ClientID        string         `json:"client_id"`
	WorldID         string         `json:"world_id"`
	Tick            uint64         `json:"tick"`
	WorldParams     WorldParams    `json:"world_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type WorldParams struct {
	TickRateHz     int    `json:"tick_rate_hz"`
	ChunkSize      [3]int `json:"chunk_size"`
	BoundaryR      int    `json:"boundary_r"`
	WatchRadiusMax int    `json:"watch_radius_max"`
	MaxCharge      int    `json:"max_charge"`
}

type CatalogDigests struct {
	BlockPalette    DigestRef `json:"block_palette"`
	BlockDefsDigest string    `json:"block_defs_digest"`
	TuningDigest    string    `json:"tuning_digest,omitempty"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// Edit ops.
const (
	EditPlace     = "PLACE"
	EditRemove    = "REMOVE"
	EditSetOutput = "SET_OUTPUT"
	EditToggle    = "TOGGLE"
)

// EDIT (client -> server)
type EditMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	ClientID        string    `json:"client_id"`
	Edits           []EditReq `json:"edits"`
}

type EditReq struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Pos    [3]int `json:"pos"`
	Block  string `json:"block,omitempty"`
	Output *int   `json:"output,omitempty"`
}

// STATE (server -> client)
type StateMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	WorldID         string    `json:"world_id"`
	Digest          string    `json:"digest"`
	Window          WindowObs `json:"window"`
	Events          []Event   `json:"events"`
}

// WindowObs carries row-major (x fastest, then z) RLE cells for the
// (2r+1)x(2r+1) square around Center.
type WindowObs struct {
	Center   [3]int `json:"center"`
	Radius   int    `json:"radius"`
	Encoding string `json:"encoding"`
	Blocks   string `json:"blocks"`
	Charges  string `json:"charges"`
}

type Event map[string]interface{}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
