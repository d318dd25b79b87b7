package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Catalogs struct {
	Blocks BlockCatalog
}

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

const (
	KindWire    = "WIRE"
	KindEmitter = "EMITTER"
	KindOther   = "OTHER"
)

type BlockDef struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Solid bool   `json:"solid"`
	// Output is the default level for EMITTER blocks and the on-level for
	// toggle emitters.
	Output int  `json:"output,omitempty"`
	Toggle bool `json:"toggle,omitempty"`
}

type blocksFile struct {
	Palette []string   `json:"palette"`
	Defs    []BlockDef `json:"defs"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f blocksFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	return out.build(f)
}

func (out *BlockCatalog) build(f blocksFile) error {
	if len(f.Palette) == 0 {
		return fmt.Errorf("blocks.json: empty palette")
	}
	if len(f.Palette) > 1<<16 {
		return fmt.Errorf("blocks.json: palette too large (%d)", len(f.Palette))
	}
	if f.Palette[0] != "AIR" {
		return fmt.Errorf("blocks.json: AIR must be palette id 0")
	}

	out.Defs = map[string]BlockDef{}
	for _, d := range f.Defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("blocks.json: duplicate def %q", d.ID)
		}
		switch d.Kind {
		case KindWire, KindEmitter, KindOther:
		case "":
			d.Kind = KindOther
		default:
			return fmt.Errorf("blocks.json: %s: unknown kind %q", d.ID, d.Kind)
		}
		if d.Output < 0 || d.Output > 15 {
			return fmt.Errorf("blocks.json: %s: output %d out of range 0..15", d.ID, d.Output)
		}
		if d.Kind != KindEmitter && (d.Output != 0 || d.Toggle) {
			return fmt.Errorf("blocks.json: %s: output/toggle only valid on EMITTER", d.ID)
		}
		out.Defs[d.ID] = d
	}

	out.Index = make(map[string]uint16, len(f.Palette))
	for i, id := range f.Palette {
		if _, dup := out.Index[id]; dup {
			return fmt.Errorf("blocks.json: duplicate palette entry %q", id)
		}
		if _, ok := out.Defs[id]; !ok {
			return fmt.Errorf("blocks.json: palette entry %q has no def", id)
		}
		out.Index[id] = uint16(i)
	}
	if len(out.Index) != len(out.Defs) {
		for id := range out.Defs {
			if _, ok := out.Index[id]; !ok {
				return fmt.Errorf("blocks.json: def %q missing from palette", id)
			}
		}
	}
	if out.Defs["AIR"].Kind != KindOther {
		return fmt.Errorf("blocks.json: AIR must be kind OTHER")
	}
	out.Palette = append([]string(nil), f.Palette...)

	palJSON, _ := json.Marshal(out.Palette)
	out.PaletteDigest = sha256Hex(palJSON)
	defs := make([]BlockDef, 0, len(out.Palette))
	for _, id := range out.Palette {
		defs = append(defs, out.Defs[id])
	}
	defsJSON, _ := json.Marshal(defs)
	out.DefsDigest = sha256Hex(defsJSON)
	return nil
}

// DefByID returns the def for a palette id.
func (b *BlockCatalog) DefByID(id uint16) (BlockDef, bool) {
	if int(id) >= len(b.Palette) {
		return BlockDef{}, false
	}
	d, ok := b.Defs[b.Palette[id]]
	return d, ok
}
