package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// TileID names the block at a tile, e.g. "WIRE@3,0,-2".
func TileID(block string, x, y, z int) string {
	return fmt.Sprintf("%s@%d,%d,%d", block, x, y, z)
}

func ParseTileID(id string) (block string, x, y, z int, ok bool) {
	parts := strings.SplitN(id, "@", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, 0, 0, false
	}
	block = parts[0]
	coord := strings.Split(parts[1], ",")
	if len(coord) != 3 {
		return "", 0, 0, 0, false
	}
	x, err1 := strconv.Atoi(coord[0])
	y, err2 := strconv.Atoi(coord[1])
	z, err3 := strconv.Atoi(coord[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", 0, 0, 0, false
	}
	return block, x, y, z, true
}

const clientPrefix = "C"

func ClientID(n uint64) string {
	return clientPrefix + strconv.FormatUint(n, 10)
}

// ParseClientID returns the sequence number of an id minted by ClientID.
func ParseClientID(id string) (uint64, bool) {
	digits, ok := strings.CutPrefix(id, clientPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	return n, err == nil
}
