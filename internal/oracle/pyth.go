// Package oracle reads and validates legacy Pyth price accounts fetched from
// an external feed source.
package oracle

import "encoding/binary"

// Legacy Pyth price account layout. The account is a fixed binary structure;
// only the header and the aggregate price fields are read.
const (
	pythMagic            uint32 = 0xa1b2c3d4
	pythVersion2         uint32 = 2
	pythAccountTypePrice uint32 = 3

	// StatusTrading is the aggregate status required for a usable price.
	StatusTrading uint32 = 1

	offMagic       = 0
	offVersion     = 4
	offAccountType = 8
	offExpo        = 20
	offAggPrice    = 208
	offAggStatus   = 224
	offAggPubSlot  = 232

	// minAccountLen is the smallest buffer that contains every field above.
	minAccountLen = 240
)

// PythPrice is the subset of a legacy Pyth price account the engine uses.
type PythPrice struct {
	Price   int64
	Expo    int32
	Status  uint32
	PubSlot uint64
}

func readU32(data []byte, off int) (uint32, bool) {
	if off < 0 || off+4 > len(data) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[off : off+4]), true
}

func readU64(data []byte, off int) (uint64, bool) {
	if off < 0 || off+8 > len(data) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[off : off+8]), true
}

// ParsePythPriceAccount interprets data as a legacy Pyth price account. It
// returns false when the buffer is too short, a field read falls out of
// bounds, or the magic/version/type header does not identify a v2 price
// account.
func ParsePythPriceAccount(data []byte) (PythPrice, bool) {
	if len(data) < minAccountLen {
		return PythPrice{}, false
	}

	if magic, ok := readU32(data, offMagic); !ok || magic != pythMagic {
		return PythPrice{}, false
	}
	if version, ok := readU32(data, offVersion); !ok || version != pythVersion2 {
		return PythPrice{}, false
	}
	if typ, ok := readU32(data, offAccountType); !ok || typ != pythAccountTypePrice {
		return PythPrice{}, false
	}

	expo, ok := readU32(data, offExpo)
	if !ok {
		return PythPrice{}, false
	}
	price, ok := readU64(data, offAggPrice)
	if !ok {
		return PythPrice{}, false
	}
	status, ok := readU32(data, offAggStatus)
	if !ok {
		return PythPrice{}, false
	}
	pubSlot, ok := readU64(data, offAggPubSlot)
	if !ok {
		return PythPrice{}, false
	}

	return PythPrice{
		Price:   int64(price),
		Expo:    int32(expo),
		Status:  status,
		PubSlot: pubSlot,
	}, true
}
