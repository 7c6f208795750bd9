package oracle

import (
	"encoding/binary"
	"testing"
)

// buildPriceAccount assembles a minimal valid legacy price account buffer.
func buildPriceAccount(price int64, expo int32, status uint32, pubSlot uint64) []byte {
	data := make([]byte, minAccountLen)
	binary.LittleEndian.PutUint32(data[offMagic:], pythMagic)
	binary.LittleEndian.PutUint32(data[offVersion:], pythVersion2)
	binary.LittleEndian.PutUint32(data[offAccountType:], pythAccountTypePrice)
	binary.LittleEndian.PutUint32(data[offExpo:], uint32(expo))
	binary.LittleEndian.PutUint64(data[offAggPrice:], uint64(price))
	binary.LittleEndian.PutUint32(data[offAggStatus:], status)
	binary.LittleEndian.PutUint64(data[offAggPubSlot:], pubSlot)
	return data
}

func TestParsePythPriceAccount(t *testing.T) {
	valid := buildPriceAccount(50_123, -8, StatusTrading, 1000)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		wantOK bool
	}{
		{name: "valid account", mutate: func(d []byte) []byte { return d }, wantOK: true},
		{name: "too short", mutate: func(d []byte) []byte { return d[:minAccountLen-1] }, wantOK: false},
		{name: "empty buffer", mutate: func(d []byte) []byte { return nil }, wantOK: false},
		{name: "wrong magic", mutate: func(d []byte) []byte {
			binary.LittleEndian.PutUint32(d[offMagic:], 0xdeadbeef)
			return d
		}, wantOK: false},
		{name: "wrong version", mutate: func(d []byte) []byte {
			binary.LittleEndian.PutUint32(d[offVersion:], 1)
			return d
		}, wantOK: false},
		{name: "wrong account type", mutate: func(d []byte) []byte {
			binary.LittleEndian.PutUint32(d[offAccountType:], 2)
			return d
		}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), valid...))
			got, ok := ParsePythPriceAccount(data)
			if ok != tt.wantOK {
				t.Fatalf("ParsePythPriceAccount() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Price != 50_123 {
				t.Errorf("price = %d, want 50123", got.Price)
			}
			if got.Expo != -8 {
				t.Errorf("expo = %d, want -8", got.Expo)
			}
			if got.Status != StatusTrading {
				t.Errorf("status = %d, want %d", got.Status, StatusTrading)
			}
			if got.PubSlot != 1000 {
				t.Errorf("pub slot = %d, want 1000", got.PubSlot)
			}
		})
	}
}

func TestParsePythPriceAccountNegativePrice(t *testing.T) {
	data := buildPriceAccount(-42, -8, StatusTrading, 1000)
	got, ok := ParsePythPriceAccount(data)
	if !ok {
		t.Fatal("ParsePythPriceAccount() failed on valid buffer")
	}
	if got.Price != -42 {
		t.Errorf("price = %d, want -42", got.Price)
	}
}

func TestParsePythPriceAccountKeepsNonTradingStatus(t *testing.T) {
	// The parser reports the status; rejecting non-trading accounts is the
	// reader's job.
	data := buildPriceAccount(50_123, -8, 0, 1000)
	got, ok := ParsePythPriceAccount(data)
	if !ok {
		t.Fatal("ParsePythPriceAccount() failed on valid buffer")
	}
	if got.Status != 0 {
		t.Errorf("status = %d, want 0", got.Status)
	}
}
