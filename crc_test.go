package flashtable

import (
	"hash/crc32"
	"math/rand"
	"testing"
)

func Test_CRC32_Matches_Known_Vectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{name: "CheckString", data: []byte("123456789"), want: 0xCBF43926},
		{name: "Empty", data: nil, want: 0x00000000},
		{name: "SingleZeroByte", data: []byte{0x00}, want: 0xD202EF8D},
		{name: "SingleFF", data: []byte{0xFF}, want: 0xFF000000},
	}

	for _, tt := range tests {
		if got := crc32IEEE(tt.data); got != tt.want {
			t.Errorf("%s: crc32IEEE = 0x%08X, want 0x%08X", tt.name, got, tt.want)
		}
	}
}

func Test_CRC32_Matches_Stdlib_For_Random_Data(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))

	for _, n := range []int{1, 7, 64, 1024, 4096} {
		data := make([]byte, n)
		rng.Read(data)

		if got, want := crc32IEEE(data), crc32.ChecksumIEEE(data); got != want {
			t.Fatalf("len=%d: crc32IEEE = 0x%08X, hash/crc32 = 0x%08X", n, got, want)
		}
	}
}
