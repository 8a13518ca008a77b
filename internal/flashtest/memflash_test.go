package flashtest

import (
	"errors"
	"testing"
)

func Test_Program_Only_Clears_Bits(t *testing.T) {
	t.Parallel()

	m := New(Sector)

	if err := m.Program(0, []byte{0xF0}); err != nil {
		t.Fatal(err)
	}
	// Clearing more bits is fine.
	if err := m.Program(0, []byte{0x80}); err != nil {
		t.Fatal(err)
	}
	// Raising a cleared bit is not.
	if err := m.Program(0, []byte{0xF0}); err == nil {
		t.Fatal("program that raises bits succeeded")
	}

	if err := m.Erase(0, Sector); err != nil {
		t.Fatal(err)
	}
	if m.Bytes()[0] != 0xFF {
		t.Fatalf("byte after erase = 0x%02X, want 0xFF", m.Bytes()[0])
	}
}

func Test_Erase_Rejects_Unaligned_Ranges(t *testing.T) {
	t.Parallel()

	m := New(2 * Sector)

	if err := m.Erase(1, Sector); err == nil {
		t.Error("unaligned addr accepted")
	}
	if err := m.Erase(0, Sector-1); err == nil {
		t.Error("unaligned size accepted")
	}
	if err := m.Erase(Sector, 2*Sector); err == nil {
		t.Error("out-of-range erase accepted")
	}
}

func Test_CutAfter_Stops_Writes_Mid_Program(t *testing.T) {
	t.Parallel()

	m := New(Sector)
	m.CutAfter(3)

	err := m.Program(0, []byte{1, 2, 3, 4, 5})
	if !errors.Is(err, ErrPowerCut) {
		t.Fatalf("err = %v, want ErrPowerCut", err)
	}

	// The first three bytes landed, the rest stayed erased.
	want := []byte{1, 2, 3, 0xFF, 0xFF}
	for i, b := range want {
		if m.Bytes()[i] != b {
			t.Errorf("byte %d = 0x%02X, want 0x%02X", i, m.Bytes()[i], b)
		}
	}

	m.PowerOn()
	if err := m.Program(3, []byte{4, 5}); err != nil {
		t.Fatal(err)
	}
}
