package flashtable

import (
	"errors"
	"testing"

	"github.com/flashtable/flashtable/internal/flashtest"
)

func Test_Allocate_Rejects_Zero_And_OverSector_Sizes(t *testing.T) {
	t.Parallel()

	a := newAllocator(flashtest.New(64*1024), 64*1024, true, 0)

	if _, err := a.allocate(0); !errors.Is(err, ErrInvalidArg) {
		t.Errorf("size 0: err = %v, want ErrInvalidArg", err)
	}
	if _, err := a.allocate(Sector + 1); !errors.Is(err, ErrInvalidArg) {
		t.Errorf("size Sector+1: err = %v, want ErrInvalidArg", err)
	}
}

func Test_Allocate_Hands_Out_Contiguous_Ranges_Within_A_Sector(t *testing.T) {
	t.Parallel()

	a := newAllocator(flashtest.New(64*1024), 64*1024, true, 100)

	addr1, err := a.allocate(50)
	if err != nil {
		t.Fatal(err)
	}
	addr2, err := a.allocate(70)
	if err != nil {
		t.Fatal(err)
	}

	if addr1 != 100 || addr2 != 150 {
		t.Errorf("got addrs %d, %d; want 100, 150", addr1, addr2)
	}
	if a.cursor() != 220 {
		t.Errorf("cursor = %d, want 220", a.cursor())
	}
}

func Test_Allocate_Advances_To_Next_Sector_When_Request_Would_Cross(t *testing.T) {
	t.Parallel()

	mem := flashtest.New(64 * 1024)
	a := newAllocator(mem, 64*1024, true, 4000)

	addr, err := a.allocate(200)
	if err != nil {
		t.Fatal(err)
	}

	if addr != Sector {
		t.Errorf("addr = %d, want %d (next sector boundary)", addr, Sector)
	}
	if mem.Erases != 1 {
		t.Errorf("Erases = %d, want 1 (fresh sector erased on entry)", mem.Erases)
	}
}

func Test_Allocate_Erases_Fresh_Sector_Only_When_Allowed(t *testing.T) {
	t.Parallel()

	// A zeroed device makes the erase observable: the entered sector
	// reads back 0xFF only if the allocator erased it.
	mem := flashtest.NewZeroed(64 * 1024)
	a := newAllocator(mem, 64*1024, true, 4000)

	if _, err := a.allocate(200); err != nil {
		t.Fatal(err)
	}
	if mem.Bytes()[Sector] != 0xFF {
		t.Error("entered sector was not erased")
	}

	mem2 := flashtest.NewZeroed(64 * 1024)
	a2 := newAllocator(mem2, 64*1024, false, 4000)

	if _, err := a2.allocate(200); err != nil {
		t.Fatal(err)
	}
	if mem2.Erases != 0 {
		t.Errorf("Erases = %d with erase disallowed, want 0", mem2.Erases)
	}
}

func Test_Allocate_Fails_With_NoSpace_Past_End_Of_Device(t *testing.T) {
	t.Parallel()

	total := uint32(2 * Sector)
	a := newAllocator(flashtest.New(int(total)), total, true, 2*Sector-100)

	// 100 bytes still fit exactly.
	if _, err := a.allocate(100); err != nil {
		t.Fatalf("tail allocation failed: %v", err)
	}

	if _, err := a.allocate(1); !errors.Is(err, ErrNoSpace) {
		t.Errorf("past end: err = %v, want ErrNoSpace", err)
	}
}

func Test_ChunkedProgrammer_Splits_Large_Writes_Into_Chunk_Pieces(t *testing.T) {
	t.Parallel()

	mem := flashtest.New(64 * 1024)
	prog := NewChunkedProgrammer(mem)

	buf := make([]byte, 3000)
	for i := range buf {
		buf[i] = byte(i)
	}

	if err := prog.Program(100, buf); err != nil {
		t.Fatal(err)
	}

	// 3000 bytes at Chunk=1024 means 1024+1024+952.
	if mem.Programs != 3 {
		t.Errorf("Programs = %d, want 3", mem.Programs)
	}

	got := make([]byte, 3000)
	if err := mem.Read(100, got); err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = 0x%02X, want 0x%02X", i, got[i], byte(i))
		}
	}
}

func Test_ChunkedProgrammer_Aborts_On_Driver_Failure(t *testing.T) {
	t.Parallel()

	mem := flashtest.New(64 * 1024)
	mem.CutAfter(1500)
	prog := NewChunkedProgrammer(mem)

	err := prog.Program(0, make([]byte, 3000))
	if !errors.Is(err, ErrDriver) {
		t.Fatalf("err = %v, want ErrDriver", err)
	}

	// The first full chunk landed, the second was cut short, the third
	// was never issued.
	if mem.Programs != 2 {
		t.Errorf("Programs = %d, want 2", mem.Programs)
	}
}
