package main

import (
	"fmt"
	"os"

	"github.com/flashtable/flashtable"
)

// imageDriver backs the engine with an ordinary file, one byte per flash
// byte. It enforces the same NOR discipline a real part would: Program
// refuses to raise bits, Erase works on whole sectors. A missing file is
// created fully erased (all 0xFF) at first Init.
type imageDriver struct {
	path string
	size uint32
	f    *os.File
}

func newImageDriver(path string, size uint32) *imageDriver {
	return &imageDriver{path: path, size: size}
}

func (d *imageDriver) Init() error {
	if d.f != nil {
		return nil
	}

	f, err := os.OpenFile(d.path, os.O_RDWR, 0o600)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return err
		}

		blank := make([]byte, d.size)
		for i := range blank {
			blank[i] = 0xFF
		}
		if _, err := f.WriteAt(blank, 0); err != nil {
			f.Close()
			return err
		}
	} else if err != nil {
		return err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if st.Size() < int64(d.size) {
		f.Close()
		return fmt.Errorf("image %s is %d bytes, need %d", d.path, st.Size(), d.size)
	}

	d.f = f

	return nil
}

func (d *imageDriver) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func (d *imageDriver) Read(addr uint32, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(addr))
	return err
}

func (d *imageDriver) Program(addr uint32, buf []byte) error {
	old := make([]byte, len(buf))
	if _, err := d.f.ReadAt(old, int64(addr)); err != nil {
		return err
	}

	for i, b := range buf {
		if old[i]&b != b {
			return fmt.Errorf("program at 0x%x would set bits (have 0x%02x, want 0x%02x)",
				addr+uint32(i), old[i], b)
		}
	}

	_, err := d.f.WriteAt(buf, int64(addr))
	return err
}

func (d *imageDriver) Erase(addr uint32, size uint32) error {
	if addr%flashtable.Sector != 0 || size%flashtable.Sector != 0 {
		return fmt.Errorf("erase [0x%x, +%d) not sector-aligned", addr, size)
	}

	blank := make([]byte, size)
	for i := range blank {
		blank[i] = 0xFF
	}

	_, err := d.f.WriteAt(blank, int64(addr))
	return err
}
