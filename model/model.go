// Package model provides a deliberately simple, in-memory state model of
// the engine's publicly observable behavior.
//
// The model is intentionally easy to audit: it favors clarity over
// performance and knows nothing about sectors, relocation, manager-table
// versions, or CRCs. Property tests apply the same operation sequence to a
// real engine and to a Device and diff the observable state after every
// step.
package model

import (
	"slices"

	"github.com/flashtable/flashtable"
)

// TableState is the observable state of one named table.
type TableState struct {
	Name       string
	StructSize uint32
	MaxStructs uint32
	Rows       [][]byte
}

// slot mirrors the engine's fixed slot array, including the rule that a
// deleted slot stays occupied (unavailable for create) until a GC runs.
type slot struct {
	table   *TableState
	deleted bool
}

// Device is the reference model of a whole engine instance.
type Device struct {
	slots [flashtable.MaxTables]slot
}

// NewDevice returns an empty model, equivalent to an engine over a
// freshly formatted device.
func NewDevice() *Device {
	return &Device{}
}

// Clone makes a deep copy so crash-recovery tests can fork the exact
// same state.
func (d *Device) Clone() *Device {
	out := &Device{}
	for i := range d.slots {
		s := d.slots[i]
		if s.table != nil {
			t := *s.table
			t.Rows = make([][]byte, len(s.table.Rows))
			for j, r := range s.table.Rows {
				t.Rows[j] = slices.Clone(r)
			}
			s.table = &t
		}
		out.slots[i] = s
	}
	return out
}

func (d *Device) find(name string) *TableState {
	for i := range d.slots {
		s := &d.slots[i]
		if s.table != nil && !s.deleted && s.table.Name == name {
			return s.table
		}
	}
	return nil
}

func validName(name string) bool {
	return name != "" && len(name) <= flashtable.NameMax
}

// Create mirrors Engine.CreateTable.
func (d *Device) Create(name string, structSize, maxStructs uint32) error {
	if !validName(name) || structSize == 0 || maxStructs == 0 {
		return flashtable.ErrInvalidArg
	}
	if uint64(structSize)+flashtable.TableHeaderSize > flashtable.Sector {
		return flashtable.ErrInvalidArg
	}
	if d.find(name) != nil {
		return flashtable.ErrExists
	}

	for i := range d.slots {
		if d.slots[i].table == nil {
			d.slots[i] = slot{table: &TableState{
				Name:       name,
				StructSize: structSize,
				MaxStructs: maxStructs,
			}}
			return nil
		}
	}

	return flashtable.ErrNoSlot
}

// Delete mirrors Engine.DeleteTable. The slot stays occupied until GC.
func (d *Device) Delete(name string) error {
	for i := range d.slots {
		s := &d.slots[i]
		if s.table != nil && !s.deleted && s.table.Name == name {
			s.deleted = true
			return nil
		}
	}
	return flashtable.ErrNotFound
}

// Append mirrors Engine.WriteTableData: no capacity check.
func (d *Device) Append(name string, row []byte) error {
	t := d.find(name)
	if t == nil {
		return flashtable.ErrNotFound
	}
	if uint32(len(row)) != t.StructSize {
		return flashtable.ErrInvalidArg
	}

	t.Rows = append(t.Rows, slices.Clone(row))

	return nil
}

// AppendChecked mirrors Engine.AppendTableData: fails once the declared
// capacity is reached.
func (d *Device) AppendChecked(name string, row []byte) error {
	t := d.find(name)
	if t == nil {
		return flashtable.ErrNotFound
	}
	if uint32(len(row)) != t.StructSize {
		return flashtable.ErrInvalidArg
	}
	if uint32(len(t.Rows)) >= t.MaxStructs {
		return flashtable.ErrFull
	}

	t.Rows = append(t.Rows, slices.Clone(row))

	return nil
}

// Overwrite mirrors Engine.WriteTableDataByIndex.
func (d *Device) Overwrite(name string, index uint32, row []byte) error {
	t := d.find(name)
	if t == nil {
		return flashtable.ErrNotFound
	}
	if index >= uint32(len(t.Rows)) {
		return flashtable.ErrOutOfRange
	}
	if uint32(len(row)) != t.StructSize {
		return flashtable.ErrInvalidArg
	}

	t.Rows[index] = slices.Clone(row)

	return nil
}

// BatchAppend mirrors Engine.WriteTableDataBatch.
func (d *Device) BatchAppend(name string, data []byte, structSize, count uint32) error {
	if count == 0 {
		return flashtable.ErrInvalidArg
	}

	t := d.find(name)
	if t == nil {
		return flashtable.ErrNotFound
	}
	if structSize != t.StructSize {
		return flashtable.ErrInvalidArg
	}
	if uint64(len(data)) != uint64(structSize)*uint64(count) {
		return flashtable.ErrInvalidArg
	}
	if uint64(len(t.Rows))+uint64(count) > uint64(t.MaxStructs) {
		return flashtable.ErrFull
	}

	for i := uint32(0); i < count; i++ {
		t.Rows = append(t.Rows, slices.Clone(data[i*structSize:(i+1)*structSize]))
	}

	return nil
}

// Clear mirrors Engine.ClearTableData: drop every row whose mask bit is
// set, keeping the rest in order.
func (d *Device) Clear(name string, mask uint64) error {
	t := d.find(name)
	if t == nil {
		return flashtable.ErrNotFound
	}

	limit := uint32(len(t.Rows))
	if limit > 64 {
		limit = 64
	}
	if limit < 64 && mask>>limit != 0 {
		return flashtable.ErrOutOfRange
	}
	if mask == 0 {
		return nil
	}

	kept := make([][]byte, 0, len(t.Rows))
	for i, r := range t.Rows {
		if uint32(i) < 64 && mask&(1<<uint(i)) != 0 {
			continue
		}
		kept = append(kept, r)
	}
	t.Rows = kept

	return nil
}

// Read mirrors Engine.ReadTableData.
func (d *Device) Read(name string, index uint32) ([]byte, error) {
	t := d.find(name)
	if t == nil {
		return nil, flashtable.ErrNotFound
	}
	if index >= uint32(len(t.Rows)) {
		return nil, flashtable.ErrNotFound
	}
	return slices.Clone(t.Rows[index]), nil
}

// Count mirrors Engine.GetTableCount.
func (d *Device) Count(name string) (uint32, error) {
	t := d.find(name)
	if t == nil {
		return 0, flashtable.ErrNotFound
	}
	return uint32(len(t.Rows)), nil
}

// Exists mirrors Engine.TableExists.
func (d *Device) Exists(name string) bool {
	return d.find(name) != nil
}

// List mirrors Engine.ListTables: live names in slot order.
func (d *Device) List() []string {
	names := make([]string, 0, len(d.slots))
	for i := range d.slots {
		s := &d.slots[i]
		if s.table != nil && !s.deleted {
			names = append(names, s.table.Name)
		}
	}
	return names
}

// GC mirrors the observable effect of a compacting Engine.GC: deleted
// slots become free again. Row data of live tables is untouched.
func (d *Device) GC() {
	for i := range d.slots {
		if d.slots[i].deleted {
			d.slots[i] = slot{}
		}
	}
}

// Snapshot returns the observable state of every live table, in slot
// order, for diffing against a real engine.
func (d *Device) Snapshot() []TableState {
	out := make([]TableState, 0, len(d.slots))
	for i := range d.slots {
		s := &d.slots[i]
		if s.table == nil || s.deleted {
			continue
		}
		t := *s.table
		t.Rows = make([][]byte, len(s.table.Rows))
		for j, r := range s.table.Rows {
			t.Rows[j] = slices.Clone(r)
		}
		out = append(out, t)
	}
	return out
}
