package flashtable_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashtable/flashtable"
	"github.com/flashtable/flashtable/internal/flashtest"
)

func Test_GC_Requires_Erase_To_Be_Allowed(t *testing.T) {
	t.Parallel()

	eng := newEngine(t, flashtest.New(deviceSize), false)

	assert.ErrorIs(t, eng.GC(), flashtable.ErrEraseForbidden)

	eng.SetEraseAllowed(true)
	assert.NoError(t, eng.GC())
}

func Test_GC_Preserves_Every_Row_Of_Every_Live_Table(t *testing.T) {
	t.Parallel()

	mem := flashtest.New(deviceSize)
	eng := newEngine(t, mem, true)

	// Heavy mutation of two tables leaves a long trail of abandoned
	// copies and manager versions behind.
	require.NoError(t, eng.CreateTable("ALPHA", 16, 64))
	require.NoError(t, eng.CreateTable("BETA", 32, 32))
	for i := byte(0); i < 20; i++ {
		require.NoError(t, eng.WriteTableData("ALPHA", mkRow(i, 16)))
		require.NoError(t, eng.WriteTableData("BETA", mkRow(i, 32)))
	}
	require.NoError(t, eng.WriteTableDataByIndex("ALPHA", 3, mkRow(0xAA, 16)))
	require.NoError(t, eng.ClearTableData("BETA", 0b1011))

	before := captureState(t, eng)
	usedBefore := eng.GetUsedSize()

	require.NoError(t, eng.GC())

	diff := cmp.Diff(before, captureState(t, eng), cmpopts.EquateEmpty())
	assert.Empty(t, diff, "GC changed observable table state")
	assert.LessOrEqual(t, eng.GetUsedSize(), usedBefore)
}

func Test_GC_Is_Idempotent_On_A_Quiesced_Store(t *testing.T) {
	t.Parallel()

	eng := newEngine(t, flashtest.New(deviceSize), true)

	require.NoError(t, eng.CreateTable("KEEP", 8, 16))
	for i := byte(0); i < 10; i++ {
		require.NoError(t, eng.WriteTableData("KEEP", mkRow(i, 8)))
	}
	require.NoError(t, eng.DeleteTable("KEEP"))
	require.NoError(t, eng.CreateTable("KEEP2", 8, 16))
	require.NoError(t, eng.WriteTableData("KEEP2", mkRow(1, 8)))

	require.NoError(t, eng.GC())
	afterFirst := captureState(t, eng)
	usedFirst := eng.GetUsedSize()

	require.NoError(t, eng.GC())

	diff := cmp.Diff(afterFirst, captureState(t, eng), cmpopts.EquateEmpty())
	assert.Empty(t, diff)
	assert.Equal(t, usedFirst, eng.GetUsedSize())
}

func Test_GC_Reclaims_Space_For_New_Allocations(t *testing.T) {
	t.Parallel()

	// A small device that mutation traffic can actually exhaust.
	const small = 8 * flashtable.Sector

	mem := flashtest.New(small)
	eng, err := flashtable.New(mem, small, true)
	require.NoError(t, err)

	require.NoError(t, eng.CreateTable("CHURN", 256, 8))

	// Append until the allocator runs out of fresh space.
	var sawNoSpace bool
	for i := 0; i < 200; i++ {
		err := eng.WriteTableData("CHURN", mkRow(byte(i), 256))
		if err != nil {
			require.ErrorIs(t, err, flashtable.ErrNoSpace)
			sawNoSpace = true
			break
		}
	}
	require.True(t, sawNoSpace, "device never filled; test is not exercising GC")

	before := captureState(t, eng)

	require.NoError(t, eng.GC())

	diff := cmp.Diff(before, captureState(t, eng), cmpopts.EquateEmpty())
	require.Empty(t, diff, "GC changed observable table state")

	// The compacted device accepts writes again.
	require.NoError(t, eng.WriteTableData("CHURN", mkRow(0xEE, 256)))
}

func Test_Engine_Remains_Consistent_After_GC_And_Reboot(t *testing.T) {
	t.Parallel()

	mem := flashtest.New(deviceSize)
	eng := newEngine(t, mem, true)

	require.NoError(t, eng.CreateTable("PERSIST", 16, 32))
	for i := byte(0); i < 12; i++ {
		require.NoError(t, eng.WriteTableData("PERSIST", mkRow(i, 16)))
	}
	require.NoError(t, eng.GC())
	require.NoError(t, eng.WriteTableData("PERSIST", mkRow(0x55, 16)))

	before := captureState(t, eng)

	eng2 := newEngine(t, mem, true)
	diff := cmp.Diff(before, captureState(t, eng2), cmpopts.EquateEmpty())
	assert.Empty(t, diff, "post-GC state did not survive reboot")
}
