package flashtable_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/flashtable/flashtable"
	"github.com/flashtable/flashtable/internal/flashtest"
)

// mutation is one engine operation a power cut can interrupt.
type mutation struct {
	name string
	run  func(eng *flashtable.Engine) error
}

// powerLossMutations is the set of mutators exercised against every
// possible cut point.
func powerLossMutations() []mutation {
	return []mutation{
		{name: "Append", run: func(eng *flashtable.Engine) error {
			return eng.WriteTableData("TEST", mkRow(0x40, 28))
		}},
		{name: "Overwrite", run: func(eng *flashtable.Engine) error {
			return eng.WriteTableDataByIndex("TEST", 0, mkRow(0x41, 28))
		}},
		{name: "Batch", run: func(eng *flashtable.Engine) error {
			batch := append(mkRow(0x42, 28), mkRow(0x43, 28)...)
			return eng.WriteTableDataBatch("TEST", batch, 28, 2)
		}},
		{name: "Clear", run: func(eng *flashtable.Engine) error {
			return eng.ClearTableData("TEST", 0b01)
		}},
		{name: "Create", run: func(eng *flashtable.Engine) error {
			return eng.CreateTable("NEW", 8, 4)
		}},
		{name: "Delete", run: func(eng *flashtable.Engine) error {
			return eng.DeleteTable("TEST")
		}},
	}
}

// Cutting power at any byte during a mutation must leave the device in
// either the pre-mutation or the post-mutation state after reboot, never
// anything in between.
func Test_Interrupted_Mutation_Recovers_To_Pre_Or_Post_State(t *testing.T) {
	t.Parallel()

	for _, mut := range powerLossMutations() {
		t.Run(mut.name, func(t *testing.T) {
			t.Parallel()

			// Base image: one table with two rows.
			mem := flashtest.New(deviceSize)
			eng := newEngine(t, mem, true)
			require.NoError(t, eng.CreateTable("TEST", 28, 10))
			require.NoError(t, eng.WriteTableData("TEST", mkRow(1, 28)))
			require.NoError(t, eng.WriteTableData("TEST", mkRow(2, 28)))

			base := mem.Snapshot()
			preState := captureState(t, eng)

			// Reference run with unlimited power for the post state.
			require.NoError(t, mut.run(eng))
			postState := captureState(t, eng)
			mem.Restore(base)

			for cut := int64(0); ; cut++ {
				mem.Restore(base)
				mem.PowerOn()

				engRun, err := flashtable.New(mem, deviceSize, true)
				require.NoError(t, err)

				mem.CutAfter(cut)
				mutErr := mut.run(engRun)

				// Reboot: power restored, fresh engine over the same
				// flash contents.
				mem.PowerOn()
				engReboot, err := flashtable.New(mem, deviceSize, true)
				require.NoError(t, err)

				got := captureState(t, engReboot)
				preDiff := cmp.Diff(preState, got, cmpopts.EquateEmpty())
				postDiff := cmp.Diff(postState, got, cmpopts.EquateEmpty())
				if preDiff != "" && postDiff != "" {
					t.Fatalf("cut after %d bytes left an intermediate state:\nvs pre: %s\nvs post: %s",
						cut, preDiff, postDiff)
				}

				if mutErr == nil {
					// The budget outlived the whole mutation; later cut
					// points change nothing.
					require.Empty(t, postDiff, "completed mutation not visible after reboot")
					break
				}
			}
		})
	}
}
