package flashtable_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/flashtable/flashtable"
	"github.com/flashtable/flashtable/internal/flashtest"
	"github.com/flashtable/flashtable/model"
)

// sameOutcome compares the outcomes of the same operation applied to the
// real engine and to the reference model; both sides must agree.
func sameOutcome(engErr, modErr error) bool {
	if (engErr == nil) != (modErr == nil) {
		return false
	}
	if engErr == nil {
		return true
	}

	for _, sentinel := range []error{
		flashtable.ErrInvalidArg,
		flashtable.ErrNotFound,
		flashtable.ErrExists,
		flashtable.ErrNoSlot,
		flashtable.ErrFull,
		flashtable.ErrOutOfRange,
	} {
		if errors.Is(engErr, sentinel) != errors.Is(modErr, sentinel) {
			return false
		}
	}

	return true
}

// Test_Random_Operation_Sequences_Match_Reference_Model applies a long
// generated sequence of mutations to a real engine and to the in-memory
// model, diffing the observable state after every step.
func Test_Random_Operation_Sequences_Match_Reference_Model(t *testing.T) {
	t.Parallel()

	seeds := []int64{1, 7, 42, 1337}
	for _, seed := range seeds {
		t.Run(fmt.Sprintf("Seed%d", seed), func(t *testing.T) {
			t.Parallel()

			rng := rand.New(rand.NewSource(seed))

			mem := flashtest.New(deviceSize)
			eng := newEngine(t, mem, true)
			ref := model.NewDevice()

			names := []string{"AAA", "BBB", "CCC", "DDD"}
			structSizes := map[string]uint32{"AAA": 8, "BBB": 16, "CCC": 28, "DDD": 8}

			row := func(name string) []byte {
				r := make([]byte, structSizes[name])
				rng.Read(r)
				return r
			}

			for step := 0; step < 300; step++ {
				name := names[rng.Intn(len(names))]
				checkpoint := ref.Clone()

				var engErr, modErr error
				switch op := rng.Intn(8); op {
				case 0:
					maxStructs := uint32(1 + rng.Intn(20))
					engErr = eng.CreateTable(name, structSizes[name], maxStructs)
					modErr = ref.Create(name, structSizes[name], maxStructs)
				case 1:
					engErr = eng.DeleteTable(name)
					modErr = ref.Delete(name)
				case 2:
					r := row(name)
					engErr = eng.WriteTableData(name, r)
					modErr = ref.Append(name, r)
				case 3:
					r := row(name)
					engErr = eng.AppendTableData(name, r)
					modErr = ref.AppendChecked(name, r)
				case 4:
					index := uint32(rng.Intn(12))
					r := row(name)
					engErr = eng.WriteTableDataByIndex(name, index, r)
					modErr = ref.Overwrite(name, index, r)
				case 5:
					count := uint32(1 + rng.Intn(4))
					batch := make([]byte, structSizes[name]*count)
					rng.Read(batch)
					engErr = eng.WriteTableDataBatch(name, batch, structSizes[name], count)
					modErr = ref.BatchAppend(name, batch, structSizes[name], count)
				case 6:
					mask := rng.Uint64() & ((1 << 6) - 1)
					engErr = eng.ClearTableData(name, mask)
					modErr = ref.Clear(name, mask)
				case 7:
					if engErr = eng.GC(); engErr == nil {
						ref.GC()
					}
					modErr = engErr
				}

				// The engine may hit NoSpace where the model (which has
				// no geometry) cannot. Roll the model back to agree,
				// compact, and move on.
				if errors.Is(engErr, flashtable.ErrNoSpace) {
					ref = checkpoint
					require.NoError(t, eng.GC(), "step %d: GC after NoSpace", step)
					continue
				}

				require.True(t, sameOutcome(engErr, modErr),
					"step %d: engine err %v, model err %v", step, engErr, modErr)

				diff := cmp.Diff(ref.Snapshot(), captureState(t, eng), cmpopts.EquateEmpty())
				require.Empty(t, diff, "step %d: state diverged", step)
			}
		})
	}
}
