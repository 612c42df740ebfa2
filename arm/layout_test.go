package arm_test

import (
	"testing"

	"github.com/lookbusy1344/arm-translator/arm"
)

func TestLayoutDescribesState(t *testing.T) {
	if arm.Layout.TotalSize != arm.StateSize {
		t.Error("layout size disagrees with state size")
	}
	if arm.Layout.OffsetSP != arm.OffR(arm.SP) || arm.Layout.SizeofSP != 4 {
		t.Error("SP description wrong")
	}
	if arm.Layout.OffsetIP != arm.OffR(arm.PC) || arm.Layout.SizeofIP != 4 {
		t.Error("IP description wrong")
	}
}

func TestLayoutAlwaysDefinedRegions(t *testing.T) {
	// The thunk operation selector and the bookkeeping scalars must be
	// treated as always defined; the three dep words must not be.
	want := map[int]bool{
		arm.OffR(arm.PC):    true,
		arm.OffCCOp:         true,
		arm.OffEmWarn:       true,
		arm.OffTIStart:      true,
		arm.OffTILen:        true,
		arm.OffNRAddr:       true,
		arm.OffIPAtSyscall:  true,
	}
	seen := make(map[int]bool)
	for _, r := range arm.Layout.AlwaysDefined {
		if r.Size != 4 {
			t.Errorf("region at %d has size %d", r.Offset, r.Size)
		}
		seen[r.Offset] = true
	}
	for off := range want {
		if !seen[off] {
			t.Errorf("offset %d missing from always-defined regions", off)
		}
	}
	for _, off := range []int{arm.OffCCDep1, arm.OffCCDep2, arm.OffCCDep3} {
		if seen[off] {
			t.Errorf("thunk dependency at %d must be tracked, not always-defined", off)
		}
	}
}

func TestRequiresPreciseMemExns(t *testing.T) {
	cases := []struct {
		min, max int
		want     bool
	}{
		{arm.OffR(arm.SP), arm.OffR(arm.SP) + 3, true},  // exactly SP
		{arm.OffR(arm.PC), arm.OffR(arm.PC) + 3, true},  // exactly PC
		{arm.OffR(arm.FP), arm.OffR(arm.FP) + 3, true},  // frame pointer
		{arm.OffR(0), arm.OffR(0) + 3, false},           // R0
		{arm.OffR(12), arm.OffR(12) + 3, false},         // R12 between FP and SP
		{arm.OffCCOp, arm.OffCCDep3 + 3, false},         // the thunk
		{0, arm.StateSize - 1, true},                    // whole state overlaps all three
		{arm.OffR(arm.SP) + 1, arm.OffR(arm.SP) + 1, true}, // single byte inside SP
		{arm.OffR(arm.LR), arm.OffR(arm.LR) + 3, false},
	}
	for _, c := range cases {
		if got := arm.RequiresPreciseMemExns(c.min, c.max); got != c.want {
			t.Errorf("RequiresPreciseMemExns(%d, %d) = %v, want %v",
				c.min, c.max, got, c.want)
		}
	}
}
