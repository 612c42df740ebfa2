package ir_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookbusy1344/arm-translator/ir"
)

func TestTypeEnvAllocation(t *testing.T) {
	env := ir.NewTypeEnv()
	t0 := env.NewTemp(ir.I32)
	t1 := env.NewTemp(ir.I64)
	t2 := env.NewTemp(ir.I1)

	assert.Equal(t, ir.Temp(0), t0)
	assert.Equal(t, ir.Temp(1), t1)
	assert.Equal(t, ir.Temp(2), t2)
	assert.Equal(t, 3, env.Count())
	assert.Equal(t, ir.I32, env.TypeOf(t0))
	assert.Equal(t, ir.I64, env.TypeOf(t1))

	assert.Panics(t, func() { env.TypeOf(ir.Temp(3)) })
	assert.Panics(t, func() { env.TypeOf(ir.InvalidTemp) })
}

func TestSuperBlockAppend(t *testing.T) {
	sb := ir.NewSuperBlock()
	require.Empty(t, sb.Stmts)
	require.Nil(t, sb.Next)

	tmp := sb.NewTemp(ir.I32)
	sb.AddStmt(&ir.WrTmp{Tmp: tmp, Data: ir.MkU32(7)})
	sb.AddStmt(&ir.Put{Offset: 0, Data: ir.MkRdTmp(tmp)})
	sb.Next = ir.MkU32(0x8000)
	sb.JumpKind = ir.JkBoring

	require.Len(t, sb.Stmts, 2)
	assert.Equal(t, 1, sb.TyEnv.Count())
	assert.Panics(t, func() { sb.AddStmt(nil) })
}

func TestIMarkLengthPatching(t *testing.T) {
	// The block decoder appends marks with zero length and patches them
	// in place once the instruction's size is known
	sb := ir.NewSuperBlock()
	sb.AddStmt(&ir.IMark{Addr: 0x8000, Len: 0})

	mark := sb.Stmts[0].(*ir.IMark)
	assert.Zero(t, mark.Len)
	mark.Len = 4
	assert.Equal(t, uint32(4), sb.Stmts[0].(*ir.IMark).Len)
}

func TestWordConst(t *testing.T) {
	c32 := ir.MkWordConst(ir.I32, 0xFFFF_FFFF_0000_8000)
	assert.Equal(t, ir.I32, c32.Type)
	assert.Equal(t, uint64(0x8000), c32.Value, "I32 word constant truncates")

	c64 := ir.MkWordConst(ir.I64, 0x1_0000_8000)
	assert.Equal(t, ir.I64, c64.Type)
	assert.Equal(t, uint64(0x1_0000_8000), c64.Value)

	assert.Panics(t, func() { ir.MkWordConst(ir.I8, 1) })
}

func TestHelperNames(t *testing.T) {
	h, ok := ir.HelperByName("calc_condition")
	require.True(t, ok)
	assert.Equal(t, ir.HelperCalcCondition, h)

	_, ok = ir.HelperByName("bogus")
	assert.False(t, ok)

	assert.Equal(t, "calc_nzcv", ir.HelperCalcNZCV.String())
	assert.Equal(t, "compute_checksum", ir.HelperChecksum.String())
}

func TestPrinterOutput(t *testing.T) {
	sb := ir.NewSuperBlock()
	tmp := sb.NewTemp(ir.I32)
	sb.AddStmt(&ir.IMark{Addr: 0x8000, Len: 4})
	sb.AddStmt(&ir.WrTmp{
		Tmp:  tmp,
		Data: ir.MkBinop(ir.OpAdd32, ir.MkGet(0, ir.I32), ir.MkU32(1)),
	})
	sb.AddStmt(&ir.Exit{
		Guard:    ir.MkUnop(ir.Op32to1, ir.MkRdTmp(tmp)),
		JumpKind: ir.JkBoring,
		Dest:     ir.MkU32(0x8004),
	})
	sb.Next = ir.MkU32(0x8008)
	sb.JumpKind = ir.JkBoring

	out := sb.String()
	for _, want := range []string{
		"IMark(0x8000, 4)",
		"t0 = Add32(GET:I32(0),0x1:I32)",
		"if (32to1(t0)) goto {Boring} 0x8004:I32",
		"goto {Boring} 0x8008:I32",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("printer output missing %q:\n%s", want, out)
		}
	}
}

func TestPutIPrinting(t *testing.T) {
	s := &ir.PutI{
		Base:     100,
		ElemType: ir.I64,
		NElems:   16,
		Ix:       ir.MkRdTmp(ir.Temp(2)),
		Bias:     1,
		Data:     ir.MkU64(7),
	}
	assert.Contains(t, s.String(), "PUTI(100:16xI64)")
	assert.Contains(t, s.String(), "t2")
}

func TestCCallPrinting(t *testing.T) {
	call := ir.MkCCall(ir.I32, ir.HelperCalcCondition,
		ir.MkU32(0x20), ir.MkU32(5), ir.MkU32(5), ir.MkU32(0))
	s := call.String()
	assert.Contains(t, s, "calc_condition")
	assert.Contains(t, s, "0x20:I32")
}
