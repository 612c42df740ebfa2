package arm_test

import (
	"testing"

	"github.com/lookbusy1344/arm-translator/arm"
	"github.com/lookbusy1344/arm-translator/ir"
)

// evalExpr evaluates the small expression language the specializer emits:
// constants, comparisons and the 1Uto32 widening
func evalExpr(t *testing.T, e ir.Expr) uint32 {
	t.Helper()
	switch e := e.(type) {
	case *ir.Const:
		return uint32(e.Value)
	case *ir.Unop:
		if e.Op != ir.Op1Uto32 {
			t.Fatalf("unexpected unop %s", e.Op)
		}
		return evalExpr(t, e.Arg)
	case *ir.Binop:
		a := evalExpr(t, e.Arg1)
		b := evalExpr(t, e.Arg2)
		var ok bool
		switch e.Op {
		case ir.OpCmpEQ32:
			ok = a == b
		case ir.OpCmpNE32:
			ok = a != b
		case ir.OpCmpLT32S:
			ok = int32(a) < int32(b)
		case ir.OpCmpLE32S:
			ok = int32(a) <= int32(b)
		case ir.OpCmpLT32U:
			ok = a < b
		case ir.OpCmpLE32U:
			ok = a <= b
		default:
			t.Fatalf("unexpected binop %s", e.Op)
		}
		if ok {
			return 1
		}
		return 0
	}
	t.Fatalf("unexpected expression %s", e)
	return 0
}

func condArgs(cond arm.ConditionCode, op arm.CCOp, d1, d2 uint32) []ir.Expr {
	return []ir.Expr{
		ir.MkU32(uint32(cond)<<4 | uint32(op)),
		ir.MkU32(d1),
		ir.MkU32(d2),
		ir.MkU32(0),
	}
}

func TestSpecializeConditionAfterSub(t *testing.T) {
	conds := []arm.ConditionCode{
		arm.CondEQ, arm.CondNE, arm.CondLT, arm.CondLE,
		arm.CondGE, arm.CondGT, arm.CondHS, arm.CondLS,
	}
	for _, cond := range conds {
		for _, a := range sampleWords {
			for _, b := range sampleWords {
				args := condArgs(cond, arm.CCOpSub, a, b)
				repl := arm.SpecHelper(ir.HelperCalcCondition, args)
				if repl == nil {
					t.Fatalf("%s after SUB should specialize", cond)
				}
				got := evalExpr(t, repl)
				want := arm.CalcCondition(uint32(cond)<<4|uint32(arm.CCOpSub), a, b, 0)
				if got != want {
					t.Errorf("%s after SUB(%#x,%#x): specialized %d, helper %d",
						cond, a, b, got, want)
				}
			}
		}
	}
}

func TestSpecializeConditionAfterLogic(t *testing.T) {
	for _, cond := range []arm.ConditionCode{arm.CondEQ, arm.CondNE} {
		for _, res := range sampleWords {
			args := condArgs(cond, arm.CCOpLogic, res, 0)
			repl := arm.SpecHelper(ir.HelperCalcCondition, args)
			if repl == nil {
				t.Fatalf("%s after LOGIC should specialize", cond)
			}
			got := evalExpr(t, repl)
			want := arm.CalcCondition(uint32(cond)<<4|uint32(arm.CCOpLogic), res, 0, 0)
			if got != want {
				t.Errorf("%s after LOGIC(%#x): specialized %d, helper %d",
					cond, res, got, want)
			}
		}
	}
}

func TestNoSpecialization(t *testing.T) {
	// Unhandled condition after SUB
	if arm.SpecHelper(ir.HelperCalcCondition, condArgs(arm.CondMI, arm.CCOpSub, 1, 2)) != nil {
		t.Error("MI after SUB has no specialization")
	}
	// Handled condition after an unhandled operation
	if arm.SpecHelper(ir.HelperCalcCondition, condArgs(arm.CondEQ, arm.CCOpAdd, 1, 2)) != nil {
		t.Error("EQ after ADD has no specialization")
	}
	// Selector not a constant
	args := []ir.Expr{
		ir.MkGet(arm.OffCCOp, ir.I32),
		ir.MkU32(1), ir.MkU32(2), ir.MkU32(0),
	}
	if arm.SpecHelper(ir.HelperCalcCondition, args) != nil {
		t.Error("non-constant selector cannot specialize")
	}
	// Helpers with no specializer registered
	if arm.SpecHelper(ir.HelperCalcNZCV, condArgs(arm.CondEQ, arm.CCOpSub, 1, 2)) != nil {
		t.Error("calc_nzcv has no specializer")
	}
}

func TestSpecHelperNamed(t *testing.T) {
	args := condArgs(arm.CondEQ, arm.CCOpSub, 7, 7)
	repl := arm.SpecHelperNamed("calc_condition", args)
	if repl == nil {
		t.Fatal("name dispatch failed")
	}
	if evalExpr(t, repl) != 1 {
		t.Error("EQ of equal values should evaluate to 1")
	}
	if arm.SpecHelperNamed("no_such_helper", args) != nil {
		t.Error("unknown helper name should not specialize")
	}
}

func TestSpecializerIsPure(t *testing.T) {
	// Same inputs twice give structurally identical output and do not
	// disturb the argument expressions
	args := condArgs(arm.CondLE, arm.CCOpSub, 3, 9)
	r1 := arm.SpecHelper(ir.HelperCalcCondition, args)
	r2 := arm.SpecHelper(ir.HelperCalcCondition, args)
	if r1 == nil || r2 == nil {
		t.Fatal("LE after SUB should specialize")
	}
	if r1.String() != r2.String() {
		t.Error("specializer output differs across calls")
	}
	if args[0].String() != ir.MkU32(uint32(arm.CondLE)<<4|uint32(arm.CCOpSub)).String() {
		t.Error("specializer mutated its arguments")
	}
}
