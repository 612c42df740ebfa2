package arm

import (
	"fmt"

	"github.com/lookbusy1344/arm-translator/ir"
)

// Translation-time specialization of the flag helpers. The IR optimizer
// hands over calls to known helpers with their argument expressions; when
// the condition selector is a foldable constant the call collapses to a
// direct comparison and the four flag bits are never formed.

// specFn rewrites one helper call. It must be pure: no side effects, no
// allocation beyond the returned expression. A nil result means no
// specialization applies.
type specFn func(args []ir.Expr) ir.Expr

// specRegistry maps helper identifiers to their specializers
var specRegistry = map[ir.Helper]specFn{
	ir.HelperCalcCondition: specCondition,
}

// SpecHelper attempts to specialize a call to the named helper. Returns an
// equivalent expression, or nil if no specialization applies.
func SpecHelper(helper ir.Helper, args []ir.Expr) ir.Expr {
	fn, ok := specRegistry[helper]
	if !ok {
		return nil
	}
	return fn(args)
}

// SpecHelperNamed is the name-dispatched entry point used by optimizers
// that identify helpers by their ABI name
func SpecHelperNamed(name string, args []ir.Expr) ir.Expr {
	h, ok := ir.HelperByName(name)
	if !ok {
		return nil
	}
	return SpecHelper(h, args)
}

// isU32 reports whether e is a 32-bit constant with value n
func isU32(e ir.Expr, n uint32) bool {
	c, ok := e.(*ir.Const)
	return ok && c.Type == ir.I32 && c.Value == uint64(n)
}

// condNOp packs a condition code and thunk operation the way translated
// code passes them to the condition helper
func condNOp(cond ConditionCode, op CCOp) uint32 {
	return uint32(cond)<<4 | uint32(op)
}

// specCondition specializes calc_condition(cond_n_op, dep1, dep2, dep3).
// Conditions straight after a compare (SUB thunk) or a flag-setting bitwise
// operation (LOGIC thunk) fold to a single comparison.
func specCondition(args []ir.Expr) ir.Expr {
	if len(args) != 4 {
		panic(fmt.Sprintf("arm: specCondition: arity %d", len(args)))
	}
	sel := args[0]
	dep1 := args[1]
	dep2 := args[2]

	cmp := func(op ir.Op, a1, a2 ir.Expr) ir.Expr {
		return ir.MkUnop(ir.Op1Uto32, ir.MkBinop(op, a1, a2))
	}

	// -------- after SUB --------
	switch {
	case isU32(sel, condNOp(CondEQ, CCOpSub)):
		// EQ after SUB --> argL == argR
		return cmp(ir.OpCmpEQ32, dep1, dep2)
	case isU32(sel, condNOp(CondNE, CCOpSub)):
		// NE after SUB --> argL != argR
		return cmp(ir.OpCmpNE32, dep1, dep2)
	case isU32(sel, condNOp(CondLE, CCOpSub)):
		// LE after SUB --> argL <=s argR
		return cmp(ir.OpCmpLE32S, dep1, dep2)
	case isU32(sel, condNOp(CondLT, CCOpSub)):
		// LT after SUB --> argL <s argR
		return cmp(ir.OpCmpLT32S, dep1, dep2)
	case isU32(sel, condNOp(CondGE, CCOpSub)):
		// GE after SUB --> argL >=s argR --> argR <=s argL
		return cmp(ir.OpCmpLE32S, dep2, dep1)
	case isU32(sel, condNOp(CondGT, CCOpSub)):
		// GT after SUB --> argL >s argR --> argR <s argL
		return cmp(ir.OpCmpLT32S, dep2, dep1)
	case isU32(sel, condNOp(CondHS, CCOpSub)):
		// HS after SUB --> argL >=u argR --> argR <=u argL
		return cmp(ir.OpCmpLE32U, dep2, dep1)
	case isU32(sel, condNOp(CondLS, CCOpSub)):
		// LS after SUB --> argL <=u argR
		return cmp(ir.OpCmpLE32U, dep1, dep2)
	}

	// -------- after LOGIC --------
	switch {
	case isU32(sel, condNOp(CondEQ, CCOpLogic)):
		// EQ after LOGIC --> result == 0
		return cmp(ir.OpCmpEQ32, dep1, ir.MkU32(0))
	case isU32(sel, condNOp(CondNE, CCOpLogic)):
		// NE after LOGIC --> result != 0
		return cmp(ir.OpCmpNE32, dep1, ir.MkU32(0))
	}

	return nil
}
