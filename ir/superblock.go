package ir

import (
	"fmt"
	"strings"
)

// SuperBlock is one translated IR block: an ordered statement list ending
// with a next-address expression and a jump kind. Statements are appended
// during decoding; the block is consumed whole by the back end.
type SuperBlock struct {
	TyEnv    *TypeEnv
	Stmts    []Stmt
	Next     Expr     // nil until the block is terminated
	JumpKind JumpKind // meaningful once Next is set
}

// NewSuperBlock creates an empty super-block with a fresh type environment
func NewSuperBlock() *SuperBlock {
	return &SuperBlock{
		TyEnv: NewTypeEnv(),
		Stmts: make([]Stmt, 0, 32),
	}
}

// AddStmt appends a statement to the block
func (sb *SuperBlock) AddStmt(s Stmt) {
	if s == nil {
		panic("ir: AddStmt: nil statement")
	}
	sb.Stmts = append(sb.Stmts, s)
}

// NewTemp allocates a fresh temporary in the block's type environment
func (sb *SuperBlock) NewTemp(t Type) Temp {
	return sb.TyEnv.NewTemp(t)
}

// String renders the whole block, one statement per line, followed by the
// block's terminating jump
func (sb *SuperBlock) String() string {
	var b strings.Builder
	for _, s := range sb.Stmts {
		fmt.Fprintf(&b, "   %s\n", s)
	}
	if sb.Next != nil {
		fmt.Fprintf(&b, "   goto {%s} %s\n", sb.JumpKind, sb.Next)
	}
	return b.String()
}
