package translate

import (
	"fmt"
	"io"

	"github.com/lookbusy1344/arm-translator/ir"
)

// MaxExtents is the number of disjoint guest byte ranges one translation
// may draw instructions from
const MaxExtents = 3

// maxExtentLen bounds a single extent. With at most 99 instructions of at
// most 20 bytes each, a real extent never gets near this; crossing it means
// the decode loop has gone wrong.
const maxExtentLen = 5000

// maxInstrLen is the largest byte length one decoded instruction may report
const maxInstrLen = 20

// GuestExtents records the exact guest byte ranges whose decoding
// contributed to a translation. The cache invalidator and the self-check
// preamble both consume it.
type GuestExtents struct {
	NUsed int
	Base  [MaxExtents]uint64
	Len   [MaxExtents]uint16
}

// TotalLen returns the summed length of all used extents
func (vge *GuestExtents) TotalLen() int {
	total := 0
	for i := 0; i < vge.NUsed; i++ {
		total += int(vge.Len[i])
	}
	return total
}

// NextKind says what the block decoder should do after one instruction
type NextKind int

const (
	DisContinue NextKind = iota // Fall through to the next instruction
	DisStopHere                 // Block ends here; decoder set Next/JumpKind
	DisResteer                  // Continue decoding at ContinueAt
)

// String returns the string representation of a NextKind
func (nk NextKind) String() string {
	names := []string{"Continue", "StopHere", "Resteer"}
	if nk >= 0 && int(nk) < len(names) {
		return names[nk]
	}
	return "Dis??"
}

// DisResult is what an instruction decoder reports back for one instruction
type DisResult struct {
	Len        int      // Byte length of the decoded instruction, 1..20
	WhatNext   NextKind // How the block continues
	ContinueAt uint64   // Resteer target; zero unless WhatNext is DisResteer
}

// ResteerFn decides whether the decoder may chase into the given guest
// address
type ResteerFn func(addr uint64) bool

// ArchInfo carries guest architecture variant information through to the
// instruction decoder
type ArchInfo struct {
	HWCaps        uint32 // Subarchitecture capability bits
	CacheLineSize int    // Guest icache line size in bytes
}

// InstrDecoder decodes one guest instruction into IR. Implementations
// consume the instruction at guestCode[delta:], append statements to sb,
// and report how the block continues.
//
// Contract: if putIP is true the decoder must write the guest IP slot
// before any other state effects (the dispatcher only sets it for the
// first instruction of a block). It may return DisResteer only after
// resteerOK(target) said yes. If it returns DisStopHere it must have set
// sb.Next and sb.JumpKind. Flag-affecting instructions write the thunk
// words, never materialized flag bits.
type InstrDecoder interface {
	DisOneInstr(sb *ir.SuperBlock, putIP bool, resteerOK ResteerFn,
		guestCode []byte, delta int64, guestIP uint64,
		arch *ArchInfo, hostBigEndian bool) DisResult
}

// Request carries the per-block inputs of one translation
type Request struct {
	Decoder InstrDecoder
	Arch    *ArchInfo

	// GuestCode holds the guest bytes; GuestCode[0] corresponds to
	// guest address IPStart
	GuestCode []byte
	IPStart   uint64

	// IPStartNoRedir is the pre-redirection address of the block, used
	// for function-wrapping bookkeeping when SetNRAddr is on
	IPStartNoRedir uint64

	// ChaseIntoOK vets resteer targets (address-space protection and
	// redirection rules live behind it)
	ChaseIntoOK func(addr uint64) bool

	HostBigEndian bool
	WordType      ir.Type // ir.I32 or ir.I64

	SelfCheck bool // Prepend the self-checking preamble
	SetNRAddr bool // Record IPStartNoRedir in the guest state

	// Guest state offsets the generic decoder needs; passed in because
	// this code works for any guest state layout
	OffTIStart int
	OffTILen   int
	OffNRAddr  int
}

// Frontend holds the translation controls that apply to every block.
// It is the explicit context a driver threads through its translations.
type Frontend struct {
	MaxInsns    int // Instruction cap per super-block, 1..99
	ChaseThresh int // Chasing allowed while n_instrs < ChaseThresh

	TraceFE  bool      // Print each decoded statement
	TraceOut io.Writer // Destination for trace output
}

// constFalse refuses every resteer
func constFalse(uint64) bool { return false }

// BBToIR decodes a complete super-block starting at req.IPStart, returning
// a new IR block and filling vge with the guest byte ranges decoding drew
// from. The instruction decoder may chase across block boundaries when
// req.ChaseIntoOK allows it and the chase budget is not exhausted.
//
// All internal consistency failures are translator bugs and panic; there
// is no partial-block recovery.
func (fe *Frontend) BBToIR(vge *GuestExtents, req *Request) *ir.SuperBlock {
	// The self-check checksum omits its modulo step, which is only sound
	// for short regions; the instruction cap keeps extents well inside
	// that bound.
	if fe.MaxInsns < 1 || fe.MaxInsns >= 100 {
		panic(fmt.Sprintf("translate: BBToIR: MaxInsns %d out of range", fe.MaxInsns))
	}
	if fe.ChaseThresh < 0 || fe.ChaseThresh >= fe.MaxInsns {
		panic(fmt.Sprintf("translate: BBToIR: ChaseThresh %d out of range", fe.ChaseThresh))
	}
	if req.WordType != ir.I32 && req.WordType != ir.I64 {
		panic(fmt.Sprintf("translate: BBToIR: bad guest word type %s", req.WordType))
	}

	// Start with a single empty extent at the block start
	vge.NUsed = 1
	vge.Base[0] = req.IPStart
	vge.Len[0] = 0

	sb := ir.NewSuperBlock()

	// delta tracks how far along req.GuestCode decoding has gone
	delta := int64(0)
	nInstrs := 0

	// Reserve five slots for the self-check preamble; they are filled in
	// once the length and checksum of the checked region are known
	selfCheckIdx := 0
	if req.SelfCheck {
		selfCheckIdx = len(sb.Stmts)
		for i := 0; i < 5; i++ {
			sb.AddStmt(&ir.NoOp{})
		}
	}

	// Record the unredirected address of this block so a function
	// wrapper can later find the wrapped function
	if req.SetNRAddr {
		sb.AddStmt(&ir.Put{
			Offset: req.OffNRAddr,
			Data:   ir.MkWordConst(req.WordType, req.IPStartNoRedir),
		})
	}

mainloop:
	for {
		if nInstrs >= fe.MaxInsns {
			panic("translate: BBToIR: instruction cap overrun")
		}

		// Chasing must stop once self-checking is requested (the check
		// covers one byte range only) or the extent slots are spent
		resteerOK := nInstrs < fe.ChaseThresh &&
			!req.SelfCheck &&
			vge.NUsed < MaxExtents
		resteerFn := ResteerFn(constFalse)
		if resteerOK {
			resteerFn = req.ChaseIntoOK
		}

		guestIPCurr := req.IPStart + uint64(delta)

		// The first statement of every instruction is its mark; the
		// length is patched once the decoder has reported it
		firstStmtIdx := len(sb.Stmts)
		sb.AddStmt(&ir.IMark{Addr: guestIPCurr, Len: 0})

		// The dispatch loop set the IP for the first instruction only
		needToPutIP := nInstrs > 0

		dres := req.Decoder.DisOneInstr(sb, needToPutIP, resteerFn,
			req.GuestCode, delta, guestIPCurr, req.Arch, req.HostBigEndian)

		// Stay sane
		if dres.Len < 1 || dres.Len > maxInstrLen {
			panic(fmt.Sprintf("translate: BBToIR: instruction length %d", dres.Len))
		}
		if dres.WhatNext != DisResteer && dres.ContinueAt != 0 {
			panic("translate: BBToIR: ContinueAt set without resteer")
		}

		// Patch the instruction mark's length
		imark, ok := sb.Stmts[firstStmtIdx].(*ir.IMark)
		if !ok || imark.Len != 0 {
			panic("translate: BBToIR: lost instruction mark")
		}
		imark.Len = uint32(dres.Len)

		if fe.TraceFE && fe.TraceOut != nil {
			for i := firstStmtIdx; i < len(sb.Stmts); i++ {
				fmt.Fprintf(fe.TraceOut, "              %s\n", sb.Stmts[i])
			}
		}

		if dres.WhatNext == DisStopHere && sb.Next == nil {
			panic("translate: BBToIR: StopHere without block next")
		}

		// Grow the extent under construction
		if vge.Len[vge.NUsed-1] >= maxExtentLen {
			panic("translate: BBToIR: extent overflow")
		}
		vge.Len[vge.NUsed-1] += uint16(dres.Len)
		nInstrs++
		delta += int64(dres.Len)

		switch dres.WhatNext {
		case DisContinue:
			if sb.Next != nil {
				panic("translate: BBToIR: Continue after block next set")
			}
			if nInstrs < fe.MaxInsns {
				continue
			}
			// Cap reached; terminate with a jump to the next
			// instruction
			sb.Next = ir.MkWordConst(req.WordType, req.IPStart+uint64(delta))
			sb.JumpKind = ir.JkBoring
			break mainloop

		case DisStopHere:
			break mainloop

		case DisResteer:
			if !resteerOK {
				panic("translate: BBToIR: resteer while chasing disallowed")
			}
			if sb.Next != nil {
				panic("translate: BBToIR: Resteer after block next set")
			}
			if !resteerFn(dres.ContinueAt) {
				panic("translate: BBToIR: resteer target refused")
			}
			delta = int64(dres.ContinueAt - req.IPStart)
			// Open a new extent for the chased-into range
			vge.NUsed++
			if vge.NUsed > MaxExtents {
				panic("translate: BBToIR: out of extent slots")
			}
			vge.Base[vge.NUsed-1] = dres.ContinueAt
			vge.Len[vge.NUsed-1] = 0

		default:
			panic("translate: BBToIR: bad NextKind")
		}
	}

	if req.SelfCheck {
		fe.fillSelfCheck(sb, vge, req, selfCheckIdx)
	}

	return sb
}

// fillSelfCheck materializes the five reserved preamble statements: record
// the checked region in the guest state, then exit the translation if the
// guest bytes no longer produce the checksum computed at translation time.
func (fe *Frontend) fillSelfCheck(sb *ir.SuperBlock, vge *GuestExtents,
	req *Request, idx int) {

	if vge.NUsed != 1 {
		panic("translate: BBToIR: self-check with chased extents")
	}
	len2check := uint64(vge.Len[0])
	if len2check == 0 {
		len2check = 1
	}
	sum := Checksum(req.GuestCode[:len2check])

	bbstart := ir.MkWordConst(req.WordType, req.IPStart)

	tStart := sb.NewTemp(req.WordType)
	tLen := sb.NewTemp(req.WordType)

	// TIStart and TILen tell the dispatcher which guest range to
	// invalidate should the check fail at run time
	sb.Stmts[idx+0] = &ir.WrTmp{Tmp: tStart, Data: bbstart}
	sb.Stmts[idx+1] = &ir.WrTmp{Tmp: tLen, Data: ir.MkWordConst(req.WordType, len2check)}
	sb.Stmts[idx+2] = &ir.Put{Offset: req.OffTIStart, Data: ir.MkRdTmp(tStart)}
	sb.Stmts[idx+3] = &ir.Put{Offset: req.OffTILen, Data: ir.MkRdTmp(tLen)}
	sb.Stmts[idx+4] = &ir.Exit{
		Guard: ir.MkBinop(ir.OpCmpNE32,
			ir.MkCCall(ir.I32, ir.HelperChecksum,
				bbstart,
				ir.MkWordConst(req.WordType, len2check)),
			ir.MkU32(sum)),
		JumpKind: ir.JkTInval,
		Dest:     bbstart,
	}
}
