package arm

// StateRegion names a byte range of the guest state
type StateRegion struct {
	Offset int
	Size   int
}

// GuestLayout is the static description of the guest state consumed by the
// IR optimizer and the uninitialized-memory checker
type GuestLayout struct {
	TotalSize int // Guest state size in bytes

	OffsetSP int // Stack pointer slot
	SizeofSP int

	OffsetIP int // Instruction pointer slot
	SizeofIP int

	// AlwaysDefined lists state ranges the uninitialized-memory checker
	// must treat as defined. The thunk operation selector is always
	// defined; the three dependency words are tracked normally.
	AlwaysDefined []StateRegion
}

// Layout describes the ARM guest state
var Layout = GuestLayout{
	TotalSize: StateSize,

	OffsetSP: OffR0 + 4*SP,
	SizeofSP: 4,

	OffsetIP: OffR0 + 4*PC,
	SizeofIP: 4,

	AlwaysDefined: []StateRegion{
		{OffR0 + 4*PC, 4},
		{OffCCOp, 4},
		{OffEmWarn, 4},
		{OffTIStart, 4},
		{OffTILen, 4},
		{OffNRAddr, 4},
		{OffIPAtSyscall, 4},
	},
}

// RequiresPreciseMemExns reports whether any state slot in [minOff, maxOff]
// needs precise memory exceptions: writes to such slots may not be
// reordered across memory-faulting operations. Only the stack pointer,
// instruction pointer and frame pointer qualify; R11 is needed for usable
// stack traces from unoptimised code.
func RequiresPreciseMemExns(minOff, maxOff int) bool {
	for _, r := range []int{SP, PC, FP} {
		lo := OffR0 + 4*r
		hi := lo + 4 - 1
		if maxOff >= lo && minOff <= hi {
			return true
		}
	}
	return false
}
