package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lookbusy1344/arm-translator/arm"
	"github.com/lookbusy1344/arm-translator/armdec"
	"github.com/lookbusy1344/arm-translator/config"
	"github.com/lookbusy1344/arm-translator/ir"
	"github.com/lookbusy1344/arm-translator/translate"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

func main() {
	// Command-line flags
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configFile  = flag.String("config", "", "Config file (default: platform config path)")
		entryPoint  = flag.String("entry", "0x8000", "Guest address of the image start (hex or decimal)")
		maxInsns    = flag.Int("max-insns", 0, "Instruction cap per super-block (overrides config)")
		chaseThresh = flag.Int("chase", -1, "Branch-chasing budget (overrides config)")
		selfCheck   = flag.Bool("selfcheck", false, "Emit self-checking preambles")
		maxBlocks   = flag.Int("max-blocks", 100, "Stop after this many super-blocks")
		traceFE     = flag.Bool("trace", false, "Print IR as the front end decodes")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("ARM translator front end %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: arm-translator [options] image.bin")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *configFile, *entryPoint, *maxInsns,
		*chaseThresh, *selfCheck, *maxBlocks, *traceFE); err != nil {
		fmt.Fprintf(os.Stderr, "arm-translator: %v\n", err)
		os.Exit(1)
	}
}

func run(imagePath, configFile, entryPoint string, maxInsns, chaseThresh int,
	selfCheck bool, maxBlocks int, traceFE bool) error {

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFrom(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	// CLI flags override the config file
	if maxInsns > 0 {
		cfg.Translate.MaxInsns = maxInsns
	}
	if chaseThresh >= 0 {
		cfg.Translate.ChaseThresh = chaseThresh
	}
	if selfCheck {
		cfg.Translate.SelfCheck = true
	}
	if traceFE {
		cfg.Trace.Frontend = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	entry, err := parseAddress(entryPoint)
	if err != nil {
		return fmt.Errorf("invalid entry point %q: %w", entryPoint, err)
	}

	image, err := os.ReadFile(imagePath) // #nosec G304 -- user-supplied image
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if len(image) == 0 {
		return fmt.Errorf("image %s is empty", imagePath)
	}

	traceOut := os.Stdout
	if cfg.Trace.OutputFile != "" {
		f, err := os.Create(cfg.Trace.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer f.Close()
		traceOut = f
	}

	d := driver{
		image:   image,
		entry:   entry,
		decoder: armdec.New(),
		fe: &translate.Frontend{
			MaxInsns:    cfg.Translate.MaxInsns,
			ChaseThresh: cfg.Translate.ChaseThresh,
			TraceFE:     cfg.Trace.Frontend,
			TraceOut:    traceOut,
		},
		selfCheck: cfg.Translate.SelfCheck,
		setNRAddr: cfg.Translate.SetNRAddr,
	}
	return d.translateAll(maxBlocks)
}

// driver walks the image translating one super-block after another, the
// batch half of a dispatcher: each block's fall-through address seeds the
// next translation.
type driver struct {
	image     []byte
	entry     uint64
	decoder   *armdec.Decoder
	fe        *translate.Frontend
	selfCheck bool
	setNRAddr bool
}

// contains reports whether a guest address falls inside the loaded image
func (d *driver) contains(addr uint64) bool {
	return addr >= d.entry && addr < d.entry+uint64(len(d.image))
}

// chaseOK permits chasing anywhere inside the image. An instruction
// boundary check is the decoder's business, not ours.
func (d *driver) chaseOK(addr uint64) bool {
	return d.contains(addr)
}

func (d *driver) translateAll(maxBlocks int) error {
	nBlocks := 0
	nInstrs := 0
	ip := d.entry

	for nBlocks < maxBlocks && d.contains(ip) {
		var vge translate.GuestExtents
		req := &translate.Request{
			Decoder:        d.decoder,
			Arch:           &translate.ArchInfo{},
			GuestCode:      d.image[ip-d.entry:],
			IPStart:        ip,
			IPStartNoRedir: ip,
			ChaseIntoOK:    d.chaseOK,
			WordType:       ir.I32,
			SelfCheck:      d.selfCheck,
			SetNRAddr:      d.setNRAddr,
			OffTIStart:     arm.OffTIStart,
			OffTILen:       arm.OffTILen,
			OffNRAddr:      arm.OffNRAddr,
		}

		sb := d.fe.BBToIR(&vge, req)
		nBlocks++

		fmt.Printf("==== SB %d at 0x%X ====\n", nBlocks, ip)
		fmt.Print(sb)
		fmt.Printf("  extents: %s\n\n", formatExtents(&vge))

		for _, s := range sb.Stmts {
			if _, isMark := s.(*ir.IMark); isMark {
				nInstrs++
			}
		}

		// Follow the fall-through edge: the first address past the
		// bytes the block decoded from its primary extent
		next := vge.Base[0] + uint64(vge.Len[0])
		if next == ip {
			break
		}
		ip = next
	}

	fmt.Printf("%d super-blocks, %d instructions translated\n", nBlocks, nInstrs)
	return nil
}

// formatExtents renders the guest extents of one translation
func formatExtents(vge *translate.GuestExtents) string {
	parts := make([]string, 0, vge.NUsed)
	for i := 0; i < vge.NUsed; i++ {
		parts = append(parts, fmt.Sprintf("(0x%X, %d)", vge.Base[i], vge.Len[i]))
	}
	return strings.Join(parts, " ")
}

// parseAddress accepts 0x-prefixed hex or plain decimal
func parseAddress(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
