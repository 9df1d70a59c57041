// Package ebtcounter reads per-interface packet/byte counters out of the
// kernel's ebtables OUTPUT chain via getsockopt(EBT_SO_GET_INFO/
// EBT_SO_GET_ENTRIES), the same two-step retrieval the original harness's
// ebt.c performs, and installs the bridge-filter DROP rule PC depends on
// by shelling out to ebtables(8) -- the kernel has no simpler interface
// for rule insertion, as the original's own comment notes.
package ebtcounter

import (
	"fmt"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"
)

// EtherHdrLen is added back to every byte counter: the bridge filter's
// byte count excludes the Ethernet header the kernel already stripped by
// the time ebtables sees the frame.
const EtherHdrLen = 14

const (
	ebtTableMaxNameLen = 32
	ebtChainMaxNameLen = 32
	nfBrNumHooks       = 5

	ebtSoGetInfo    = 128
	ebtSoGetEntries = 129

	ebtEntryOrEntries = 0x01
)

// Counter mirrors struct ebt_counter: a packet count and a byte count.
type Counter struct {
	Pcnt uint64
	Bcnt uint64
}

// PortCounter pairs an output interface name with its observed counter.
type PortCounter struct {
	IfName string
	Counter
}

// ebtReplaceHdr mirrors struct ebt_replace on a 64-bit host, including its
// trailing counters/entries pointers, which repl points at Go-allocated
// slices before EBT_SO_GET_ENTRIES.
type ebtReplaceHdr struct {
	name        [ebtTableMaxNameLen]byte
	validHooks  uint32
	nentries    uint32
	entriesSize uint32
	hookEntry   [nfBrNumHooks]uint64 // kernel-side pointers; always zero from userspace.
	numCounters uint32
	_           uint32 // alignment padding before the two trailing pointers.
	countersPtr uint64
	entriesPtr  uint64
}

// stackEthProto maps a stack name onto the Ethernet protocol ebtables
// filters the OUTPUT chain on.
func stackEthProto(stack string) (uint16, error) {
	switch stack {
	case "ip":
		return 0x0800, nil
	case "xia":
		return 0xc0de, nil
	default:
		return 0, fmt.Errorf("ebtcounter: unknown stack %q", stack)
	}
}

// Socket opens the AF_INET/SOCK_RAW socket ebtables' getsockopt interface
// is attached to (the kernel multiplexes ebtables control operations
// through IPPROTO_IP getsockopt on any INET raw socket).
func Socket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return -1, fmt.Errorf("ebtcounter: socket() failed: %w", err)
	}
	return fd, nil
}

// AddRule shells out to ebtables(8) to append a DROP rule to the OUTPUT
// chain matching stack's Ethernet protocol on ifName, exactly as
// ebt_add_rule does in the original harness. The kernel's rule-insertion
// ABI is not stable enough for this harness to speak directly; invoking
// the distribution's own tool is the supported path.
func AddRule(ebtablesPath, stack, ifName string) error {
	if _, err := stackEthProto(stack); err != nil {
		return err
	}
	protoName := map[string]string{"ip": "IPv4", "xia": "0xc0de"}[stack]

	cmd := exec.Command(ebtablesPath, "-A", "OUTPUT", "--proto", protoName,
		"--out-if", ifName, "--jump", "DROP")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ebtcounter: ebtables(8) failed: %w: %s", err, out)
	}
	return nil
}

func repl(sk int) ([]byte, []Counter, error) {
	var hdr ebtReplaceHdr
	copy(hdr.name[:], "filter")

	optlen := uint32(unsafe.Sizeof(hdr))
	if err := getsockopt(sk, ebtSoGetInfo, unsafe.Pointer(&hdr), &optlen); err != nil {
		return nil, nil, fmt.Errorf("ebtcounter: getsockopt(EBT_SO_GET_INFO) failed: %w", err)
	}

	if hdr.nentries == 0 {
		return nil, nil, nil
	}

	counters := make([]Counter, hdr.nentries)
	entries := make([]byte, hdr.entriesSize)
	hdr.numCounters = hdr.nentries
	hdr.countersPtr = uint64(uintptr(unsafe.Pointer(&counters[0])))
	hdr.entriesPtr = uint64(uintptr(unsafe.Pointer(&entries[0])))

	optlen = uint32(unsafe.Sizeof(hdr)) + uint32(len(counters))*16 + hdr.entriesSize
	if err := getsockopt(sk, ebtSoGetEntries, unsafe.Pointer(&hdr), &optlen); err != nil {
		return nil, nil, fmt.Errorf("ebtcounter: getsockopt(EBT_SO_GET_ENTRIES) failed: %w", err)
	}

	return entries, counters, nil
}

func getsockopt(fd, opt int, val unsafe.Pointer, optlen *uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd),
		uintptr(unix.IPPROTO_IP), uintptr(opt), uintptr(val),
		uintptr(unsafe.Pointer(optlen)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// ebtIfNameSize mirrors IFNAMSIZ, the width of every interface-name array
// in struct ebt_entry.
const ebtIfNameSize = 16

// ebtEntry mirrors struct ebt_entry up through next_offset: bitmask and
// invflags, the match protocol, the four interface-name arrays (in,
// logical_in, out, logical_out), and the three offsets the kernel uses to
// find the next entry. scanOutput only reads ethproto, out and nextOffset,
// but the full prefix has to be declared so those three land at the
// offsets the kernel actually puts them at.
type ebtEntry struct {
	bitmask        uint32
	invflags       uint32
	ethproto       uint16
	_              uint16 // alignment pad; ethproto is the only 2-byte field here
	in             [ebtIfNameSize]byte
	logicalIn      [ebtIfNameSize]byte
	out            [ebtIfNameSize]byte
	logicalOut     [ebtIfNameSize]byte
	watchersOffset uint32
	targetOffset   uint32
	nextOffset     uint32
}

// ebtEntries is the fixed prefix of struct ebt_entries (a chain header),
// aliased over the same bytes as ebtEntry: bitmask and distinguisher
// occupy the same offset, and the kernel guarantees distinguisher is
// never a valid bitmask value, letting scanOutput tell them apart.
type ebtEntries struct {
	distinguisher uint32
	name          [ebtChainMaxNameLen]byte
	counterOffset uint32
	policy        int32
	nentries      uint32
}

// scanOutput walks the flat entries buffer the same way the original's
// EBT_ENTRY_ITERATE macro does: each chain header is followed immediately
// by its rule entries, until the next chain header or the end of the
// buffer. Only the OUTPUT chain's entries are reported.
func scanOutput(entries []byte, counters []Counter, ethProto uint16) []PortCounter {
	var out []PortCounter
	if len(entries) == 0 {
		return out
	}

	printing := false
	index := 0
	off := 0
	for off < len(entries) {
		bitmask := hostUint32(entries[off : off+4])
		if bitmask&ebtEntryOrEntries != 0 {
			// A rule entry.
			if !printing {
				off += entrySize(entries[off:])
				continue
			}
			e := (*ebtEntry)(unsafe.Pointer(&entries[off]))
			if index < len(counters) && e.ethproto == ethProto {
				out = append(out, PortCounter{
					IfName:  cString(e.out[:]),
					Counter: counters[index],
				})
			}
			index++
			off += entrySize(entries[off:])
		} else {
			// A chain header.
			if printing {
				break
			}
			h := (*ebtEntries)(unsafe.Pointer(&entries[off]))
			name := cString(h.name[:])
			if name == "OUTPUT" {
				printing = true
				index = int(h.counterOffset)
			}
			off += int(unsafe.Sizeof(ebtEntries{}))
		}
	}
	return out
}

// entrySize returns the size in bytes of the ebt_entry starting at buf[0]:
// next_offset, the same field ebtables(8) itself uses to walk the table.
func entrySize(buf []byte) int {
	if len(buf) < int(unsafe.Sizeof(ebtEntry{})) {
		return len(buf)
	}
	e := (*ebtEntry)(unsafe.Pointer(&buf[0]))
	return int(e.nextOffset)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func hostUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func nativeToBE16(v uint16) uint16 {
	return v<<8&0xff00 | v>>8&0x00ff
}

// Snapshot retrieves the current OUTPUT-chain counters for stack's
// Ethernet protocol, one entry per matching rule in chain order; rules
// sharing an output interface are not merged.
func Snapshot(sk int, stack string) ([]PortCounter, error) {
	proto, err := stackEthProto(stack)
	if err != nil {
		return nil, err
	}
	entries, counters, err := repl(sk)
	if err != nil {
		return nil, err
	}
	beProto := nativeToBE16(proto)
	return scanOutput(entries, counters, beProto), nil
}

// Total sums every port's counters, adding back the stripped Ethernet
// header length to the byte count so totals are comparable with what PW
// actually put on the wire.
func Total(ports []PortCounter) Counter {
	var c Counter
	for _, p := range ports {
		c.Pcnt += p.Pcnt
		c.Bcnt += p.Bcnt
	}
	c.Bcnt += c.Pcnt * EtherHdrLen
	return c
}
