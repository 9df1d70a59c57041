// Package prefixload reads a text file of CIDR prefixes, shuffles them
// with the harness's exact partial Fisher-Yates algorithm, and materializes
// them into the netaddr.NetPrefix table that PW and RK both operate on.
// Grounded on the original harness's strarray.c (file-to-line-array
// loading) and the prefix-materialization logic documented in spec.md
// §4.4.
package prefixload

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/AltraMayor/net-eval/internal/netaddr"
	"github.com/AltraMayor/net-eval/internal/rand64"
)

// ErrEmptyFile is returned when the prefix file contains no lines at all.
var ErrEmptyFile = errors.New("prefixload: prefix file is empty")

// ReadLines loads filename entirely into memory and splits it into lines,
// replacing any embedded NUL byte with '?' (and warning once), exactly as
// the original strarray.c's process_content does. The last line may omit
// its trailing newline.
func ReadLines(filename string) ([]string, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("prefixload: can't open %q: %w", filename, err)
	}

	warned := false
	for i, b := range raw {
		if b == 0 {
			if !warned {
				log.Println("prefixload: file has NUL byte in its content")
				warned = true
			}
			raw[i] = '?'
		}
	}

	text := string(raw)
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	// A trailing newline produces one spurious empty final element; a
	// missing trailing newline must keep its last (non-empty) line.
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// Shuffle performs the harness's partial Fisher-Yates: repeatedly swap
// element 0 with a uniformly sampled element of the remaining (shrinking)
// slice, then advance past it. This is algorithmically equivalent to a
// standard Fisher-Yates shuffle but walks forward through the array
// instead of backward, reproducing the original's pointer-advance style.
func Shuffle(lines []string, rng *rand64.State) {
	remaining := lines
	for len(remaining) > 1 {
		j := rng.Sample0N1(int64(len(remaining)))
		remaining[0], remaining[j] = remaining[j], remaining[0]
		remaining = remaining[1:]
	}
}

// Parse turns one "a.b.c.d/m" line into a NetPrefix. If forceAddr is true,
// the entry is a host address: the mask is forced to 32. Otherwise the
// parsed mask is kept, and the returned address has the bit immediately
// after the mask boundary forced to 1, so a converted prefix->address
// cannot collide with a shorter prefix under longest-prefix-match.
func Parse(line string, forceAddr bool) (netaddr.NetPrefix, error) {
	var p netaddr.NetPrefix

	slash := strings.IndexByte(line, '/')
	if slash < 0 {
		return p, fmt.Errorf("prefixload: %q is not a CIDR (missing '/')", line)
	}
	addrPart, maskPart := line[:slash], line[slash+1:]

	octets := strings.Split(addrPart, ".")
	if len(octets) != 4 {
		return p, fmt.Errorf("prefixload: %q is not a dotted-quad address", addrPart)
	}
	var addr [4]byte
	for i, o := range octets {
		v, err := strconv.Atoi(o)
		if err != nil || v < 0 || v > 255 {
			return p, fmt.Errorf("prefixload: octet %q out of [0,255]", o)
		}
		addr[i] = byte(v)
	}

	mask, err := strconv.Atoi(maskPart)
	if err != nil || mask < 8 || mask > 32 {
		return p, fmt.Errorf("prefixload: mask %q out of [8,32]", maskPart)
	}

	if forceAddr {
		p.Addr.IP = addr
		p.MaskBits = 32
		return p, nil
	}

	p.Addr.IP = ForceBit(addr, mask)
	p.MaskBits = uint8(mask)
	return p, nil
}

// ForceBit sets the bit immediately after the mask boundary (0-indexed
// from the MSB) to 1, guaranteeing a prefix-derived address doesn't
// collide with a shorter prefix. See SPEC_FULL.md Open Question 1: unlike
// the original C (`0x80 >> (m < 32)` for 24<=m<32, an apparent typo
// collapsing the shift to 0 or 1 bit), this implementation sets
// `0x80 >> (m % 8)` in byte m/8 (for 24<=m<32 that is `0x80 >> (m - 24)`
// in the last byte), so the forced bit at position m is 1 for every m.
func ForceBit(addr [4]byte, mask int) [4]byte {
	if mask >= 32 {
		return addr
	}
	byteIdx := mask / 8
	bitInByte := mask % 8
	addr[byteIdx] |= 0x80 >> uint(bitInByte)
	return addr
}

// Load reads filename, shuffles its lines with seed, and materializes
// every line into a NetPrefix. It returns ErrEmptyFile if the file has no
// lines; a blank or malformed line is reported as a parse error instead.
func Load(filename string, seed [10]uint32, forceAddr bool) ([]netaddr.NetPrefix, error) {
	lines, err := ReadLines(filename)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyFile
	}

	rng := rand64.NewFromArray(seed[:])
	Shuffle(lines, rng)

	prefixes := make([]netaddr.NetPrefix, len(lines))
	for i, line := range lines {
		p, err := Parse(line, forceAddr)
		if err != nil {
			return nil, err
		}
		prefixes[i] = p
	}
	return prefixes, nil
}

// AssignPort assigns every prefix a uniformly random port index in
// [0, ports-1].
func AssignPort(prefixes []netaddr.NetPrefix, ports int, rng *rand64.State) {
	for i := range prefixes {
		prefixes[i].Port = uint16(rng.Sample0N1(int64(ports)))
	}
}
