// Command genprefix writes a prefix file in the format internal/prefixload
// reads (one "a.b.c.d/m" CIDR per line), for smoke-testing pw/rk without
// an operator-prepared prefix file. Grounded on the teacher's
// cmd/csvtool as the pattern for a small, single-purpose main package
// using rtx.Must for error handling.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"

	"github.com/m-lab/go/rtx"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	out     = flag.String("out", "prefix", "Path of the prefix file to write")
	count   = flag.Int("count", 1000, "Number of prefixes to generate")
	base    = flag.String("base", "10.0.0.0/8", "Base network every generated prefix falls within")
	maskMin = flag.Int("mask-min", 24, "Minimum mask length")
	maskMax = flag.Int("mask-max", 30, "Maximum mask length")
	seed    = flag.Int64("seed", 1, "Seed for the generator's own randomness")
)

func main() {
	flag.Parse()
	if *count < 1 {
		log.Fatal("--count must be >= 1")
	}
	if *maskMin < 8 || *maskMax > 32 || *maskMin > *maskMax {
		log.Fatal("--mask-min/--mask-max must satisfy 8 <= min <= max <= 32")
	}

	_, baseNet, err := net.ParseCIDR(*base)
	rtx.Must(err, "Invalid --base %q", *base)
	baseOnes, _ := baseNet.Mask.Size()

	f, err := os.Create(*out)
	rtx.Must(err, "Could not create prefix file %q", *out)
	defer f.Close()

	w := bufio.NewWriter(f)
	rng := rand.New(rand.NewSource(*seed))
	baseAddr := baseNet.IP.To4()

	for i := 0; i < *count; i++ {
		mask := *maskMin
		if *maskMax > *maskMin {
			mask += rng.Intn(*maskMax - *maskMin + 1)
		}

		var addr [4]byte
		copy(addr[:], baseAddr)
		for bit := baseOnes; bit < 32; bit++ {
			if rng.Intn(2) == 1 {
				addr[bit/8] |= 0x80 >> uint(bit%8)
			}
		}
		// Clear host bits below the chosen mask so the prefix is
		// the network address, matching what a CIDR line names.
		for bit := mask; bit < 32; bit++ {
			addr[bit/8] &^= 0x80 >> uint(bit%8)
		}

		_, err := fmt.Fprintf(w, "%d.%d.%d.%d/%d\n", addr[0], addr[1], addr[2], addr[3], mask)
		rtx.Must(err, "Could not write prefix line")
	}
	rtx.Must(w.Flush(), "Could not flush prefix file")

	log.Printf("Wrote %q: %d prefix(es) under %s", *out, *count, *base)
}
