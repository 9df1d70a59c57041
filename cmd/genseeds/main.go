// Command genseeds writes a seeds file in the layout internal/seedfile
// reads, for smoke-testing pw/rk/pc without operator-prepared seed
// material. Grounded on the teacher's cmd/csvtool as the pattern for a
// small, single-purpose main package using rtx.Must for error handling.
package main

import (
	"flag"
	"log"
	"math/rand"

	"github.com/m-lab/go/rtx"

	"github.com/AltraMayor/net-eval/internal/seedfile"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	out    = flag.String("out", seedfile.DefaultFilename, "Path of the seeds file to write")
	runs   = flag.Int("runs", 1, "Number of runs to provision for")
	nnodes = flag.Int("nnodes", 3, "Number of nodes per run (router included)")
	seed   = flag.Int64("seed", 1, "Seed for the generator's own randomness")
)

func main() {
	flag.Parse()
	if *runs < 1 {
		log.Fatal("--runs must be >= 1")
	}
	if *nnodes < 2 {
		log.Fatal("--nnodes must be >= 2")
	}

	rng := rand.New(rand.NewSource(*seed))
	err := seedfile.Generate(*out, *runs, *nnodes, func(i int) uint32 {
		return rng.Uint32()
	})
	rtx.Must(err, "Could not write seeds file %q", *out)

	log.Printf("Wrote %q: %d run(s), %d node(s)", *out, *runs, *nnodes)
}
