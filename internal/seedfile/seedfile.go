// Package seedfile loads the per-run, per-node seed vectors every net-eval
// process needs for reproducible PRNG seeding. Grounded on the original
// harness's seeds.c: a flat text file of 8-hex-digit lines, read with a
// fixed skip/read layout keyed by (run, nnodes, node_id).
package seedfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Words is the number of uint32 words in one seed vector (80 bytes of
// entropy per seed).
const Words = 10

// LineLen is the on-disk width of one seed line: 8 hex digits + newline.
const LineLen = 9

// Seed is a vector of 10 uint32 words.
type Seed [Words]uint32

// ErrShortFile is returned when the seeds file does not contain enough
// lines for the requested (run, nnodes, node_id).
var ErrShortFile = errors.New("seedfile: file is too short for requested run/node")

// DefaultFilename is the name net-eval processes look for in the current
// working directory, per spec.
const DefaultFilename = "seeds"

// Load reads s1, s2, and node_seed for the given 1-indexed run and
// 1-indexed node_id out of nnodes total nodes (RK's node_id == nnodes).
//
// All nodes in a given run share s1. Only the router consumes s2. Each
// node gets its own node_seed, keyed by (run, node_id).
func Load(path string, run, nnodes, nodeID int) (s1, s2, nodeSeed Seed, err error) {
	if run < 1 {
		return s1, s2, nodeSeed, fmt.Errorf("seedfile: run must be >= 1, got %d", run)
	}
	if nodeID < 1 || nodeID > nnodes {
		return s1, s2, nodeSeed, fmt.Errorf("seedfile: node_id %d out of range [1,%d]", nodeID, nnodes)
	}

	f, err := os.Open(path)
	if err != nil {
		return s1, s2, nodeSeed, fmt.Errorf("seedfile: can't open %q: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	if err := skipLines(r, (run-1)*(2+nnodes)*Words); err != nil {
		return s1, s2, nodeSeed, err
	}
	if err := readVec(r, &s1); err != nil {
		return s1, s2, nodeSeed, err
	}
	if err := readVec(r, &s2); err != nil {
		return s1, s2, nodeSeed, err
	}
	if err := skipLines(r, (nodeID-1)*Words); err != nil {
		return s1, s2, nodeSeed, err
	}
	if err := readVec(r, &nodeSeed); err != nil {
		return s1, s2, nodeSeed, err
	}
	return s1, s2, nodeSeed, nil
}

func skipLines(r *bufio.Reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			if err == io.EOF {
				return ErrShortFile
			}
			return err
		}
	}
	return nil
}

func readVec(r *bufio.Reader, vec *Seed) error {
	for i := range vec {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if len(line) < 8 {
			return ErrShortFile
		}
		var word uint32
		if _, scanErr := fmt.Sscanf(line[:8], "%08x", &word); scanErr != nil {
			return fmt.Errorf("seedfile: bad seed line %q: %w", line, scanErr)
		}
		vec[i] = word
		if err == io.EOF && i != len(vec)-1 {
			return ErrShortFile
		}
	}
	return nil
}

// Generate writes a seeds file in the documented layout for runs
// 1..maxRun across nnodes nodes, using seq as the deterministic word
// generator (word index -> value). It is a test/operations convenience,
// not part of the original harness, useful to smoke-test the three
// binaries without operator-prepared seed material.
func Generate(path string, maxRun, nnodes int, seq func(i int) uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	total := maxRun * (2 + nnodes) * Words
	for i := 0; i < total; i++ {
		if _, err := fmt.Fprintf(w, "%08x\n", seq(i)); err != nil {
			return err
		}
	}
	return w.Flush()
}
