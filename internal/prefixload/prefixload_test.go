package prefixload_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"

	"github.com/AltraMayor/net-eval/internal/netaddr"
	"github.com/AltraMayor/net-eval/internal/prefixload"
	"github.com/AltraMayor/net-eval/internal/rand64"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefix")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScenarioForcedBit(t *testing.T) {
	path := writeFile(t, "10.0.0.0/8")
	seed := [10]uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	prefixes, err := prefixload.Load(path, seed, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(prefixes) != 1 {
		t.Fatalf("got %d prefixes, want 1", len(prefixes))
	}
	got := prefixes[0].Addr.IP
	want := [4]byte{10, 128, 0, 0}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if prefixes[0].MaskBits != 8 {
		t.Errorf("mask = %d, want 8", prefixes[0].MaskBits)
	}
}

func TestForceBitAllMaskLengths(t *testing.T) {
	for m := 8; m < 32; m++ {
		addr := prefixload.ForceBit([4]byte{0, 0, 0, 0}, m)
		byteIdx := m / 8
		bitInByte := m % 8
		wantBit := byte(0x80 >> uint(bitInByte))
		if addr[byteIdx]&wantBit == 0 {
			t.Errorf("mask=%d: bit at position %d not set: %08b", m, m, addr[byteIdx])
		}
	}
}

func TestForceAddrSetsMask32(t *testing.T) {
	path := writeFile(t, "192.168.1.5/24")
	seed := [10]uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	prefixes, err := prefixload.Load(path, seed, true)
	if err != nil {
		t.Fatal(err)
	}
	if prefixes[0].MaskBits != 32 {
		t.Errorf("mask = %d, want 32", prefixes[0].MaskBits)
	}
	if prefixes[0].Addr.IP != [4]byte{192, 168, 1, 5} {
		t.Errorf("host address must be kept exactly: %v", prefixes[0].Addr.IP)
	}
}

func TestShufflePreservesMultiset(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e"}
	orig := append([]string(nil), lines...)
	rng := rand64.NewFromArray([]uint32{9, 9, 9})
	prefixload.Shuffle(lines, rng)

	if diff := deep.Equal(sorted(lines), sorted(orig)); diff != nil {
		t.Errorf("shuffle changed multiset: %v", diff)
	}
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func TestEmptyFile(t *testing.T) {
	path := writeFile(t, "")
	seed := [10]uint32{}
	_, err := prefixload.Load(path, seed, false)
	if err != prefixload.ErrEmptyFile {
		t.Fatalf("got %v, want ErrEmptyFile", err)
	}
}

func TestLastLineWithoutNewline(t *testing.T) {
	path := writeFile(t, "10.0.0.0/8\n192.168.0.0/16")
	lines, err := prefixload.ReadLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
	}
}

func TestNulReplacedWithQuestionMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefix")
	if err := os.WriteFile(path, []byte("10.0.0.0/8\x00/extra\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lines, err := prefixload.ReadLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if lines[0] != "10.0.0.0/8?/extra" {
		t.Errorf("got %q", lines[0])
	}
}

func TestAssignPortInRange(t *testing.T) {
	prefixes := make([]netaddr.NetPrefix, 50)
	rng := rand64.NewFromArray([]uint32{3, 1, 4})
	prefixload.AssignPort(prefixes, 4, rng)
	for i, p := range prefixes {
		if p.Port >= 4 {
			t.Fatalf("prefix %d got port %d, want < 4", i, p.Port)
		}
	}
}
