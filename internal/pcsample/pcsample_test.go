package pcsample_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/AltraMayor/net-eval/internal/ebtcounter"
	"github.com/AltraMayor/net-eval/internal/pcsample"
)

func TestWriterHeaderAndRow(t *testing.T) {
	var buf bytes.Buffer
	w := pcsample.NewWriter(&buf)

	at := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	ports := []ebtcounter.PortCounter{
		{IfName: "veth0", Counter: ebtcounter.Counter{Pcnt: 3, Bcnt: 300}},
		{IfName: "veth1", Counter: ebtcounter.Counter{Pcnt: 4, Bcnt: 400}},
	}

	if err := w.WriteSample(at, ports); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out)
	}
	if lines[0] != "time veth0.pcnt veth0.bcnt veth1.pcnt veth1.bcnt" {
		t.Errorf("header = %q", lines[0])
	}
	wantRow := "2021-03-04-05-06-07 3 " + itoa(300+3*ebtcounter.EtherHdrLen) + " 4 " + itoa(400+4*ebtcounter.EtherHdrLen)
	if lines[1] != wantRow {
		t.Errorf("row = %q, want %q", lines[1], wantRow)
	}
}

func TestWriterHeaderOnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	w := pcsample.NewWriter(&buf)
	at := time.Unix(0, 0).UTC()
	ports := []ebtcounter.PortCounter{{IfName: "eth0"}}

	if err := w.WriteSample(at, ports); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSample(at, ports); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (1 header + 2 rows): %q", len(lines), buf.String())
	}
}

func TestRateComputation(t *testing.T) {
	at := time.Unix(100, 0).UTC()
	prev := ebtcounter.Counter{Pcnt: 100, Bcnt: 10000}
	cur := ebtcounter.Counter{Pcnt: 300, Bcnt: 30000}

	r := pcsample.Rate(at, prev, cur, 2.0)
	if r.Pps != 100 {
		t.Errorf("pps = %v, want 100", r.Pps)
	}
	if r.Bps != 10000 {
		t.Errorf("bps = %v, want 10000", r.Bps)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
