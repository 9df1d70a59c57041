package pcloop_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AltraMayor/net-eval/internal/ebtcounter"
	"github.com/AltraMayor/net-eval/internal/pcloop"
)

type fakeSampler struct {
	snaps [][]ebtcounter.PortCounter
	pos   int
}

func (s *fakeSampler) Snapshot() ([]ebtcounter.PortCounter, error) {
	snap := s.snaps[s.pos%len(s.snaps)]
	s.pos++
	return snap, nil
}

type fakeFileWriter struct {
	rows []time.Time
}

func (w *fakeFileWriter) WriteSample(at time.Time, ports []ebtcounter.PortCounter) error {
	w.rows = append(w.rows, at)
	return nil
}

func counters(pcnt, bcnt uint64) []ebtcounter.PortCounter {
	return []ebtcounter.PortCounter{
		{IfName: "veth0", Counter: ebtcounter.Counter{Pcnt: pcnt, Bcnt: bcnt}},
	}
}

func TestStepFileModeWritesRow(t *testing.T) {
	sampler := &fakeSampler{snaps: [][]ebtcounter.PortCounter{counters(10, 100)}}
	fw := &fakeFileWriter{}

	cur, err := pcloop.Step(sampler, time.Now(), ebtcounter.Counter{}, false, 1, fw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(fw.rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(fw.rows))
	}
	wantBcnt := uint64(100 + 10*ebtcounter.EtherHdrLen)
	if cur.Bcnt != wantBcnt {
		t.Errorf("bcnt = %d, want %d", cur.Bcnt, wantBcnt)
	}
}

func TestStepStdoutModePrintsRate(t *testing.T) {
	sampler := &fakeSampler{snaps: [][]ebtcounter.PortCounter{counters(20, 200)}}
	var out bytes.Buffer
	prev := ebtcounter.Counter{Pcnt: 10, Bcnt: 100}

	_, err := pcloop.Step(sampler, time.Now(), prev, true, 2, nil, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "pps") || !strings.Contains(out.String(), "Bps") {
		t.Errorf("missing rate line: %q", out.String())
	}
}

func TestStepStdoutModeFirstSampleNoOutput(t *testing.T) {
	sampler := &fakeSampler{snaps: [][]ebtcounter.PortCounter{counters(20, 200)}}
	var out bytes.Buffer

	_, err := pcloop.Step(sampler, time.Now(), ebtcounter.Counter{}, false, 1, nil, &out)
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output on first sample, got %q", out.String())
	}
}

func TestRunSamplesOnceThenLoops(t *testing.T) {
	sampler := &fakeSampler{snaps: [][]ebtcounter.PortCounter{
		counters(10, 100), counters(20, 200), counters(30, 300), counters(40, 400),
	}}
	fw := &fakeFileWriter{}

	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	sleep := func(d time.Duration) { now = now.Add(d) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pcloop.Run(ctx, sampler, 5*time.Second, clock, sleep, fw, nil)
	}()

	for len(fw.rows) < 3 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if len(fw.rows) < 3 {
		t.Fatalf("got %d rows, want >= 3", len(fw.rows))
	}
	for i := 1; i < len(fw.rows); i++ {
		if got := fw.rows[i].Sub(fw.rows[i-1]); got != 5*time.Second {
			t.Errorf("row %d spacing = %v, want 5s", i, got)
		}
	}
}
