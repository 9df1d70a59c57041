package pwloop_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AltraMayor/net-eval/internal/netaddr"
	"github.com/AltraMayor/net-eval/internal/pwloop"
)

type fakeSender struct {
	fail  map[int]bool
	calls int
	sent  []netaddr.NetAddr
}

func (f *fakeSender) Send(addr netaddr.NetAddr) (bool, error) {
	f.calls++
	if f.fail[f.calls] {
		return false, nil
	}
	f.sent = append(f.sent, addr)
	return true, nil
}

type fakeZipf struct {
	draws []int64
	pos   int
}

func (z *fakeZipf) Sample() int64 {
	v := z.draws[z.pos%len(z.draws)]
	z.pos++
	return v
}

func prefixes(n int) []netaddr.NetPrefix {
	out := make([]netaddr.NetPrefix, n)
	for i := range out {
		out[i].Addr.IP = [4]byte{10, 0, 0, byte(i + 1)}
	}
	return out
}

func TestStepAdvancesOnSuccess(t *testing.T) {
	s := &pwloop.State{Index: 1}
	sender := &fakeSender{}
	zipf := &fakeZipf{draws: []int64{3}}

	sent, err := pwloop.Step(s, prefixes(5), zipf, sender)
	if err != nil {
		t.Fatal(err)
	}
	if !sent {
		t.Fatal("expected sent=true")
	}
	if s.Index != 3 {
		t.Errorf("index = %d, want 3", s.Index)
	}
	if len(sender.sent) != 1 || sender.sent[0] != prefixes(5)[0].Addr {
		t.Errorf("wrong address sent: %v", sender.sent)
	}
}

func TestStepDoesNotAdvanceOnBackpressure(t *testing.T) {
	s := &pwloop.State{Index: 2}
	sender := &fakeSender{fail: map[int]bool{1: true}}
	zipf := &fakeZipf{draws: []int64{9}}

	sent, err := pwloop.Step(s, prefixes(5), zipf, sender)
	if err != nil {
		t.Fatal(err)
	}
	if sent {
		t.Fatal("expected sent=false on backpressure")
	}
	if s.Index != 2 {
		t.Errorf("index changed on backpressure: %d", s.Index)
	}
}

func TestRunTimedPrintsThroughput(t *testing.T) {
	sender := &fakeSender{}
	zipf := &fakeZipf{draws: []int64{1, 2, 3, 4, 5}}

	now := time.Unix(0, 0)
	tick := 0
	clock := func() time.Time {
		tick++
		now = now.Add(5 * time.Second)
		return now
	}

	ctx, cancel := context.WithCancel(context.Background())
	var stdout bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- pwloop.Run(ctx, prefixes(5), zipf, sender, clock, false, strings.NewReader(""), &stdout, "ip")
	}()

	for sender.calls < 10 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if !strings.Contains(stdout.String(), "pps") {
		t.Errorf("expected throughput line, got %q", stdout.String())
	}
}

func TestRunInteractivePrintsPerPacket(t *testing.T) {
	sender := &fakeSender{}
	zipf := &fakeZipf{draws: []int64{1, 2, 3}}
	ctx, cancel := context.WithCancel(context.Background())

	var stdout bytes.Buffer
	stdin := strings.NewReader("2\n")

	done := make(chan error, 1)
	go func() {
		done <- pwloop.Run(ctx, prefixes(5), zipf, sender, time.Now, true, stdin, &stdout, "ip")
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	out := stdout.String()
	if !strings.Contains(out, "Packet 1 sent") || !strings.Contains(out, "Packet 2 sent") {
		t.Errorf("missing per-packet lines: %q", out)
	}
}
