// Package pwloop implements the packet writer's control loop: sample a
// Zipf index, send, and on backpressure retry the same destination
// without advancing. Grounded on the original harness's pw.c main loop.
// Per the teacher's collector.Run shape (an injected ticker driving a
// for loop bounded by ctx.Err()), the step that actually sends a packet
// is factored out into Step so it can be driven deterministically by a
// test without a real socket.
package pwloop

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/AltraMayor/net-eval/internal/metrics"
	"github.com/AltraMayor/net-eval/internal/netaddr"
)

// Sender abstracts internal/sendpkt.Engine's Send method.
type Sender interface {
	Send(addr netaddr.NetAddr) (bool, error)
}

// ZipfSource abstracts internal/zipfcache.Cache's Sample method.
type ZipfSource interface {
	Sample() int64
}

// State is the loop's only mutable piece of workload state: the current
// 1-based index into the prefix table.
type State struct {
	Index int64
}

// Step attempts one send at the current index. On success it draws the
// next index from zipf and returns sent=true; on backpressure it leaves
// Index untouched and returns sent=false, nil.
func Step(s *State, prefixes []netaddr.NetPrefix, zipf ZipfSource, sender Sender) (sent bool, err error) {
	addr := prefixes[s.Index-1].Addr
	ok, err := sender.Send(addr)
	if err != nil {
		return false, err
	}
	if !ok {
		metrics.SendBackpressureTotal.Inc()
		return false, nil
	}
	s.Index = zipf.Sample()
	return true, nil
}

// Run drives Step forever (until ctx is canceled between sends), printing
// throughput to stdout every ~10 seconds in non-interactive mode, or
// prompting on stdin for a send count M and printing "Packet i sent"
// per send in interactive mode.
func Run(ctx context.Context, prefixes []netaddr.NetPrefix, zipf ZipfSource, sender Sender, clock func() time.Time, interactive bool, stdin io.Reader, stdout io.Writer, stack string) error {
	s := &State{Index: zipf.Sample()}

	if interactive {
		return runInteractive(ctx, s, prefixes, zipf, sender, stdin, stdout, stack)
	}
	return runTimed(ctx, s, prefixes, zipf, sender, clock, stdout, stack)
}

func runTimed(ctx context.Context, s *State, prefixes []netaddr.NetPrefix, zipf ZipfSource, sender Sender, clock func() time.Time, stdout io.Writer, stack string) error {
	var count float64
	start := clock()

	for ctx.Err() == nil {
		sent, err := Step(s, prefixes, zipf, sender)
		if err != nil {
			return err
		}
		if !sent {
			continue
		}
		metrics.PacketsSentTotal.WithLabelValues(stack).Inc()
		count++

		diff := clock().Sub(start).Seconds()
		if diff >= 10.0 {
			fmt.Fprintf(stdout, "%.1f pps\n", count/diff)
			count = 0
			start = clock()
		}
	}
	return ctx.Err()
}

func runInteractive(ctx context.Context, s *State, prefixes []netaddr.NetPrefix, zipf ZipfSource, sender Sender, stdin io.Reader, stdout io.Writer, stack string) error {
	reader := bufio.NewReader(stdin)
	for ctx.Err() == nil {
		m, err := promptPositiveInt(reader, stdout)
		if err != nil {
			return err
		}

		for i := int64(1); i <= m && ctx.Err() == nil; {
			sent, err := Step(s, prefixes, zipf, sender)
			if err != nil {
				return err
			}
			if !sent {
				continue
			}
			metrics.PacketsSentTotal.WithLabelValues(stack).Inc()
			fmt.Fprintf(stdout, "Packet %d sent\n", i)
			i++
		}
	}
	return ctx.Err()
}

func promptPositiveInt(reader *bufio.Reader, stdout io.Writer) (int64, error) {
	for {
		fmt.Fprint(stdout, "How many packets? ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("pwloop: can't read from stdin: %w", err)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil || n <= 0 {
			fmt.Fprintln(stdout, "Please enter a positive integer.")
			continue
		}
		return n, nil
	}
}
