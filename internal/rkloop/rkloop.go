// Package rkloop implements the router keeper's two phases: a bulk FIB
// load over every prefix, then (if a nonzero update rate was requested)
// a steady-state loop that repeatedly reassigns one prefix to a
// different port via the swap-trick uniform-exclude-one sampler.
// Grounded on the original harness's rk.c main().
package rkloop

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/AltraMayor/net-eval/internal/metrics"
	"github.com/AltraMayor/net-eval/internal/netaddr"
)

// Batcher abstracts internal/netlinkbatch.Batch.
type Batcher interface {
	AddRoute(prefix netaddr.NetPrefix, port netaddr.Port, update bool) error
	Flush() error
}

// RNG abstracts internal/rand64.State's Sample0N1 method.
type RNG interface {
	Sample0N1(n int64) int64
}

// BulkLoad queues one route per prefix (NLM_F_REPLACE if loadUpdate,
// otherwise NLM_F_CREATE|NLM_F_EXCL), flushes, and reports the effective
// load rate.
func BulkLoad(prefixes []netaddr.NetPrefix, ports []netaddr.Port, batch Batcher, loadUpdate bool, clock func() time.Time, stdout io.Writer) error {
	fmt.Fprint(stdout, "Loading routing table... ")

	start := clock()
	op := "create"
	if loadUpdate {
		op = "replace"
	}
	for _, p := range prefixes {
		if err := batch.AddRoute(p, ports[p.Port], loadUpdate); err != nil {
			return err
		}
		metrics.RouteUpdatesTotal.WithLabelValues(op).Inc()
	}
	if err := batch.Flush(); err != nil {
		return err
	}

	elapsed := clock().Sub(start).Seconds()
	rate := float64(len(prefixes))
	if elapsed > 0 {
		rate /= elapsed
	}
	fmt.Fprintf(stdout, "DONE (%.1f entries/sec)\n", rate)
	return nil
}

// sampleDifferentPort draws a port index uniformly from ports, excluding
// ports[current], in O(1) without allocating: temporarily swap the
// current port to the last slot, sample from the remaining prefix, then
// swap back.
func sampleDifferentPort(ports []netaddr.Port, current int, rng RNG) netaddr.Port {
	last := len(ports) - 1
	if current != last {
		ports[current], ports[last] = ports[last], ports[current]
	}
	sample := rng.Sample0N1(int64(last))
	newPort := ports[sample]
	if current != last {
		ports[current], ports[last] = ports[last], ports[current]
	}
	return newPort
}

// Step performs one reassignment: pick a uniformly random prefix, move it
// to a different port than the one it currently holds, and queue a
// replace-route for it.
func Step(prefixes []netaddr.NetPrefix, ports []netaddr.Port, prefixRNG, portRNG RNG, batch Batcher) error {
	idx := prefixRNG.Sample0N1(int64(len(prefixes)))
	pp := &prefixes[idx]

	newPort := sampleDifferentPort(ports, int(pp.Port), portRNG)
	pp.Port = uint16(newPort.Index)

	if err := batch.AddRoute(*pp, newPort, true); err != nil {
		return err
	}
	metrics.RouteUpdatesTotal.WithLabelValues("replace").Inc()
	return nil
}

// RunUpdateLoop drives Step forever (until ctx is canceled between
// updates), self-pacing to rate updates/sec over a rolling one-second
// window and printing the measured rate roughly every 10 seconds.
func RunUpdateLoop(ctx context.Context, prefixes []netaddr.NetPrefix, ports []netaddr.Port, prefixRNG, portRNG RNG, batch Batcher, rate int, clock func() time.Time, sleep func(time.Duration), stdout io.Writer) error {
	windowCount := 0
	windowStart := clock()

	printCount := 0
	printStart := clock()

	for ctx.Err() == nil {
		if err := Step(prefixes, ports, prefixRNG, portRNG, batch); err != nil {
			return err
		}
		windowCount++
		printCount++

		if windowCount >= rate {
			if err := batch.Flush(); err != nil {
				return err
			}
			elapsed := clock().Sub(windowStart)
			if remaining := time.Second - elapsed; remaining > 0 {
				sleep(remaining)
			}
			windowStart = clock()
			windowCount = 0
		}

		if d := clock().Sub(printStart).Seconds(); d >= 10.0 {
			fmt.Fprintf(stdout, "%.1f upd/sec\n", float64(printCount)/d)
			printCount = 0
			printStart = clock()
		}
	}
	return ctx.Err()
}
