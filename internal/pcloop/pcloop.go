// Package pcloop implements the packet counter's sampling loop: read the
// ebtables OUTPUT-chain counters at a configured cadence and either
// append a timestamped row to a file or print a human-readable rate to
// stdout. Grounded on spec.md §4.10; the original harness's pc.c main()
// only stubs this loop with TODO comments.
package pcloop

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/AltraMayor/net-eval/internal/ebtcounter"
	"github.com/AltraMayor/net-eval/internal/metrics"
	"github.com/AltraMayor/net-eval/internal/pcsample"
)

// Sampler abstracts internal/ebtcounter.Snapshot.
type Sampler interface {
	Snapshot() ([]ebtcounter.PortCounter, error)
}

// FileWriter abstracts internal/pcsample.Writer for file-mode output.
type FileWriter interface {
	WriteSample(at time.Time, ports []ebtcounter.PortCounter) error
}

// Step takes one sample and, depending on mode, either writes a full row
// (fileWriter != nil) or prints a rate line to stdout computed against
// the previous total. It returns the new total so the caller can pass it
// back in as prev on the next call.
func Step(sampler Sampler, at time.Time, prev ebtcounter.Counter, prevSet bool, deltaT float64, fileWriter FileWriter, stdout io.Writer) (ebtcounter.Counter, error) {
	start := time.Now()
	defer func() { metrics.SampleWriteLatencyHistogram.Observe(time.Since(start).Seconds()) }()

	ports, err := sampler.Snapshot()
	if err != nil {
		return ebtcounter.Counter{}, err
	}
	cur := ebtcounter.Total(ports)

	if fileWriter != nil {
		if err := fileWriter.WriteSample(at, ports); err != nil {
			return ebtcounter.Counter{}, err
		}
		return cur, nil
	}

	if prevSet {
		rate := pcsample.Rate(at, prev, cur, deltaT)
		fmt.Fprintf(stdout, "%.1f pps\t%.1f Bps\n", rate.Pps, rate.Bps)
	}
	return cur, nil
}

// Run samples once immediately, then loops until ctx is canceled: sleep
// so each iteration is at least sleepFor wide, warning once per
// iteration (without sleeping) if the previous iteration already ran
// over, then sample again.
func Run(ctx context.Context, sampler Sampler, sleepFor time.Duration, clock func() time.Time, sleep func(time.Duration), fileWriter FileWriter, stdout io.Writer) error {
	tick := clock()
	cur, err := Step(sampler, tick, ebtcounter.Counter{}, false, sleepFor.Seconds(), fileWriter, stdout)
	if err != nil {
		return err
	}
	prev := cur

	for ctx.Err() == nil {
		prevTick := tick
		next := tick.Add(sleepFor)
		now := clock()
		if remaining := next.Sub(now); remaining > 0 {
			sleep(remaining)
			now = next
		} else if now.After(next) {
			metrics.SampleLagTotal.Inc()
			log.Printf("pcloop: iteration ran %.3fs behind schedule; not sleeping", now.Sub(next).Seconds())
		}
		tick = now

		cur, err := Step(sampler, tick, prev, true, tick.Sub(prevTick).Seconds(), fileWriter, stdout)
		if err != nil {
			return err
		}
		prev = cur
	}
	return ctx.Err()
}
