// Command pc is the packet counter: it samples the kernel's ebtables
// OUTPUT-chain counters at a configured cadence and writes a time-series
// CSV (or prints a rate) for the given interfaces. See internal/pcloop
// for the sampling loop and internal/ebtcounter for the kernel query.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/AltraMayor/net-eval/internal/daemonize"
	"github.com/AltraMayor/net-eval/internal/ebtcounter"
	"github.com/AltraMayor/net-eval/internal/pcloop"
	"github.com/AltraMayor/net-eval/internal/pcsample"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	stackFlag = flag.String("stack", "ip", "Choose between 'ip' and 'xia' stacks")
	addRules  = flag.Bool("add-rules", false, "Add ebtables(8) rules")
	ebtables  = flag.String("ebtables", "/sbin/ebtables", "Fully qualified path to ebtables(8)")
	sleepSecs = flag.Int("sleep", 10, "Sleep time between samplings, in seconds")
	parents   = flag.Bool("parents", false, "Make parent directories of --file as needed")
	daemon    = flag.Bool("daemon", false, "Daemonize after creating the output file")
	outFile   = flag.String("file", "", "Fully qualified name of the file to save samplings; default is stdout")
	promAddr  = flag.String("prom", ":9092", "Prometheus metrics export address and port")
)

// sampler adapts an ebtables socket into the pcloop.Sampler interface.
type sampler struct {
	sk    int
	stack string
}

func (s sampler) Snapshot() ([]ebtcounter.PortCounter, error) {
	return ebtcounter.Snapshot(s.sk, s.stack)
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	if *sleepSecs < 1 {
		log.Fatal("--sleep must be >= 1")
	}
	ifs := flag.Args()
	if *addRules && len(ifs) < 1 {
		log.Fatal("There must be at least one interface to add rules for")
	}

	sk, err := ebtcounter.Socket()
	rtx.Must(err, "Could not open ebtables socket")

	if *addRules {
		for _, ifName := range ifs {
			rtx.Must(ebtcounter.AddRule(*ebtables, *stackFlag, ifName),
				"Could not add ebtables rule for %q", ifName)
		}
	}

	// fw stays a nil interface (not a nil *pcsample.Writer) when no
	// --file is given, so pcloop.Step's fileWriter != nil check
	// correctly selects stdout rate-printing mode.
	var fw pcloop.FileWriter
	var out *os.File
	if *outFile != "" {
		if *parents {
			rtx.Must(os.MkdirAll(filepath.Dir(*outFile), 0755), "Could not create parent directories for %q", *outFile)
		}
		out, err = os.Create(*outFile)
		rtx.Must(err, "Could not create output file %q", *outFile)
		defer out.Close()
		fw = pcsample.NewWriter(out)
	}

	if *daemon {
		rtx.Must(daemonize.Daemonize(), "Could not daemonize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(ctx)

	s := sampler{sk: sk, stack: *stackFlag}
	sleepFor := time.Duration(*sleepSecs) * time.Second

	err = pcloop.Run(ctx, s, sleepFor, time.Now, time.Sleep, fw, os.Stdout)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("pcloop.Run: %v", err)
	}
}
