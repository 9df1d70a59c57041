// Command pw is the packet writer: it samples destinations from a cached
// Zipf distribution and sends raw Ethernet frames out an AF_PACKET
// socket. See internal/pwloop for the control loop and internal/sendpkt
// for the per-stack packet template.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/AltraMayor/net-eval/internal/netaddr"
	"github.com/AltraMayor/net-eval/internal/prefixload"
	"github.com/AltraMayor/net-eval/internal/pwloop"
	"github.com/AltraMayor/net-eval/internal/rand64"
	"github.com/AltraMayor/net-eval/internal/seedfile"
	"github.com/AltraMayor/net-eval/internal/sendpkt"
	"github.com/AltraMayor/net-eval/internal/zipfcache"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	prefixFile  = flag.String("prefix", "prefix", "Name of prefix file")
	zipfExp     = flag.Float64("zipf", 1.0, "Parameter s of Zipf distribution")
	stackFlag   = flag.String("stack", "ip", "Choose between 'ip' and 'xia' stacks")
	ifname      = flag.String("ifname", "eth0", "Network interface to send packets (e.g. 'eth0')")
	dmac        = flag.String("dmac", "ff:ff:ff:ff:ff:ff", "Ethernet address of router")
	daddrType   = flag.String("daddr-type", "ip", "Destination address template {ip,fb0,fb1,fb2,fb3,via}")
	pktLen      = flag.Int("pkt-len", 64, "Packet length in bytes")
	nnodes      = flag.Int("nnodes", 3, "Number of nodes (= number of ports + 1)")
	nodeID      = flag.Int("node-id", 1, "ID of this packet writer [1..(N-1)]")
	run         = flag.Int("run", 1, "Run must be >= 1")
	interactive = flag.Bool("interactive", false, "Prompt for a packet count instead of free-running")
	seedsPath   = flag.String("seeds", seedfile.DefaultFilename, "Path to the seeds file")
	promAddr    = flag.String("prom", ":9090", "Prometheus metrics export address and port")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	stack, ok := netaddr.ParseStack(*stackFlag)
	if !ok {
		log.Fatalf("--stack must be 'ip' or 'xia', got %q", *stackFlag)
	}
	if *zipfExp < 0 {
		log.Fatal("--zipf must be >= 0")
	}
	if *nnodes < 2 {
		log.Fatal("--nnodes must be >= 2")
	}
	if *nodeID < 1 || *nodeID >= *nnodes {
		log.Fatalf("--node-id must be in [1,%d)", *nnodes)
	}

	dstMAC, err := net.ParseMAC(*dmac)
	rtx.Must(err, "Invalid --dmac %q", *dmac)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(ctx)

	s1, _, nodeSeed, err := seedfile.Load(*seedsPath, *run, *nnodes, *nodeID)
	rtx.Must(err, "Could not load seeds")

	prefixes, err := prefixload.Load(*prefixFile, s1, true)
	rtx.Must(err, "Could not load prefix file %q", *prefixFile)
	if len(prefixes) == 0 {
		log.Fatalf("Prefix file %q is empty", *prefixFile)
	}

	log.Print("Initializing Zipf cache... ")
	zipfRNG := rand64.NewFromSeed(nodeSeed)
	zcache := zipfcache.New(len(prefixes)*30, *zipfExp, int64(len(prefixes)), zipfRNG)
	log.Print("DONE")

	engine, err := sendpkt.NewEngine(*ifname, ethTypeForStack(stack), dstMAC, stack, *pktLen, sendpkt.DaddrType(*daddrType))
	rtx.Must(err, "Could not initialize send-packet engine")
	defer engine.Close()

	err = pwloop.Run(ctx, prefixes, zcache, engine, time.Now, *interactive, os.Stdin, os.Stdout, stack.String())
	if err != nil && ctx.Err() == nil {
		log.Fatalf("pwloop.Run: %v", err)
	}
}

func ethTypeForStack(stack netaddr.Stack) uint16 {
	if stack == netaddr.XIA {
		return sendpkt.ETHPXIP
	}
	return sendpkt.ETHPIP
}
