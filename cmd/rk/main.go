// Command rk is the router keeper: it bulk-loads a forwarding table over
// netlink and, if an update rate was requested, continuously reassigns
// random prefixes to different egress ports. See internal/rkloop for the
// control loop and internal/netlinkbatch for the wire encoding.
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/AltraMayor/net-eval/internal/netlinkbatch"
	"github.com/AltraMayor/net-eval/internal/prefixload"
	"github.com/AltraMayor/net-eval/internal/rand64"
	"github.com/AltraMayor/net-eval/internal/rkloop"
	"github.com/AltraMayor/net-eval/internal/seedfile"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	prefixFile = flag.String("prefix", "prefix", "Name of prefix file")
	stackFlag  = flag.String("stack", "ip", "Choose between 'ip' and 'xia' stacks")
	loadUpdate = flag.Bool("load-update", false, "Assume updating instead of creating while loading routing table")
	updRate    = flag.Int("upd-rate", 0, "Update rate (entries per second); 0 means load only, then exit")
	run        = flag.Int("run", 1, "Run must be >= 1")
	seedsPath  = flag.String("seeds", seedfile.DefaultFilename, "Path to the seeds file")
	promAddr   = flag.String("prom", ":9091", "Prometheus metrics export address and port")
)

// parsePorts consumes the positional IFNAME GATEWAY pairs left in args
// after flag parsing. Positional arguments are already exactly what
// flag.Args() returns pair-by-pair; no custom flag.Value is needed to
// collect them (see DESIGN.md).
func parsePorts(args []string, stack netaddr.Stack) []netaddr.Port {
	if len(args) == 0 || len(args)%2 != 0 {
		log.Fatal("Arguments must be IFNAME GATEWAY pairs")
	}
	ports := make([]netaddr.Port, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		ifname, gw := args[i], args[i+1]
		iface, err := net.InterfaceByName(ifname)
		rtx.Must(err, "Invalid interface %q", ifname)

		var addr netaddr.NetAddr
		if stack == netaddr.IP {
			ip := net.ParseIP(gw).To4()
			if ip == nil {
				log.Fatalf("Invalid IPv4 gateway address %q", gw)
			}
			copy(addr.IP[:], ip)
		} else {
			xid, err := parseXID(gw)
			rtx.Must(err, "Invalid XID gateway %q", gw)
			addr.XID = xid
		}

		ports = append(ports, netaddr.Port{
			Index:   len(ports),
			Iface:   iface.Index,
			Gateway: addr,
		})
	}
	return ports
}

func parseXID(s string) ([netaddr.XIDLen]byte, error) {
	var xid [netaddr.XIDLen]byte
	if len(s) != 2*netaddr.XIDLen {
		return xid, fmt.Errorf("expected %d hex chars, got %d", 2*netaddr.XIDLen, len(s))
	}
	for i := range xid {
		var b byte
		if _, err := fmt.Sscanf(s[2*i:2*i+2], "%02x", &b); err != nil {
			return xid, err
		}
		xid[i] = b
	}
	return xid, nil
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	stack, ok := netaddr.ParseStack(*stackFlag)
	if !ok {
		log.Fatalf("--stack must be 'ip' or 'xia', got %q", *stackFlag)
	}
	if *updRate < 0 {
		log.Fatal("--upd-rate must be >= 0")
	}

	ports := parsePorts(flag.Args(), stack)
	nnodes := len(ports) + 1
	nodeID := nnodes

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(ctx)

	s1, s2, nodeSeed, err := seedfile.Load(*seedsPath, *run, nnodes, nodeID)
	rtx.Must(err, "Could not load seeds")

	prefixes, err := prefixload.Load(*prefixFile, s1, false)
	rtx.Must(err, "Could not load prefix file %q", *prefixFile)
	if len(prefixes) == 0 {
		log.Fatalf("Prefix file %q is empty", *prefixFile)
	}

	portRNG := rand64.NewFromSeed(s2)
	prefixload.AssignPort(prefixes, len(ports), portRNG)

	batch, err := netlinkbatch.New(stack)
	rtx.Must(err, "Could not open netlink socket")
	defer batch.Close()

	rtx.Must(rkloop.BulkLoad(prefixes, ports, batch, *loadUpdate, time.Now, os.Stdout),
		"Could not bulk-load routing table")

	if *updRate <= 0 {
		return
	}

	prefixRNG := rand64.NewFromSeed(nodeSeed)
	err = rkloop.RunUpdateLoop(ctx, prefixes, ports, prefixRNG, portRNG, batch, *updRate, time.Now, time.Sleep, os.Stdout)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("rkloop.RunUpdateLoop: %v", err)
	}
}
