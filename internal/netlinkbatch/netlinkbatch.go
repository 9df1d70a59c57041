// Package netlinkbatch builds and ships batches of RTM_NEWROUTE messages to
// the kernel FIB over a single NETLINK_ROUTE socket. Message construction
// is grounded on github.com/vishvananda/netlink/nl (the same route-message
// builders a full netlink client uses); socket I/O, batching and the
// non-blocking ack drain are grounded on the original harness's rtnl.c and
// on the teacher's hand-rolled unix-syscall style in
// netlink/netlink_linux.go.
package netlinkbatch

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"

	"github.com/AltraMayor/net-eval/internal/metrics"
	"github.com/AltraMayor/net-eval/internal/netaddr"
)

// xidTypeAD and xidTypeHID are the XIA principal type tags the original
// harness hardcodes (net/xia.h is not yet part of any upstream kernel, per
// its own comment). Big-endian wire encoding, matching rtnl.c.
const (
	xidTypeAD  = 0x10
	xidTypeHID = 0x11
	afXIA      = 41 // AF_XIA, not assigned a stable value upstream.
	xiaMainTable = 1

	rtaDst     = 1
	rtaOif     = 4
	rtaGateway = 5

	rtmNewRoute = 24 // RTM_NEWROUTE
	nlmFRequest = 0x1
	nlmFCreate  = 0x400
	nlmFExcl    = 0x200
	nlmFReplace = 0x100

	rtnUnicast    = 1
	rtProtStatic  = 4
	rtScopeUniv   = 0
	rtTableMain   = 254

	// batchBudget bounds how many messages accumulate in one socket
	// write, mirroring the original's MNL_SOCKET_BUFFER_SIZE-based cap
	// without depending on libmnl's buffer sizing constant.
	batchBudget = 128
)

// xid is the wire layout of struct xia_xid: a 4-byte big-endian type tag
// followed by a 20-byte opaque identifier.
type xid struct {
	Type uint32
	ID   [netaddr.XIDLen]byte
}

func (x xid) serialize() []byte {
	buf := make([]byte, 4+netaddr.XIDLen)
	binary.BigEndian.PutUint32(buf[0:4], x.Type)
	copy(buf[4:], x.ID[:])
	return buf
}

// Batch accumulates RTM_NEWROUTE messages over one netlink socket and
// flushes them either when full or on demand. It is not safe for
// concurrent use; RK drives it from a single control loop.
type Batch struct {
	fd    int
	stack netaddr.Stack
	seq   uint32
	pid   uint32

	pending [][]byte
	addr    unix.SockaddrNetlink
}

// New opens and binds a NETLINK_ROUTE socket and returns a Batch ready to
// accumulate route messages for the given stack.
func New(stack netaddr.Stack) (*Batch, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("netlinkbatch: socket() failed: %w", err)
	}

	addr := unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlinkbatch: bind() failed: %w", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlinkbatch: getsockname() failed: %w", err)
	}
	nlsa, ok := sa.(*unix.SockaddrNetlink)
	if !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("netlinkbatch: unexpected sockaddr type %T", sa)
	}

	return &Batch{
		fd:    fd,
		stack: stack,
		seq:   uint32(time.Now().Unix()),
		pid:   nlsa.Pid,
		addr:  unix.SockaddrNetlink{Family: unix.AF_NETLINK},
	}, nil
}

func nlmsgAlignTo4(n int) int { return (n + 3) &^ 3 }

func putNlmsg(msgType uint16, flags uint16, seq uint32, pid uint32, payload []byte) []byte {
	hdrLen := 16
	total := nlmsgAlignTo4(hdrLen + len(payload))
	buf := make([]byte, total)
	ne := nl.NativeEndian()
	ne.PutUint32(buf[0:4], uint32(total))
	ne.PutUint16(buf[4:6], msgType)
	ne.PutUint16(buf[6:8], flags)
	ne.PutUint32(buf[8:12], seq)
	ne.PutUint32(buf[12:16], pid)
	copy(buf[16:], payload)
	return buf
}

func putRtAttr(attrType uint16, data []byte) []byte {
	a := nl.NewRtAttr(int(attrType), data)
	return a.Serialize()
}

// AddRoute appends one RTM_NEWROUTE message for prefix/port to the batch,
// using NLM_F_REPLACE when update is true (the swap-trick steady-state
// update path) or NLM_F_CREATE|NLM_F_EXCL for the bulk initial load.
// Messages are flushed automatically once batchBudget is reached.
func (b *Batch) AddRoute(prefix netaddr.NetPrefix, port netaddr.Port, update bool) error {
	flags := uint16(nlmFRequest)
	if update {
		flags |= nlmFReplace
	} else {
		flags |= nlmFCreate | nlmFExcl
	}

	rtm := make([]byte, 12) // struct rtmsg
	var payload []byte
	ne := nl.NativeEndian()

	if b.stack == netaddr.IP {
		rtm[0] = unix.AF_INET
		rtm[1] = prefix.MaskBits
		rtm[2] = 0 // src_len
		rtm[3] = 0 // tos
		rtm[4] = rtTableMain
		rtm[5] = rtProtStatic
		rtm[6] = rtScopeUniv
		rtm[7] = rtnUnicast
		// rtm[8:12] flags, left zero

		dst := make([]byte, 4)
		copy(dst, prefix.Addr.IP[:])
		oif := make([]byte, 4)
		ne.PutUint32(oif, uint32(port.Iface))
		gw := make([]byte, 4)
		copy(gw, port.Gateway.IP[:])

		payload = append(payload, putRtAttr(rtaDst, dst)...)
		payload = append(payload, putRtAttr(rtaOif, oif)...)
		payload = append(payload, putRtAttr(rtaGateway, gw)...)
	} else {
		rtm[0] = afXIA
		rtm[1] = byte(4 + netaddr.XIDLen) // dst_len = sizeof(xia_xid)
		rtm[2] = 0
		rtm[3] = 0
		rtm[4] = xiaMainTable
		rtm[5] = rtProtStatic
		rtm[6] = rtScopeUniv
		rtm[7] = rtnUnicast

		dst := xid{Type: xidTypeAD, ID: prefix.Addr.XID}
		gw := xid{Type: xidTypeHID, ID: port.Gateway.XID}

		payload = append(payload, putRtAttr(rtaDst, dst.serialize())...)
		payload = append(payload, putRtAttr(rtaGateway, gw.serialize())...)
	}

	msg := putNlmsg(rtmNewRoute, flags, b.seq, b.pid, append(rtm, payload...))
	b.seq++
	b.pending = append(b.pending, msg)

	if len(b.pending) >= batchBudget {
		return b.Flush()
	}
	return nil
}

// Flush writes every pending message in one sendto() and drains the
// acknowledgments already available before returning. The first
// NLMSG_ERROR with a nonzero errno is returned as an error; cmd/rk treats
// that error as fatal (a batch can't be partially applied and still be
// trusted).
func (b *Batch) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}

	start := time.Now()
	var buf []byte
	for _, m := range b.pending {
		buf = append(buf, m...)
	}
	b.pending = b.pending[:0]

	if err := unix.Sendto(b.fd, buf, 0, &b.addr); err != nil {
		return fmt.Errorf("netlinkbatch: sendto() failed: %w", err)
	}
	err := drainAcks(b.fd)
	metrics.NetlinkBatchFlushHistogram.Observe(time.Since(start).Seconds())
	return err
}

// drainAcks reads and validates every acknowledgment currently available
// on fd without blocking, re-testing readability after each message so a
// burst of acks for a large batch is fully consumed in one call.
func drainAcks(fd int) error {
	for {
		ready, err := selectReadable(fd)
		if err != nil {
			return fmt.Errorf("netlinkbatch: select() failed: %w", err)
		}
		if !ready {
			return nil
		}

		rcv := make([]byte, unix.Getpagesize()*4)
		n, _, err := unix.Recvfrom(fd, rcv, 0)
		if err != nil {
			return fmt.Errorf("netlinkbatch: recvfrom() failed: %w", err)
		}

		for _, m := range parseNlMsgs(rcv[:n]) {
			if m.msgType == unix.NLMSG_ERROR {
				errno := int32(nl.NativeEndian().Uint32(m.payload[0:4]))
				if errno != 0 {
					metrics.NetlinkNackTotal.Inc()
					return fmt.Errorf("netlinkbatch: message with seq %d failed: errno %d", m.seq, -errno)
				}
			}
		}
	}
}

func selectReadable(fd int) (bool, error) {
	var fds unix.FdSet
	fds.Bits[fd/64] |= 1 << uint(fd%64)
	tv := unix.Timeval{Sec: 0, Usec: 0}
	n, err := unix.Select(fd+1, &fds, nil, nil, &tv)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type parsedMsg struct {
	msgType uint16
	seq     uint32
	payload []byte
}

func parseNlMsgs(buf []byte) []parsedMsg {
	var out []parsedMsg
	ne := nl.NativeEndian()
	for len(buf) >= 16 {
		length := int(ne.Uint32(buf[0:4]))
		if length < 16 || length > len(buf) {
			break
		}
		out = append(out, parsedMsg{
			msgType: ne.Uint16(buf[4:6]),
			seq:     ne.Uint32(buf[8:12]),
			payload: buf[16:length],
		})
		buf = buf[nlmsgAlignTo4(length):]
	}
	return out
}

// Close flushes any remaining messages (the last chance to catch an error,
// matching the original's end_rtnl_batch) and releases the socket.
func (b *Batch) Close() error {
	if err := b.Flush(); err != nil {
		unix.Close(b.fd)
		return err
	}
	return unix.Close(b.fd)
}
