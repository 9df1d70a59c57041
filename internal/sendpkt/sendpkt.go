// Package sendpkt builds per-stack packet templates and sends them out an
// AF_PACKET socket, patching only the destination field (and, for IPv4,
// the header checksum) per send. Grounded on the original harness's
// sndpkt.c, rebuilt over golang.org/x/sys/unix the way the teacher's
// netlink/netlink_linux.go reaches for raw kernel structures instead of
// cgo.
package sendpkt

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/AltraMayor/net-eval/internal/netaddr"
)

// EthHdrLen is the length of the Ethernet header the kernel prepends; the
// packet template never includes it.
const EthHdrLen = 14

// ETHPIP is the Ethernet type for IPv4 (0x0800).
const ETHPIP = 0x0800

// ETHPXIP is the Ethernet type for the experimental XIA stack (0xC0DE).
const ETHPXIP = 0xC0DE

const ip4HdrLen = 20

// DefaultSourceIP is the fixed IPv4 source address used by every template,
// matching the original's "10.0.0.1".
var DefaultSourceIP = [4]byte{10, 0, 0, 1}

// DaddrType enumerates the XIA destination-DAG shapes PW can generate, or
// "ip" for the classical stack.
type DaddrType string

const (
	DaddrIP  DaddrType = "ip"
	DaddrFB0 DaddrType = "fb0"
	DaddrFB1 DaddrType = "fb1"
	DaddrFB2 DaddrType = "fb2"
	DaddrFB3 DaddrType = "fb3"
	DaddrVia DaddrType = "via"
)

// XIA wire constants. The original harness's headers (net/xia.h,
// net/xia_route.h) were not available to ground these precisely; the
// values below follow the XIA project's conventional sentinels
// (documented in DESIGN.md) and are internally consistent for every
// operation this module performs (template build, patch offset, route
// attribute encoding).
const (
	xiaEmptyEdge     = 0x7f // no out-edge from this DAG node
	xiaEntryNodeIdx  = 0xff // "last_node": packet originates outside the XIA graph
	xidTypeAD        = 0x10 // Autonomous Domain Principal
	xiaRowEdges      = 4
	xiaRowSize       = 4 + netaddr.XIDLen + xiaRowEdges // xid_type + xid_id + 4 edge bytes
	xipHeaderSize    = 8                                // version,next_hdr,hop_limit,num_dst,num_src,last_node,payload_len(2)
)

// Template is a heap-allocated packet buffer plus the per-stack cookie
// needed to patch it on every send.
type Template struct {
	Stack  netaddr.Stack
	Buf    []byte
	EthP   uint16
	IPSum  uint16 // IP mode: cached one's-complement partial sum with dst=0.
	XIAOff int    // XIA mode: byte offset of the sink node's xid_id field.
}

// sum16 sums 16-bit words beginning at data, folding carries, starting
// from start. len(data) must be even.
func sum16(data []byte, start uint32) uint16 {
	sum := start
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return uint16(sum)
}

func fillPayload(buf []byte) {
	var i uint16 = 1
	for off := 0; off+1 < len(buf); off += 2 {
		binary.BigEndian.PutUint16(buf[off:off+2], i)
		i++
	}
}

// BuildIPv4Template allocates an IPv4 template of packetLen-EthHdrLen
// bytes: IHL=5, TOS=0, total-length=template length, id=0, flags=DF,
// TTL=255, protocol=253 (IANA experimentation/testing), source=10.0.0.1,
// destination=0, checksum=0, followed by an ascending 16-bit counter
// payload. The returned Template caches the one's-complement partial sum
// of the header with destination=0.
func BuildIPv4Template(packetLen int) (*Template, error) {
	tlen := packetLen - EthHdrLen
	if tlen < ip4HdrLen {
		return nil, fmt.Errorf("sendpkt: packet length %d too small for IPv4 header", packetLen)
	}

	buf := make([]byte, tlen)
	buf[0] = 0x45 // version=4, IHL=5
	buf[1] = 0    // TOS
	binary.BigEndian.PutUint16(buf[2:4], uint16(tlen))
	binary.BigEndian.PutUint16(buf[4:6], 0)      // id
	binary.BigEndian.PutUint16(buf[6:8], 0x4000) // flags=DF
	buf[8] = 255                                 // TTL
	buf[9] = 253                                 // protocol
	copy(buf[12:16], DefaultSourceIP[:])
	// buf[16:20] destination, left zero
	// checksum at buf[10:12] left zero for the partial sum

	fillPayload(buf[ip4HdrLen:])

	sum := sum16(buf[:ip4HdrLen], 0)
	return &Template{Stack: netaddr.IP, Buf: buf, EthP: ETHPIP, IPSum: sum}, nil
}

// PatchIPv4 writes the destination address and recomputes the header
// checksum as ~(cookie + sum16(destination_bytes)), the one's-complement
// sum with carries folded in.
func (t *Template) PatchIPv4(dst [4]byte) {
	copy(t.Buf[16:20], dst[:])
	sum := sum16(dst[:], uint32(t.IPSum))
	binary.BigEndian.PutUint16(t.Buf[10:12], ^sum)
}

// unknownAD returns the fixed 16-byte-constant-plus-4-byte-discriminator
// AD XID used to populate every non-sink DAG node, matching the
// original's "unknown_ad" table.
func unknownAD(discriminator byte) [netaddr.XIDLen]byte {
	var xid [netaddr.XIDLen]byte
	for i := 0; i < 16; i++ {
		xid[i] = byte(i)
	}
	xid[19] = discriminator
	return xid
}

func putRow(buf []byte, off int, xidType uint32, xid [netaddr.XIDLen]byte, edges [4]byte) {
	binary.BigEndian.PutUint32(buf[off:off+4], xidType)
	copy(buf[off+4:off+4+netaddr.XIDLen], xid[:])
	copy(buf[off+4+netaddr.XIDLen:off+xiaRowSize], edges[:])
}

// BuildXIATemplate allocates an XIA template of packetLen-EthHdrLen bytes:
// an XIP header followed by a destination DAG shaped by daddrType (see
// DaddrType), followed by an ascending 16-bit counter payload. The
// returned Template caches the byte offset of the sink node's xid_id
// field, the only part patched per send.
func BuildXIATemplate(packetLen int, daddrType DaddrType) (*Template, error) {
	tlen := packetLen - EthHdrLen
	if tlen < xipHeaderSize {
		return nil, fmt.Errorf("sendpkt: packet length %d too small for XIP header", packetLen)
	}

	var numDst int
	switch daddrType {
	case DaddrFB0:
		numDst = 1
	case DaddrFB1, DaddrVia:
		numDst = 2
	case DaddrFB2:
		numDst = 3
	case DaddrFB3:
		numDst = 4
	default:
		return nil, fmt.Errorf("sendpkt: destination type %q is not valid", daddrType)
	}

	hdrLen := xipHeaderSize + numDst*xiaRowSize
	if tlen < hdrLen {
		return nil, fmt.Errorf("sendpkt: packet length %d too small for %d-node DAG", packetLen, numDst)
	}

	buf := make([]byte, tlen)
	buf[0] = 1                       // version
	buf[1] = 0                       // next_hdr
	buf[2] = 255                     // hop_limit
	buf[3] = byte(numDst)            // num_dst
	buf[4] = 0                       // num_src
	buf[5] = xiaEntryNodeIdx         // last_node
	binary.BigEndian.PutUint16(buf[6:8], uint16(tlen-hdrLen))

	emptyEdges := [4]byte{xiaEmptyEdge, xiaEmptyEdge, xiaEmptyEdge, xiaEmptyEdge}
	for i := 0; i < numDst; i++ {
		off := xipHeaderSize + i*xiaRowSize
		putRow(buf, off, xidTypeAD, unknownAD(byte(i+1)), emptyEdges)
	}

	setEdge := func(node, edgeIdx int, target byte) {
		off := xipHeaderSize + node*xiaRowSize + 4 + netaddr.XIDLen + edgeIdx
		buf[off] = target
	}

	switch daddrType {
	case DaddrFB0:
		setEdge(0, 0, 0)
	case DaddrFB1:
		setEdge(1, 0, 0)
		setEdge(1, 1, 1)
	case DaddrFB2:
		setEdge(2, 0, 0)
		setEdge(2, 1, 1)
		setEdge(2, 2, 2)
	case DaddrFB3:
		setEdge(3, 0, 0)
		setEdge(3, 1, 1)
		setEdge(3, 2, 2)
		setEdge(3, 3, 3)
	case DaddrVia:
		setEdge(0, 0, 1)
		setEdge(1, 0, 0)
	}

	fillPayload(buf[hdrLen:])

	sinkNode := numDst - 1
	offset := xipHeaderSize + sinkNode*xiaRowSize + 4 // skip xid_type to reach xid_id
	return &Template{Stack: netaddr.XIA, Buf: buf, EthP: ETHPXIP, XIAOff: offset}, nil
}

// PatchXIA overwrites the sink node's XID with dst.
func (t *Template) PatchXIA(dst [netaddr.XIDLen]byte) {
	copy(t.Buf[t.XIAOff:t.XIAOff+netaddr.XIDLen], dst[:])
}

// Engine owns the AF_PACKET socket, the destination sockaddr_ll, and the
// packet template. It is not safe for concurrent use, by construction: a
// single PW process drives it from a single control loop.
type Engine struct {
	fd       int
	dev      unix.SockaddrLinklayer
	template *Template
}

// NewEngine opens an AF_PACKET/SOCK_DGRAM socket bound to ifname, builds
// the template for stack/daddrType, and binds the socket to that
// interface. It does not enable promiscuous mode.
func NewEngine(ifname string, ethType uint16, dstMAC []byte, stack netaddr.Stack, packetLen int, daddrType DaddrType) (*Engine, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("sendpkt: socket() failed: %w", err)
	}

	iface, err := unix.IfNametoindex(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sendpkt: if_nametoindex(%q) failed: %w", ifname, err)
	}

	var addr unix.SockaddrLinklayer
	addr.Protocol = htons(ethType)
	addr.Ifindex = int(iface)
	addr.Halen = uint8(len(dstMAC))
	copy(addr.Addr[:], dstMAC)

	var tmpl *Template
	if stack == netaddr.IP {
		tmpl, err = BuildIPv4Template(packetLen)
	} else {
		tmpl, err = BuildXIATemplate(packetLen, daddrType)
	}
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sendpkt: bind() failed: %w", err)
	}

	return &Engine{fd: fd, dev: addr, template: tmpl}, nil
}

func htons(v uint16) uint16 {
	return (v<<8)&0xff00 | (v>>8)&0x00ff
}

// Send patches the template for addr and transmits it with MSG_DONTWAIT.
// It returns true iff every byte was accepted by the kernel. On
// EAGAIN/EWOULDBLOCK/ENOBUFS it returns false quietly (backpressure; the
// caller retries with the same destination). Any other errno is logged by
// the caller's choosing (Send returns the error so callers can log it
// themselves, matching this package's "no global logger" stance) and also
// yields false.
func (e *Engine) Send(addr netaddr.NetAddr) (bool, error) {
	if e.template.Stack == netaddr.IP {
		e.template.PatchIPv4(addr.IP)
	} else {
		e.template.PatchXIA(addr.XID)
	}

	err := unix.Sendto(e.fd, e.template.Buf, unix.MSG_DONTWAIT, &e.dev)
	if err == nil {
		return true, nil
	}
	switch err {
	case unix.EAGAIN, unix.ENOBUFS:
		return false, nil
	default:
		return false, fmt.Errorf("sendpkt: sendto() failed: %w", err)
	}
}

// Close releases the socket.
func (e *Engine) Close() error {
	return unix.Close(e.fd)
}
