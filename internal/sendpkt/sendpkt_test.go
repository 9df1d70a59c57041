package sendpkt_test

import (
	"encoding/binary"
	"testing"

	"github.com/AltraMayor/net-eval/internal/netaddr"
	"github.com/AltraMayor/net-eval/internal/sendpkt"
)

func ipChecksum(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(hdr[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}

func TestIPv4TemplateChecksumValid(t *testing.T) {
	tmpl, err := sendpkt.BuildIPv4Template(128)
	if err != nil {
		t.Fatal(err)
	}

	tmpl.PatchIPv4([4]byte{192, 0, 2, 7})

	hdr := append([]byte(nil), tmpl.Buf[:20]...)
	want := binary.BigEndian.Uint16(hdr[10:12])
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	got := ipChecksum(hdr)
	if got != want {
		t.Fatalf("checksum %04x does not validate (recomputed %04x)", want, got)
	}

	if tmpl.Buf[16] != 192 || tmpl.Buf[17] != 0 || tmpl.Buf[18] != 2 || tmpl.Buf[19] != 7 {
		t.Fatalf("destination not patched: %v", tmpl.Buf[16:20])
	}
}

func TestIPv4TemplateFixedFields(t *testing.T) {
	tmpl, err := sendpkt.BuildIPv4Template(128)
	if err != nil {
		t.Fatal(err)
	}
	if tmpl.Buf[0] != 0x45 {
		t.Errorf("version/IHL = %02x, want 0x45", tmpl.Buf[0])
	}
	if tmpl.Buf[8] != 255 {
		t.Errorf("TTL = %d, want 255", tmpl.Buf[8])
	}
	if tmpl.Buf[9] != 253 {
		t.Errorf("protocol = %d, want 253", tmpl.Buf[9])
	}
	for i, b := range sendpkt.DefaultSourceIP {
		if tmpl.Buf[12+i] != b {
			t.Errorf("source octet %d = %d, want %d", i, tmpl.Buf[12+i], b)
		}
	}
}

func TestIPv4TemplateTooSmall(t *testing.T) {
	if _, err := sendpkt.BuildIPv4Template(10); err == nil {
		t.Fatal("expected error for undersized packet")
	}
}

func TestXIATemplateNodeCounts(t *testing.T) {
	cases := []struct {
		dt      sendpkt.DaddrType
		numDst  byte
	}{
		{sendpkt.DaddrFB0, 1},
		{sendpkt.DaddrFB1, 2},
		{sendpkt.DaddrFB2, 3},
		{sendpkt.DaddrFB3, 4},
		{sendpkt.DaddrVia, 2},
	}
	for _, c := range cases {
		tmpl, err := sendpkt.BuildXIATemplate(256, c.dt)
		if err != nil {
			t.Fatalf("%s: %v", c.dt, err)
		}
		if tmpl.Buf[3] != c.numDst {
			t.Errorf("%s: num_dst = %d, want %d", c.dt, tmpl.Buf[3], c.numDst)
		}
		if tmpl.Buf[5] != 0xff {
			t.Errorf("%s: last_node = %02x, want entry sentinel", c.dt, tmpl.Buf[5])
		}
	}
}

func TestXIATemplatePatchesSinkXID(t *testing.T) {
	tmpl, err := sendpkt.BuildXIATemplate(256, sendpkt.DaddrFB2)
	if err != nil {
		t.Fatal(err)
	}
	var xid [netaddr.XIDLen]byte
	for i := range xid {
		xid[i] = byte(0xA0 + i)
	}
	tmpl.PatchXIA(xid)

	got := tmpl.Buf[tmpl.XIAOff : tmpl.XIAOff+netaddr.XIDLen]
	for i := range xid {
		if got[i] != xid[i] {
			t.Fatalf("sink xid byte %d = %02x, want %02x", i, got[i], xid[i])
		}
	}
}

func TestXIATemplateUnknownDaddrType(t *testing.T) {
	if _, err := sendpkt.BuildXIATemplate(256, "bogus"); err == nil {
		t.Fatal("expected error for unknown destination type")
	}
}

func TestXIATemplateTooSmall(t *testing.T) {
	if _, err := sendpkt.BuildXIATemplate(20, sendpkt.DaddrFB3); err == nil {
		t.Fatal("expected error for undersized packet")
	}
}
