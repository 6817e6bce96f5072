package usbtmc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBulkOutHeaderEOM(t *testing.T) {
	h := bulkOutHeader(5, 10, true)
	if h[0] != msgDevDepMsgOut {
		t.Fatalf("MsgID = %d, want %d", h[0], msgDevDepMsgOut)
	}
	if h[1] != 5 || h[2] != invTag(5) {
		t.Fatalf("tag/inverse = %d/%d, want 5/%d", h[1], h[2], invTag(5))
	}
	if h[8]&attrEOM == 0 {
		t.Fatalf("EOM bit not set")
	}
}

func TestBulkOutHeaderNoEOM(t *testing.T) {
	h := bulkOutHeader(5, 10, false)
	if h[8]&attrEOM != 0 {
		t.Fatalf("EOM bit set when it should not be")
	}
}

func TestInvTagIsComplement(t *testing.T) {
	for tag := byte(1); tag < 255; tag++ {
		if invTag(tag) != ^tag {
			t.Fatalf("invTag(%d) = %d, want %d", tag, invTag(tag), ^tag)
		}
	}
}

func TestDecodeInHeaderShort(t *testing.T) {
	_, err := decodeInHeader(make([]byte, 4))
	if CodeOf(err) != CodeProtocolError {
		t.Fatalf("err = %v, want protocol-error", err)
	}
}

func TestDecodeInHeaderFields(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want decodedInHeader
	}{
		{
			name: "eom set",
			buf:  append(bulkOutHeaderFor(msgDevDepMsgIn, 3, 5, true), []byte("hello")...),
			want: decodedInHeader{msgID: msgDevDepMsgIn, tag: 3, payload: 5, eom: true},
		},
		{
			name: "eom clear",
			buf:  append(bulkOutHeaderFor(msgDevDepMsgIn, 9, 0, false), nil...),
			want: decodedInHeader{msgID: msgDevDepMsgIn, tag: 9, payload: 0, eom: false},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := decodeInHeader(c.buf)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(c.want, got, cmp.AllowUnexported(decodedInHeader{})); diff != "" {
				t.Errorf("decodeInHeader mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidateResponseTagMismatch(t *testing.T) {
	d := decodedInHeader{msgID: msgDevDepMsgIn, tag: 3}
	err := validateResponse(d, 4)
	if CodeOf(err) != CodeProtocolError {
		t.Fatalf("err = %v, want protocol-error", err)
	}
}

func TestValidateResponseWrongMsgID(t *testing.T) {
	d := decodedInHeader{msgID: msgDevDepMsgOut, tag: 4}
	err := validateResponse(d, 4)
	if CodeOf(err) != CodeProtocolError {
		t.Fatalf("err = %v, want protocol-error", err)
	}
}

func TestValidateResponseOK(t *testing.T) {
	d := decodedInHeader{msgID: msgDevDepMsgIn, tag: 4}
	if err := validateResponse(d, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPadded(t *testing.T) {
	cases := []struct{ n, want int }{{0, 0}, {1, 4}, {4, 4}, {5, 8}, {12, 12}, {13, 16}}
	for _, c := range cases {
		got := len(padded(make([]byte, c.n)))
		if got != c.want {
			t.Errorf("padded(%d bytes) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestBulkInRequestHeaderTermChar(t *testing.T) {
	h := bulkInRequestHeader(9, 100, 0x0A, true)
	if h[8]&attrTermCharEnab == 0 {
		t.Fatalf("term char enable bit not set")
	}
	if h[9] != 0x0A {
		t.Fatalf("term char = %#x, want 0x0a", h[9])
	}
}

func TestTriggerHeader(t *testing.T) {
	h := triggerHeader(7)
	if h[0] != msgTrigger {
		t.Fatalf("MsgID = %d, want %d", h[0], msgTrigger)
	}
}
