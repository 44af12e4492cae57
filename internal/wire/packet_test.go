package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for typ := Type(0); typ <= maxType; typ++ {
		for _, seq := range []uint16{0, 1, 65535, 32768} {
			payload := bytes.Repeat([]byte{0xAB}, 37)
			enc := Encode(typ, seq, payload)
			got, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type != typ || got.Seq != seq || !bytes.Equal(got.Payload, payload) {
				t.Errorf("round trip mismatch: got %+v, want type=%v seq=%d payload=%v", got, typ, seq, payload)
			}
		}
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	enc := Encode(ACK, 42, nil)
	if len(enc) != HeaderLen {
		t.Errorf("len(enc) = %d, want %d", len(enc), HeaderLen)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Errorf("Payload = %v, want empty", got.Payload)
	}
}

func TestEncodeClampsType(t *testing.T) {
	enc := Encode(Type(99), 1, nil)
	got, _ := Decode(enc)
	if got.Type != maxType {
		t.Errorf("Type = %v, want clamped to %v", got.Type, maxType)
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x02})
	if err == nil {
		t.Fatal("expected error for short packet")
	}
}

func TestMaxDatagramFits(t *testing.T) {
	payload := bytes.Repeat([]byte{1}, MaxPayload)
	enc := Encode(DATA, 0, payload)
	if len(enc) != MaxDatagram {
		t.Errorf("len(enc) = %d, want %d", len(enc), MaxDatagram)
	}
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{DATA: "DATA", ACK: "ACK", SYN: "SYN", FIN: "FIN", Type(99): "UNKNOWN"}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", typ, got, want)
		}
	}
}
