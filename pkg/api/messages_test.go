package api

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecode_KeepsFields(t *testing.T) {
	tests := []Message{
		&ClientJoin{Revision: "1.0-4", Name: "alice", Company: 3},
		&ServerGameInfo{Revision: "1.0-4", ServerName: "srv", Clients: 2, MaxClients: 8, Frame: 77, NeedPassword: true},
		&ServerNeedPassword{Salt: bytes.Repeat([]byte{7}, SaltLen)},
		&ServerCommand{Frame: 101, Origin: 2, Command: []byte{1, 2, 3}},
		&ServerWelcome{ClientID: 2, Seed: 99, SyncInterval: 16},
		&ServerSync{Frame: 10, Checksum: 0xdeadbeef, Seed: 42},
		&ServerError{Code: ErrorDesync, Text: "desync"},
		&ClientQuit{},
	}

	for _, m := range tests {
		t.Run(m.Type().String(), func(t *testing.T) {
			got, err := Decode(Encode(m))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, m) {
				t.Errorf("got %+v, want %+v", got, m)
			}
		})
	}
}

func TestDecode_UnknownTypeIsMalformed(t *testing.T) {
	for _, b := range [][]byte{{0}, {byte(packetTypeEnd)}, {250, 1, 2}} {
		if _, err := Decode(b); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%v) err = %v, want ErrMalformed", b, err)
		}
	}
	if _, err := Decode(nil); !errors.Is(err, ErrTruncated) {
		t.Errorf("Decode(nil) err = %v, want ErrTruncated", err)
	}
}

func TestDecode_TruncatedAndTrailing(t *testing.T) {
	full := Encode(&ServerCommand{Frame: 5, Origin: 9, Command: []byte{1, 2, 3, 4}})

	for n := 1; n < len(full); n++ {
		if _, err := Decode(full[:n]); err == nil {
			t.Fatalf("Decode of %d-byte prefix succeeded", n)
		}
	}

	if _, err := Decode(append(full, 0)); !errors.Is(err, ErrMalformed) {
		t.Errorf("trailing byte err = %v, want ErrMalformed", err)
	}
}

func TestDecode_ValidationFails(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"empty name", &ClientJoin{Revision: "r", Name: ""}},
		{"short digest", &ClientPassword{Digest: []byte{1, 2}}},
		{"bad error code", &ClientError{Code: errorCodeEnd}},
		{"empty command", &ClientCommand{}},
		{"zero sync interval", &ServerWelcome{ClientID: 2, Seed: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(Encode(tt.msg)); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestReader_BoolAndString(t *testing.T) {
	r := NewReader([]byte{2})
	r.Bool()
	if !errors.Is(r.Err(), ErrMalformed) {
		t.Errorf("bool 2 err = %v, want ErrMalformed", r.Err())
	}

	w := NewRawWriter()
	w.String("hello")
	r = NewReader(w.Bytes())
	if s := r.String(4); s != "" || !errors.Is(r.Err(), ErrMalformed) {
		t.Errorf("String(4) = %q, err = %v", s, r.Err())
	}

	r = NewReader([]byte{2, 0, 0xff, 0xfe})
	r.String(10)
	if !errors.Is(r.Err(), ErrMalformed) {
		t.Errorf("invalid utf-8 err = %v, want ErrMalformed", r.Err())
	}
}

func TestReader_StickyError(t *testing.T) {
	r := NewReader([]byte{1})
	_ = r.Uint32()
	first := r.Err()
	if !errors.Is(first, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", first)
	}
	if v := r.Uint8(); v != 0 {
		t.Errorf("read after error returned %d", v)
	}
	if r.Err() != first {
		t.Errorf("error was replaced")
	}
}

func TestPacketType_String(t *testing.T) {
	if PacketServerFrame.String() != "SERVER_FRAME" {
		t.Errorf("got %q", PacketServerFrame.String())
	}
	if PacketType(200).String() != "UNKNOWN" {
		t.Errorf("got %q", PacketType(200).String())
	}
	if ErrorBanned.String() != "BANNED" {
		t.Errorf("got %q", ErrorBanned.String())
	}
}
