package packet

import (
	"testing"

	"go.uber.org/zap"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(OutChat)
	w.WriteByte(7)
	w.WriteShort(-5)
	w.WriteInt(123456789)
	w.WriteLong(-987654321)
	w.WriteString("hello")
	w.WriteString("안녕") // exercises the EUC-KR path
	w.WriteBool(true)

	r := NewReader(w.Bytes())
	if r.Op() != OutChat {
		t.Fatalf("op = 0x%04X, want 0x%04X", r.Op(), OutChat)
	}
	if v := r.ReadByte(); v != 7 {
		t.Errorf("byte = %d", v)
	}
	if v := r.ReadShort(); v != -5 {
		t.Errorf("short = %d", v)
	}
	if v := r.ReadInt(); v != 123456789 {
		t.Errorf("int = %d", v)
	}
	if v := r.ReadLong(); v != -987654321 {
		t.Errorf("long = %d", v)
	}
	if v := r.ReadString(); v != "hello" {
		t.Errorf("string = %q", v)
	}
	if v := r.ReadString(); v != "안녕" {
		t.Errorf("kr string = %q", v)
	}
	if !r.ReadBool() {
		t.Error("bool = false")
	}
	if r.Remaining() != 0 {
		t.Errorf("remaining = %d", r.Remaining())
	}
}

func TestReaderShortReadYieldsZero(t *testing.T) {
	r := NewReader([]byte{0x01, 0x00, 0xFF})
	if v := r.ReadInt(); v != 0 {
		t.Errorf("truncated int = %d, want 0", v)
	}
}

func TestRegistryStateGating(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	var called bool
	reg.Register(InUserMove, []SessionState{StateInWorld}, func(any, *Reader) { called = true })

	data := NewWriter(InUserMove).Bytes()
	if err := reg.Dispatch(nil, StateConnected, data); err == nil {
		t.Fatal("dispatch in disallowed state did not error")
	}
	if called {
		t.Fatal("handler invoked in disallowed state")
	}
	if err := reg.Dispatch(nil, StateInWorld, data); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !called {
		t.Fatal("handler not invoked")
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(InUserChat, []SessionState{StateInWorld}, func(any, *Reader) { panic("bad packet") })

	data := NewWriter(InUserChat).Bytes()
	if err := reg.Dispatch(nil, StateInWorld, data); err == nil {
		t.Fatal("panicking handler did not surface an error")
	}
}

func TestUnknownOpIgnored(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	if err := reg.Dispatch(nil, StateInWorld, NewWriter(0x7FFF).Bytes()); err != nil {
		t.Fatalf("unknown op should be a no-op, got %v", err)
	}
}
