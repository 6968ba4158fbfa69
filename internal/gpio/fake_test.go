package gpio

import (
	"errors"
	"testing"
)

func TestFakeTransactorOutputRoundTrip(t *testing.T) {
	f := NewFakeTransactor()

	if err := f.Export(61); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := f.SetDirection(61, Out); err != nil {
		t.Fatalf("direction: %v", err)
	}
	if err := f.SetValue(61, High); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, err := f.GetValue(61)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != High {
		t.Errorf("expected High after writing 1, got %v", v)
	}
}

func TestFakeTransactorUnexportedPin(t *testing.T) {
	f := NewFakeTransactor()

	if _, err := f.GetValue(7); !errors.Is(err, ErrNotExported) {
		t.Errorf("GetValue: expected ErrNotExported, got %v", err)
	}
	if err := f.SetValue(7, Low); !errors.Is(err, ErrNotExported) {
		t.Errorf("SetValue: expected ErrNotExported, got %v", err)
	}
}

func TestFakeTransactorInputRejectsWrite(t *testing.T) {
	f := NewFakeTransactor()
	f.Export(49)
	f.SetDirection(49, In)

	if err := f.SetValue(49, Low); !errors.Is(err, ErrNotOutput) {
		t.Errorf("expected ErrNotOutput, got %v", err)
	}
}

func TestFakeTransactorDrive(t *testing.T) {
	f := NewFakeTransactor()
	f.Export(49)
	f.SetDirection(49, In)

	v, _ := f.GetValue(49)
	if v != High {
		t.Errorf("expected released input to read High, got %v", v)
	}

	f.Drive(49, Low)
	v, _ = f.GetValue(49)
	if v != Low {
		t.Errorf("expected driven input to read Low, got %v", v)
	}
}

func TestFakeTransactorInjectedErrors(t *testing.T) {
	f := NewFakeTransactor()
	boom := errors.New("boom")

	f.FailExport(44, boom)
	if err := f.Export(44); !errors.Is(err, boom) {
		t.Errorf("expected injected export error, got %v", err)
	}
	if f.Exported(44) {
		t.Error("failed export should not mark pin exported")
	}

	f.Export(61)
	f.SetReadError(boom)
	if _, err := f.GetValue(61); !errors.Is(err, boom) {
		t.Errorf("expected injected read error, got %v", err)
	}
	f.SetReadError(nil)
	if _, err := f.GetValue(61); err != nil {
		t.Errorf("expected read error cleared, got %v", err)
	}
}

func TestFakeTransactorCallCounts(t *testing.T) {
	f := NewFakeTransactor()
	f.Export(61)
	f.Unexport(61)
	f.Unexport(61)

	if got := f.ExportCalls(61); got != 1 {
		t.Errorf("expected 1 export call, got %d", got)
	}
	if got := f.UnexportCalls(61); got != 2 {
		t.Errorf("expected 2 unexport calls, got %d", got)
	}
	if f.Exported(61) {
		t.Error("pin should not be exported after unexport")
	}
}

func TestPolarity(t *testing.T) {
	if !Logical(Low) {
		t.Error("raw Low should be logical ON")
	}
	if Logical(High) {
		t.Error("raw High should be logical OFF")
	}
	if Raw(true) != Low || Raw(false) != High {
		t.Errorf("Raw: got on=%v off=%v", Raw(true), Raw(false))
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      byte
		want    Level
		wantErr bool
	}{
		{'0', Low, false},
		{'1', High, false},
		{'x', Low, true},
		{'\n', Low, true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q): err=%v, wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
