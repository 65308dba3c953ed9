package logger

import "testing"

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"", LevelWarn, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetGlobalLevelFromString(t *testing.T) {
	defer SetGlobalLevel(LevelWarn)

	SetGlobalLevelFromString("debug")
	globalMu.RLock()
	got := globalLevel
	globalMu.RUnlock()
	if got != LevelDebug {
		t.Errorf("global level = %v, want %v", got, LevelDebug)
	}

	// Invalid strings leave the level untouched
	SetGlobalLevelFromString("bogus")
	globalMu.RLock()
	got = globalLevel
	globalMu.RUnlock()
	if got != LevelDebug {
		t.Errorf("global level changed on invalid input: %v", got)
	}
}
