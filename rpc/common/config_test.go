package common

import (
	"strings"
	"testing"
)

func TestPoolConfigValidate(t *testing.T) {
	conf := DefaultPoolConfig()
	if err := conf.Validate(); err != nil {
		t.Fatalf("Default config must be valid: %v", err)
	}

	conf.PoolSize = 0
	if err := conf.Validate(); err == nil {
		t.Errorf("Expected error for pool size 0")
	}

	conf = DefaultPoolConfig()
	conf.ReserveTimeoutSecond = 0
	if err := conf.Validate(); err == nil {
		t.Errorf("Expected error for reservation timeout 0")
	}

	if conf.UseDedicatedChannel {
		t.Errorf("Dedicated channel must default to false")
	}
}

func TestParseResendMode(t *testing.T) {
	for _, mode := range []ResendMode{DontReconnectAndIgnore, ReconnectAndResend, ReconnectAndRaiseException, ReconnectAndIgnore} {
		parsed, err := ParseResendMode(mode.String())
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", mode, err)
		}
		if parsed != mode {
			t.Errorf("Expected %s, got %s", mode, parsed)
		}
	}

	if _, err := ParseResendMode("sometimes"); err == nil {
		t.Errorf("Expected error for invalid resend mode")
	}

	if DontReconnectAndIgnore.Reconnects() || !ReconnectAndIgnore.Reconnects() {
		t.Errorf("Reconnects() reports the wrong value")
	}
}

func TestConfigString(t *testing.T) {
	conf := DefaultPoolConfig()
	out := conf.String()
	for _, want := range []string{"CONNECTION POOL", "CHANNEL", "FAULT TOLERANCE", "reconnect-and-resend"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in config output:\n%s", want, out)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	if _, err := ParseLogLevel("warn"); err != nil {
		t.Errorf("Expected warn to be valid: %v", err)
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("Expected error for invalid level")
	}
}
