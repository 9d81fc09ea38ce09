package util

import (
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"testing"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Fatalf("Line exceeds %d characters: %q", Wrap, line)
		}
	}
	if WrapString("") != "" {
		t.Fatalf("Expected empty string")
	}
}

func bindPoolFlags(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupPoolFlags(cmd)
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		t.Fatalf("BindPFlags failed: %v", err)
	}
}

func TestGetPoolConfigDefaults(t *testing.T) {
	bindPoolFlags(t)

	config, err := GetPoolConfig()
	if err != nil {
		t.Fatalf("GetPoolConfig failed: %v", err)
	}

	def := common.DefaultPoolConfig()
	if config.PoolSize != def.PoolSize || config.ReserveTimeoutSecond != def.ReserveTimeoutSecond {
		t.Fatalf("Expected default pool settings, got %+v", config)
	}
	if config.Channel.ResendMode != def.Channel.ResendMode {
		t.Fatalf("Expected resend mode %s, got %s", def.Channel.ResendMode, config.Channel.ResendMode)
	}
	if config.Channel.SocketConf.ReadBufferSize != 512*1024 {
		t.Fatalf("Expected read buffer in bytes, got %d", config.Channel.SocketConf.ReadBufferSize)
	}
	if GetURL() != "tcp://localhost:8222" {
		t.Fatalf("Unexpected default url %s", GetURL())
	}
}

func TestGetPoolConfigOverrides(t *testing.T) {
	bindPoolFlags(t)

	viper.Set("pool-size", 3)
	viper.Set("dedicated-channel", true)
	viper.Set("resend-mode", "raise")
	viper.Set("user", "alice")

	config, err := GetPoolConfig()
	if err != nil {
		t.Fatalf("GetPoolConfig failed: %v", err)
	}
	if config.PoolSize != 3 || !config.UseDedicatedChannel {
		t.Fatalf("Overrides not applied: %+v", config)
	}
	if config.Channel.ResendMode != common.ReconnectAndRaiseException {
		t.Fatalf("Expected reconnect-and-raise, got %s", config.Channel.ResendMode)
	}
	if config.Channel.User != "alice" {
		t.Fatalf("Expected user alice, got %q", config.Channel.User)
	}
}

func TestGetPoolConfigInvalid(t *testing.T) {
	bindPoolFlags(t)

	viper.Set("pool-size", 0)
	if _, err := GetPoolConfig(); err == nil {
		t.Fatalf("Expected error for pool size 0")
	}

	viper.Set("pool-size", 1)
	viper.Set("resend-mode", "sometimes")
	if _, err := GetPoolConfig(); err == nil {
		t.Fatalf("Expected error for invalid resend mode")
	}
}

func TestGetSerializer(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, name := range []string{"json", "gob", "binary"} {
		viper.Set("serializer", name)
		if _, err := GetSerializer(); err != nil {
			t.Fatalf("GetSerializer(%s) failed: %v", name, err)
		}
	}

	viper.Set("serializer", "xml")
	if _, err := GetSerializer(); err == nil {
		t.Fatalf("Expected error for unknown serializer")
	}
	if _, err := GetChannelFactory(); err == nil {
		t.Fatalf("Expected GetChannelFactory to fail for unknown serializer")
	}
}
