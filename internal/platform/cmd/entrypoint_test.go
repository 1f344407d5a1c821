package cmd

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("CMD_TEST_MODE", "env-mode")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfgRef := testConfig{}
	if err := ParseConfig(&cfgRef); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	fs.StringVar(&cfgRef.Address, "address", cfgRef.Address, "address")
	fs.StringVar(&cfgRef.Mode, "mode", cfgRef.Mode, "mode")

	if err := ParseArgs(fs, []string{"-address", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfgRef.Address != "flag:9001" {
		t.Fatalf("expected flag value for address, got %q", cfgRef.Address)
	}
	if cfgRef.Mode != "env-mode" {
		t.Fatalf("expected env default mode, got %q", cfgRef.Mode)
	}
}

func TestParseConfigLoadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.env")
	if err := os.WriteFile(path, []byte("CMD_TEST_MODE=file-mode\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(EnvFileVariable, path)
	t.Setenv("CMD_TEST_MODE", "")
	os.Unsetenv("CMD_TEST_MODE")

	cfgRef := testConfig{}
	if err := ParseConfig(&cfgRef); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfgRef.Mode != "file-mode" {
		t.Fatalf("expected mode from env file, got %q", cfgRef.Mode)
	}
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	if err := ParseArgs(nil, []string{}); err == nil {
		t.Fatal("expected parse args to reject nil parser")
	}
}

func TestRunWithTelemetryRejectsMissingInputs(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), "", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceSigchain, nil); err == nil {
		t.Fatal("expected missing run function error")
	}
}

func TestRunWithTelemetryRunsLoop(t *testing.T) {
	t.Setenv("SIGCHAIN_OTEL_ENDPOINT", "")
	called := false
	err := RunWithTelemetry(context.Background(), ServiceSigchain, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("run with telemetry: %v", err)
	}
	if !called {
		t.Fatal("expected run loop to be called")
	}
}
