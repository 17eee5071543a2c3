package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/config"
	"github.com/lobbybee/frontdesk/internal/status"
)

// shortSocket returns a socket path short enough for the macOS 104-char limit.
func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "fd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "h.sock")
}

func startServer(t *testing.T, socketPath string) *Server {
	t.Helper()
	srv, err := NewServer(Params{Profile: "test", SocketPath: socketPath}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func TestModuleGraphIsComplete(t *testing.T) {
	cfg := config.Default()
	if err := fx.ValidateApp(Module(Params{Profile: "test", Config: &cfg})); err != nil {
		t.Fatalf("ValidateApp: %v", err)
	}
}

func TestProbeReportsChatState(t *testing.T) {
	socketPath := shortSocket(t)
	srv := startServer(t, socketPath)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := Probe(ctx, socketPath)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if r.Process != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("process = %v, want SERVING", r.Process)
	}
	if r.Chat != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("chat = %v, want NOT_SERVING", r.Chat)
	}

	srv.SetChatState(status.Connected)
	r, err = Probe(ctx, socketPath)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if r.Chat != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("chat = %v, want SERVING", r.Chat)
	}
}

func TestWatchFollowsStateMachine(t *testing.T) {
	socketPath := shortSocket(t)
	srv := startServer(t, socketPath)

	b := bus.New()
	machine := status.NewMachine(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Watch(ctx, b)

	_ = machine.Transition(status.Connecting)
	_ = machine.Transition(status.Connected)

	want := healthpb.HealthCheckResponse_SERVING
	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := Probe(ctx, socketPath)
		if err == nil && r.Chat == want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("chat status never became %v (last err %v)", want, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = machine.Transition(status.Error)
	want = healthpb.HealthCheckResponse_NOT_SERVING
	deadline = time.Now().Add(5 * time.Second)
	for {
		r, err := Probe(ctx, socketPath)
		if err == nil && r.Chat == want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("chat status never became %v (last err %v)", want, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStopRemovesSocket(t *testing.T) {
	socketPath := shortSocket(t)
	srv, err := NewServer(Params{Profile: "test", SocketPath: socketPath}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	srv.Stop(context.Background())

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after Stop: %v", err)
	}
}

func TestNewServerReplacesStaleSocket(t *testing.T) {
	socketPath := shortSocket(t)
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}
	startServer(t, socketPath)
}
