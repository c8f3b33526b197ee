package langhost

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
)

func startMonitor(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestRun_SuccessIsEmptyResult(t *testing.T) {
	addr := startMonitor(t)
	var got *grpc.ClientConn
	rt := New(func(_ context.Context, monitor *grpc.ClientConn) error {
		got = monitor
		return nil
	})

	msg, err := rt.Run(context.Background(), RunRequest{MonitorAddr: addr})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if msg != "" {
		t.Fatalf("msg = %q, want empty", msg)
	}
	if got == nil {
		t.Fatal("program never received the monitor connection")
	}
}

func TestRun_ProgramErrorBecomesStringResult(t *testing.T) {
	addr := startMonitor(t)
	rt := New(func(context.Context, *grpc.ClientConn) error {
		return errors.New("resource registration rejected")
	})

	msg, err := rt.Run(context.Background(), RunRequest{MonitorAddr: addr})
	if err != nil {
		t.Fatalf("program failure must not be a transport error: %v", err)
	}
	if msg != "resource registration rejected" {
		t.Fatalf("msg = %q", msg)
	}
}

func TestRun_UnreachableMonitorIsSetupError(t *testing.T) {
	rt := New(func(context.Context, *grpc.ClientConn) error {
		t.Error("program must not run without a monitor connection")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := rt.Run(ctx, RunRequest{MonitorAddr: "192.0.2.1:1"})
	if err == nil {
		t.Fatal("unreachable monitor must surface as an error")
	}
}

func TestRequiredPluginsAndInfo(t *testing.T) {
	rt := New(func(context.Context, *grpc.ClientConn) error { return nil },
		WithRequiredPlugin(PluginInfo{Name: "aws", Kind: "resource", Version: "6.0.0"}),
		WithRequiredPlugin(PluginInfo{Name: "random", Kind: "resource"}),
		WithName("go-test"),
	)

	plugins := rt.RequiredPlugins()
	if len(plugins) != 2 || plugins[0].Name != "aws" || plugins[1].Name != "random" {
		t.Fatalf("plugins = %+v", plugins)
	}
	info := rt.Info()
	if info.Name != "go-test" || info.Kind != "language" {
		t.Fatalf("info = %+v", info)
	}
}

func TestRequiredPlugins_DefaultEmpty(t *testing.T) {
	rt := New(func(context.Context, *grpc.ClientConn) error { return nil })
	if got := rt.RequiredPlugins(); len(got) != 0 {
		t.Fatalf("plugins = %+v, want none", got)
	}
	if rt.Info().Name != "TestLanguage" {
		t.Fatalf("default name = %q", rt.Info().Name)
	}
}
