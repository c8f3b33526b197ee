// Package grpcutil provides the dialing helpers the language host uses to
// reach a resource monitor.
package grpcutil

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial creates a ClientConn for target and blocks until it is Ready or ctx
// expires. Bare host:port targets get the passthrough resolver, matching the
// behavior of the deprecated grpc.DialContext this replaces.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("empty dial target")
	}
	if !strings.Contains(target, "://") {
		target = "passthrough:///" + target
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	if err := waitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// DialInsecure dials a plaintext endpoint; resource monitors listen on
// loopback without TLS.
func DialInsecure(ctx context.Context, target string) (*grpc.ClientConn, error) {
	return Dial(ctx, target, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("grpc connection shut down before becoming ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}
