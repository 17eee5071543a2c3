package app

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Report is the result of probing a running client.
type Report struct {
	Process healthpb.HealthCheckResponse_ServingStatus
	Chat    healthpb.HealthCheckResponse_ServingStatus
}

// Probe dials the health socket at socketPath and checks both services.
func Probe(ctx context.Context, socketPath string) (Report, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return Report{}, fmt.Errorf("dial health socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client := healthpb.NewHealthClient(conn)
	var r Report
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return Report{}, fmt.Errorf("check process: %w", err)
	}
	r.Process = resp.GetStatus()

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: ChatService})
	if err != nil {
		return Report{}, fmt.Errorf("check chat: %w", err)
	}
	r.Chat = resp.GetStatus()
	return r, nil
}
