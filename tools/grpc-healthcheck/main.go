// Command grpc-healthcheck probes a gRPC health endpoint and exits non-zero
// unless the service reports SERVING. Used as the container health probe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/carmatch/meetguard/libs/grpcx"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	var (
		addr    = flag.String("addr", getenv("HEALTHCHECK_ADDR", "localhost:9080"), "gRPC address")
		service = flag.String("service", getenv("HEALTHCHECK_SERVICE", ""), "service name; empty checks the whole server")
		timeout = flag.Duration("timeout", 3*time.Second, "overall timeout")
	)
	flag.Parse()

	status, err := check(*addr, *service, *timeout)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("status=%s\n", status)
	if status != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}

func check(addr, service string, timeout time.Duration) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
