package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) call(ctx context.Context, method, path, token string, body, out any) (int, http.Header, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, err
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, resp.Header, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, resp.Header, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	base := env("GATEHOUSE_URL", "http://localhost:8080")
	grpcAddr := env("GATEHOUSE_GRPC_ADDR", "localhost:9090")
	username := os.Getenv("GATEHOUSE_SMOKE_USER")
	password := os.Getenv("GATEHOUSE_SMOKE_PASSWORD")
	if username == "" || password == "" {
		log.Fatal("GATEHOUSE_SMOKE_USER and GATEHOUSE_SMOKE_PASSWORD are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial grpc %s: %v", grpcAddr, err)
	}
	defer conn.Close()
	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("grpc health: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("grpc health status %v", health.GetStatus())
	}

	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	var login struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	}
	code, _, err := c.call(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username, "password": password, "deviceInfo": "smoke-auth",
	}, &login)
	if err != nil || code != http.StatusOK {
		log.Fatalf("login: status=%d err=%v", code, err)
	}

	code, hdr, err := c.call(ctx, http.MethodGet, "/auth/validate", login.AccessToken, nil, nil)
	if err != nil || code != http.StatusOK {
		log.Fatalf("validate: status=%d err=%v", code, err)
	}
	if hdr.Get("X-User-Username") == "" || hdr.Get("X-User-Permissions") == "" {
		log.Fatalf("validate: identity headers missing: %v", hdr)
	}

	var refreshed struct {
		AccessToken string `json:"accessToken"`
	}
	code, _, err = c.call(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": login.RefreshToken}, &refreshed)
	if err != nil || code != http.StatusOK || refreshed.AccessToken == "" {
		log.Fatalf("refresh: status=%d err=%v", code, err)
	}

	code, _, err = c.call(ctx, http.MethodPost, "/auth/logout", refreshed.AccessToken, map[string]string{"refreshToken": login.RefreshToken}, nil)
	if err != nil || code != http.StatusOK {
		log.Fatalf("logout: status=%d err=%v", code, err)
	}

	code, _, err = c.call(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": login.RefreshToken}, nil)
	if err != nil {
		log.Fatalf("refresh after logout: %v", err)
	}
	if code != http.StatusUnauthorized {
		log.Fatalf("refresh after logout: expected 401, got %d", code)
	}

	fmt.Printf("gatehouse smoke test passed: user=%s validate=%s\n", username, hdr.Get("X-User-ID"))
}
