package dns

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLookupIPLiteralSkipsResolution(t *testing.T) {
	r := NewResolver()
	r.lookup = func(context.Context, string, string) ([]string, error) {
		t.Fatal("lookup should not be called for an IP literal")
		return nil, nil
	}
	got, err := r.Lookup(context.Background(), "127.0.0.1")
	if err != nil || got != "127.0.0.1" {
		t.Fatalf("Lookup = %q, %v", got, err)
	}
}

func TestLookupPrefersIPv4(t *testing.T) {
	r := NewResolver()
	r.lookup = func(_ context.Context, _ string, server string) ([]string, error) {
		return []string{"2001:db8::1", "192.0.2.10"}, nil
	}
	got, err := r.Lookup(context.Background(), "store.example")
	if err != nil || got != "192.0.2.10" {
		t.Fatalf("Lookup = %q, %v", got, err)
	}
}

func TestLookupFallsBackToPublicServers(t *testing.T) {
	r := NewResolver()
	r.Servers = []string{"a", "b"}
	r.lookup = func(_ context.Context, _ string, server string) ([]string, error) {
		switch server {
		case "":
			return nil, errors.New("system resolver down")
		case "b":
			return []string{"198.51.100.7"}, nil
		default:
			return nil, errors.New("refused")
		}
	}
	got, err := r.Lookup(context.Background(), "store.example")
	if err != nil || got != "198.51.100.7" {
		t.Fatalf("Lookup = %q, %v", got, err)
	}
}

func TestLookupAllServersFail(t *testing.T) {
	r := NewResolver()
	r.Servers = []string{"a", "b"}
	r.RaceTimeout = time.Second
	r.lookup = func(context.Context, string, string) ([]string, error) {
		return nil, errors.New("nxdomain")
	}
	if _, err := r.Lookup(context.Background(), "nowhere.example"); err == nil {
		t.Fatal("expected error when every resolver fails")
	}
}
