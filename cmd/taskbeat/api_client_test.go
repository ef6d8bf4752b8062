package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewAPIClientNormalizesWildcardHost(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:7488", ":7488", "[::]:7488"} {
		client, err := newAPIClient(addr, "")
		if err != nil {
			t.Fatalf("newAPIClient(%q): %v", addr, err)
		}
		if client.base != "http://127.0.0.1:7488" {
			t.Fatalf("newAPIClient(%q) base = %q", addr, client.base)
		}
	}
	if _, err := newAPIClient("no-port", ""); err == nil {
		t.Fatal("expected error for address without port")
	}
}

func TestAPIClientSendsTokenAndDecodesErrors(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	client, err := newAPIClient(strings.TrimPrefix(srv.URL, "http://"), "tok")
	if err != nil {
		t.Fatal(err)
	}
	err = client.Beat(context.Background(), "TaskQueue")

	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "unauthorized" {
		t.Fatalf("unexpected error %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotPath != "/api/queues/TaskQueue/$beat" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}
