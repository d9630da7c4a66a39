package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/praveen5665/bmail/internal/apierrors"
)

// readFile returns the "file" field of a multipart request.
func readFile(t *testing.T, r *http.Request) []byte {
	t.Helper()
	f, hdr, err := r.FormFile("file")
	if err != nil {
		t.Fatalf("FormFile(file) error = %v", err)
	}
	defer f.Close()
	if hdr.Filename != contentName {
		t.Errorf("filename = %s, want %s", hdr.Filename, contentName)
	}
	data, _ := io.ReadAll(f)
	return data
}

func TestPinataPinner_Pin(t *testing.T) {
	id, _ := ID([]byte("x"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != pinataPinPath {
			t.Errorf("request = %s %s, want POST %s", r.Method, r.URL.Path, pinataPinPath)
		}
		if r.Header.Get("Authorization") != "Bearer jwt-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if got := readFile(t, r); string(got) != `{"a":1}` {
			t.Errorf("file = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"IpfsHash": id, "PinSize": 7})
	}))
	defer server.Close()

	p, err := NewPinata(server.URL, "jwt-token", time.Second)
	if err != nil {
		t.Fatalf("NewPinata() error = %v", err)
	}
	got, err := p.Pin(context.Background(), []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Pin() error = %v", err)
	}
	if got != id {
		t.Errorf("Pin() = %s, want %s", got, id)
	}
}

func TestPinataPinner_Errors(t *testing.T) {
	if _, err := NewPinata("", "", time.Second); err == nil {
		t.Error("NewPinata() without JWT should fail")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid JWT"}`))
	}))
	defer server.Close()

	p, _ := NewPinata(server.URL, "expired", time.Second)
	store, _ := New(p, nil)

	_, err := store.Upload(context.Background(), []byte("x"))
	if !errors.Is(err, apierrors.ErrStorageUnavailable) {
		t.Errorf("Upload() error = %v, want ErrStorageUnavailable", err)
	}
	if !errors.Is(err, apierrors.ErrUnauthorized) {
		t.Errorf("Upload() error = %v, want ErrUnauthorized cause", err)
	}
}

func TestKuboPinner_Pin(t *testing.T) {
	id, _ := ID([]byte("body"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/add" || r.URL.Query().Get("cid-version") != "1" {
			t.Errorf("request = %s, want /api/v0/add?cid-version=1", r.URL)
		}
		if got := readFile(t, r); string(got) != "body" {
			t.Errorf("file = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"Name": contentName, "Hash": id, "Size": "4"})
	}))
	defer server.Close()

	host, port, _ := net.SplitHostPort(server.Listener.Addr().String())
	p, err := NewKubo("/ip4/"+host+"/tcp/"+port, time.Second)
	if err != nil {
		t.Fatalf("NewKubo() error = %v", err)
	}

	got, err := p.Pin(context.Background(), []byte("body"))
	if err != nil {
		t.Fatalf("Pin() error = %v", err)
	}
	if got != id {
		t.Errorf("Pin() = %s, want %s", got, id)
	}
}

func TestNewKubo_InvalidAddress(t *testing.T) {
	for _, addr := range []string{"localhost:5001", "/ip4/127.0.0.1/udp/5001", "/ip4/127.0.0.1", ""} {
		if _, err := NewKubo(addr, time.Second); err == nil {
			t.Errorf("NewKubo(%q) error = nil, want error", addr)
		}
	}
}
