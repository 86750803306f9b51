//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"file-exchanger/internal/rooms"
	"file-exchanger/internal/server"
	"file-exchanger/internal/storage"
)

// TestAPIWorkflow drives the flat and room flows over a real socket.
func TestAPIWorkflow(t *testing.T) {
	srv := setupTestServer(t)
	client := &http.Client{Timeout: 30 * time.Second}

	t.Run("Health Check", func(t *testing.T) {
		resp, err := client.Get(srv.URL + "/ready")
		if err != nil {
			t.Fatalf("Health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("Chunked Upload", func(t *testing.T) {
		// An io.Pipe body has no length, so the client streams it chunked.
		pr, pw := io.Pipe()
		go func() {
			for i := 0; i < 64; i++ {
				_, _ = pw.Write(bytes.Repeat([]byte{'x'}, 1024))
			}
			_ = pw.Close()
		}()

		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/upload", pr)
		req.Header.Set("X-Filename", "r%C3%A9sum%C3%A9.txt")
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}

		resp, err = client.Get(srv.URL + "/api/download/r%C3%A9sum%C3%A9.txt")
		if err != nil {
			t.Fatalf("Download failed: %v", err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if len(data) != 64*1024 {
			t.Fatalf("Expected %d bytes, got %d", 64*1024, len(data))
		}
		if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "filename*=utf-8''r%C3%A9sum%C3%A9.txt") {
			t.Errorf("Unexpected Content-Disposition %q", cd)
		}
	})

	t.Run("Truncated Upload", func(t *testing.T) {
		conn, err := net.Dial("tcp", srv.Listener.Addr().String())
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

		// Announce ten bytes, send five, then stop writing.
		_, err = io.WriteString(conn, "POST /api/upload HTTP/1.1\r\n"+
			"Host: exchanger\r\n"+
			"X-Filename: cut.txt\r\n"+
			"Content-Length: 10\r\n"+
			"\r\n"+
			"hello")
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
			t.Fatalf("CloseWrite failed: %v", err)
		}

		resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", resp.StatusCode)
		}

		resp, err = client.Get(srv.URL + "/api/download/cut.txt")
		if err != nil {
			t.Fatalf("Download failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("Expected the truncated file to be absent, got %d", resp.StatusCode)
		}
	})

	t.Run("Room Flow", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"password": "abcd"})
		resp, err := client.Post(srv.URL+"/api/create-room", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("create-room failed: %v", err)
		}
		var created struct {
			RoomID  string `json:"room_id"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&created)
		resp.Body.Close()
		if created.Message != "Room created! ID: "+created.RoomID {
			t.Fatalf("Unexpected message %q", created.Message)
		}

		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/room/"+created.RoomID+"/upload", strings.NewReader("hello"))
		req.Header.Set("X-Password", "abcd")
		req.Header.Set("X-Filename", "test.txt")
		resp, err = client.Do(req)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		resp.Body.Close()

		req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/room/"+created.RoomID+"/download/test.txt", nil)
		req.Header.Set("X-Password", "abcd")
		resp, err = client.Do(req)
		if err != nil {
			t.Fatalf("Download failed: %v", err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if string(data) != "hello" {
			t.Fatalf("Downloaded content mismatch: %q", data)
		}
	})
}

// setupTestServer initializes a test server with local storage.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	roomsBackend, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	sharedBackend, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	cfg := rooms.DefaultConfig()
	cfg.BcryptCost = 4
	registry := rooms.NewRegistry(roomsBackend, cfg)
	t.Cleanup(registry.Close)

	s := server.New(server.Config{
		Addr:   ":0",
		Build:  server.BuildInfo{Version: "integration"},
		Rooms:  registry,
		Shared: storage.NewFolder(sharedBackend, ""),
		Probes: map[string]server.Pinger{"rooms_storage": roomsBackend, "shared_storage": sharedBackend},
	})
	t.Cleanup(s.Close)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}
