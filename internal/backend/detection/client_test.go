package detection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempImage(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write temp image: %v", err)
	}
	return path
}

func modelServer(t *testing.T, status int, body string) (*httptest.Server, *[]byte) {
	t.Helper()
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart field 'file': %v", err)
		} else {
			defer file.Close()
			if header.Filename != "a.jpg" {
				t.Errorf("expected filename a.jpg, got %s", header.Filename)
			}
			received, _ = io.ReadAll(file)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &received
}

func TestClient_Detect(t *testing.T) {
	server, received := modelServer(t, http.StatusOK,
		`{"detections":[{"confidence":0.9,"label":0,"x1":10,"y1":10,"x2":50,"y2":50},{"confidence":0.4,"label":2,"x1":1,"y1":2,"x2":3,"y2":4}]}`)
	path := writeTempImage(t, "a.jpg", []byte("raw image bytes"))

	client := NewClient(server.URL, "", time.Second)
	detections, err := client.Detect(context.Background(), path)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if string(*received) != "raw image bytes" {
		t.Errorf("model received %q", string(*received))
	}
	if len(detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(detections))
	}
	first := detections[0]
	if first.Label == nil || *first.Label != "Car" {
		t.Errorf("expected label Car, got %v", first.Label)
	}
	if *first.Confidence != 0.9 || *first.X1 != 10 || *first.Y2 != 50 {
		t.Errorf("unexpected first detection values: %+v", first)
	}
	if detections[1].Label == nil || *detections[1].Label != "Bus" {
		t.Errorf("expected label Bus, got %v", detections[1].Label)
	}
}

func TestClient_Detect_PartialEntriesPassThrough(t *testing.T) {
	server, _ := modelServer(t, http.StatusOK,
		`{"detections":[{"confidence":0.7,"label":9,"x1":1,"y1":2,"x2":3,"y2":4},{"label":"car","x1":5},{}]}`)
	path := writeTempImage(t, "a.jpg", []byte("x"))

	detections, err := NewClient(server.URL, "", time.Second).Detect(context.Background(), path)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 3 {
		t.Fatalf("expected 3 detections, got %d", len(detections))
	}
	if detections[0].Label != nil {
		t.Errorf("unknown class id should yield nil label, got %q", *detections[0].Label)
	}
	if detections[1].Label != nil {
		t.Errorf("non-integer label should yield nil label, got %q", *detections[1].Label)
	}
	if detections[1].X1 == nil || *detections[1].X1 != 5 || detections[1].Y1 != nil {
		t.Errorf("expected only x1 set, got %+v", detections[1])
	}
	if detections[2].HasBox() || detections[2].Confidence != nil {
		t.Errorf("expected empty detection, got %+v", detections[2])
	}
}

func TestClient_Detect_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing key", `{"boxes":[]}`},
		{"not json", `<html>oops</html>`},
		{"array body", `[1,2,3]`},
		{"null detections", `{"detections":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := modelServer(t, http.StatusOK, tt.body)
			path := writeTempImage(t, "a.jpg", []byte("x"))

			_, err := NewClient(server.URL, "", time.Second).Detect(context.Background(), path)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestClient_Detect_EmptyDetections(t *testing.T) {
	server, _ := modelServer(t, http.StatusOK, `{"detections":[]}`)
	path := writeTempImage(t, "a.jpg", []byte("x"))

	detections, err := NewClient(server.URL, "", time.Second).Detect(context.Background(), path)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if detections == nil || len(detections) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", detections)
	}
}

func TestClient_Detect_ServerError(t *testing.T) {
	server, _ := modelServer(t, http.StatusInternalServerError, `{"error":"boom"}`)
	path := writeTempImage(t, "a.jpg", []byte("x"))

	_, err := NewClient(server.URL, "", time.Second).Detect(context.Background(), path)
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Error("a server error should not be reported as malformed response")
	}
}

func TestClient_Detect_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"detections":[]}`))
	}))
	t.Cleanup(server.Close)
	path := writeTempImage(t, "a.jpg", []byte("x"))

	_, err := NewClient(server.URL, "", 20*time.Millisecond).Detect(context.Background(), path)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestClient_Detect_MissingFile(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "", time.Second).Detect(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
