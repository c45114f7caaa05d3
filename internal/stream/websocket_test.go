package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozaktomas/facepay/internal/inference"
)

type oneFaceDetector struct{}

func (oneFaceDetector) Detect(context.Context, image.Image) ([]inference.Detection, error) {
	return []inference.Detection{{BBox: inference.BBox{X: 2, Y: 2, Width: 8, Height: 8}, Confidence: 0.93}}, nil
}

type fixedEmbedder struct{ embedding []float32 }

func (f fixedEmbedder) Embed(context.Context, image.Image, inference.BBox) ([]float32, error) {
	return f.embedding, nil
}

type pipeline struct {
	sessions   *Manager
	scheduler  *inference.Scheduler
	dispatcher *Dispatcher
	server     *httptest.Server
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	return newPipelineWithLimit(t, 1<<20)
}

// newPipelineWithLimit wires the handler the way serve does for the given frame limit.
func newPipelineWithLimit(t *testing.T, maxFrameBytes int) *pipeline {
	t.Helper()

	query := make([]float32, 8)
	query[0], query[1] = 0.99, 0.01

	sessions := NewManager(32, nil)
	scheduler := inference.NewScheduler(oneFaceDetector{}, fixedEmbedder{embedding: query},
		inference.SchedulerOptions{Workers: 2, QueueSize: 4, MinDetectionConfidence: 0.5})
	dispatcher := NewDispatcher(sessions, newTestMatcher(t), DispatcherOptions{})
	ingestor := NewIngestor(sessions, scheduler, dispatcher, maxFrameBytes, nil)
	handler := NewHandler(sessions, ingestor, dispatcher, HandlerOptions{
		WriteTimeout:    time.Second,
		PingInterval:    time.Second,
		MaxMessageBytes: MessageLimit(maxFrameBytes),
	})

	p := &pipeline{
		sessions:   sessions,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		server:     httptest.NewServer(handler),
	}
	t.Cleanup(func() {
		p.server.Close()
		p.scheduler.Stop()
	})
	return p
}

func (p *pipeline) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(p.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func expectType(t *testing.T, msg map[string]any, want string) {
	t.Helper()
	if msg["type"] != want {
		t.Fatalf("expected %s, got %v", want, msg)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestWebsocket_FullSession(t *testing.T) {
	p := newPipeline(t)
	conn := p.dial(t)
	frame := encodedFrame(t)

	hello := readMessage(t, conn)
	expectType(t, hello, TypeConnectionEstablished)
	if id, _ := hello["client_id"].(string); id == "" {
		t.Fatalf("greeting without client id: %v", hello)
	}

	// Detection disabled: the frame produces nothing, so the toggle ack is next.
	send(t, conn, map[string]any{"type": TypeVideoFrame, "frame_data": frame})
	send(t, conn, map[string]any{"type": TypeToggleFaceDetection, "enabled": true})
	ack := readMessage(t, conn)
	expectType(t, ack, TypeFaceDetectionToggled)
	if ack["enabled"] != true {
		t.Fatalf("expected enabled ack, got %v", ack)
	}

	// Malformed frame: error, connection stays open.
	send(t, conn, map[string]any{"type": TypeVideoFrame, "frame_data": "not-a-frame"})
	expectType(t, readMessage(t, conn), TypeError)

	// Valid frame: detection result, then the match.
	send(t, conn, map[string]any{"type": TypeVideoFrame, "frame_data": frame})
	det := readMessage(t, conn)
	expectType(t, det, TypeFaceDetectionResult)
	if det["faces_detected"] != float64(1) || det["embeddings_count"] != float64(1) {
		t.Fatalf("unexpected detection result %v", det)
	}
	faces := det["faces"].([]any)
	face := faces[0].(map[string]any)
	if face["has_embedding"] != true {
		t.Errorf("expected embedded face, got %v", face)
	}
	if bbox := face["bbox"].([]any); len(bbox) != 4 || bbox[2] != float64(8) {
		t.Errorf("unexpected bbox %v", bbox)
	}

	match := readMessage(t, conn)
	expectType(t, match, TypeFaceMatchResult)
	if match["matched"] != true || match["user_id"] != "u1" {
		t.Fatalf("expected match for u1, got %v", match)
	}

	// Cache clear is acknowledged; afterwards the same face no longer matches.
	send(t, conn, map[string]any{"type": TypeClearFaceCache})
	expectType(t, readMessage(t, conn), TypeFaceCacheCleared)

	send(t, conn, map[string]any{"type": TypeMatchFace, "embedding": []float32{1, 0, 0, 0, 0, 0, 0, 0}})
	miss := readMessage(t, conn)
	expectType(t, miss, TypeFaceMatchResult)
	if miss["matched"] != false {
		t.Errorf("expected no match after clear, got %v", miss)
	}

	send(t, conn, map[string]any{"type": "dance"})
	expectType(t, readMessage(t, conn), TypeError)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	expectType(t, readMessage(t, conn), TypeError)
}

func TestWebsocket_ToggleOffStopsResults(t *testing.T) {
	p := newPipeline(t)
	conn := p.dial(t)
	frame := encodedFrame(t)
	expectType(t, readMessage(t, conn), TypeConnectionEstablished)

	send(t, conn, map[string]any{"type": TypeToggleFaceDetection, "enabled": true})
	expectType(t, readMessage(t, conn), TypeFaceDetectionToggled)
	send(t, conn, map[string]any{"type": TypeToggleFaceDetection, "enabled": false})
	expectType(t, readMessage(t, conn), TypeFaceDetectionToggled)

	for range 3 {
		send(t, conn, map[string]any{"type": TypeVideoFrame, "frame_data": frame})
	}
	send(t, conn, map[string]any{"type": TypeToggleFaceDetection, "enabled": true})
	expectType(t, readMessage(t, conn), TypeFaceDetectionToggled)

	send(t, conn, map[string]any{"type": TypeVideoFrame, "frame_data": frame})
	expectType(t, readMessage(t, conn), TypeFaceDetectionResult)
}

func TestWebsocket_DisconnectClosesSession(t *testing.T) {
	p := newPipeline(t)
	conn := p.dial(t)
	expectType(t, readMessage(t, conn), TypeConnectionEstablished)

	if p.sessions.Count() != 1 {
		t.Fatalf("expected 1 open session, got %d", p.sessions.Count())
	}
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for p.sessions.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not closed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// noisyFrame returns a base64 PNG well above 4 KiB.
func noisyFrame(t *testing.T) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{uint8(rng.Uint32()), uint8(rng.Uint32()), uint8(rng.Uint32()), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestWebsocket_OversizedFrameKeepsConnection(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		// Rejected by the ingestor's frame limit.
		{"AboveFrameLimit", strings.Repeat("A", 2048)},
		// Larger than the whole message limit, discarded by the transport.
		{"AboveMessageLimit", strings.Repeat("A", 64<<10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipelineWithLimit(t, 1024)
			conn := p.dial(t)
			expectType(t, readMessage(t, conn), TypeConnectionEstablished)
			send(t, conn, map[string]any{"type": TypeToggleFaceDetection, "enabled": true})
			expectType(t, readMessage(t, conn), TypeFaceDetectionToggled)

			send(t, conn, map[string]any{"type": TypeVideoFrame, "frame_data": tt.payload})
			expectType(t, readMessage(t, conn), TypeError)

			send(t, conn, map[string]any{"type": TypeVideoFrame, "frame_data": encodedFrame(t)})
			expectType(t, readMessage(t, conn), TypeFaceDetectionResult)
			if p.sessions.Count() != 1 {
				t.Errorf("expected the session to stay open, got %d sessions", p.sessions.Count())
			}
		})
	}
}

func TestWebsocket_UnlimitedFrameSize(t *testing.T) {
	p := newPipelineWithLimit(t, 0)
	conn := p.dial(t)
	expectType(t, readMessage(t, conn), TypeConnectionEstablished)
	send(t, conn, map[string]any{"type": TypeToggleFaceDetection, "enabled": true})
	expectType(t, readMessage(t, conn), TypeFaceDetectionToggled)

	frame := noisyFrame(t)
	if len(frame) <= messageEnvelopeBytes {
		t.Fatalf("test frame too small: %d bytes", len(frame))
	}
	send(t, conn, map[string]any{"type": TypeVideoFrame, "frame_data": frame})
	expectType(t, readMessage(t, conn), TypeFaceDetectionResult)
}

func TestMessageLimit(t *testing.T) {
	if got := MessageLimit(0); got != 0 {
		t.Errorf("MessageLimit(0) = %d, want 0", got)
	}
	if got := MessageLimit(1024); got != 1024+messageEnvelopeBytes {
		t.Errorf("MessageLimit(1024) = %d, want %d", got, 1024+messageEnvelopeBytes)
	}
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Errorf("expected hello, got %q, %v", data, err)
	}

	r := strings.NewReader("hello world")
	if _, err := readLimited(r, 5); !errors.Is(err, errMessageTooLarge) {
		t.Errorf("expected errMessageTooLarge, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("expected the oversized message to be drained, %d bytes left", r.Len())
	}

	data, err = readLimited(strings.NewReader("no limit"), 0)
	if err != nil || string(data) != "no limit" {
		t.Errorf("expected full message without limit, got %q, %v", data, err)
	}
}
