package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakeOBS struct {
	password  string
	challenge string
	salt      string

	mu       sync.Mutex
	requests []request
	fail     map[string]bool
}

func (f *fakeOBS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ctx := r.Context()

	h := map[string]any{"obsWebSocketVersion": "5.0.0", "rpcVersion": 1}
	if f.password != "" {
		h["authentication"] = map[string]string{"challenge": f.challenge, "salt": f.salt}
	}
	if err := wsjson.Write(ctx, conn, outgoing{Op: opHello, D: h}); err != nil {
		return
	}

	var env envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil || env.Op != opIdentify {
		return
	}
	var id identify
	_ = json.Unmarshal(env.D, &id)
	if f.password != "" && id.Authentication != authString(f.password, f.salt, f.challenge) {
		conn.Close(websocket.StatusCode(4009), "authentication failed")
		return
	}
	if err := wsjson.Write(ctx, conn, outgoing{Op: opIdentified, D: map[string]int{"negotiatedRpcVersion": 1}}); err != nil {
		return
	}

	for {
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}
		var req struct {
			RequestType string          `json:"requestType"`
			RequestID   string          `json:"requestId"`
			RequestData json.RawMessage `json:"requestData"`
		}
		_ = json.Unmarshal(env.D, &req)

		var data any
		if len(req.RequestData) > 0 {
			var m map[string]any
			_ = json.Unmarshal(req.RequestData, &m)
			data = m
		}
		f.mu.Lock()
		f.requests = append(f.requests, request{RequestType: req.RequestType, RequestID: req.RequestID, RequestData: data})
		failing := f.fail[req.RequestType]
		f.mu.Unlock()

		resp := map[string]any{
			"requestType":   req.RequestType,
			"requestId":     req.RequestID,
			"requestStatus": map[string]any{"result": true, "code": 100},
		}
		switch {
		case failing:
			resp["requestStatus"] = map[string]any{"result": false, "code": 600, "comment": "No source was found"}
		case req.RequestType == "GetCurrentProgramScene":
			resp["responseData"] = map[string]any{"currentProgramSceneName": "Main"}
		case req.RequestType == "GetSceneItemId":
			resp["responseData"] = map[string]any{"sceneItemId": 12}
		}
		// An unrelated event must not confuse response routing.
		_ = wsjson.Write(ctx, conn, outgoing{Op: opEvent, D: map[string]any{"eventType": "SceneItemEnableStateChanged"}})
		if err := wsjson.Write(ctx, conn, outgoing{Op: opRequestResponse, D: resp}); err != nil {
			return
		}
	}
}

func (f *fakeOBS) snapshot() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

func startFake(t *testing.T, f *fakeOBS) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAuthString(t *testing.T) {
	got := authString("supersecretpassword", "lM1GncleQOaCu9lT1yeUZhFYnqhsLLP1G5lAGo3ixaI=", "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY=")
	if got != "1Ct943GAT+6YQUUX47Ia/ncufilbe6+oD6lY+5kaCu4=" {
		t.Fatalf("unexpected auth string %q", got)
	}
}

func TestSurfaceRequests(t *testing.T) {
	f := &fakeOBS{password: "hunter2", challenge: "abc", salt: "xyz"}
	c := New(Config{Addr: startFake(t, f), Password: "hunter2"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	if !c.Connected() {
		t.Fatalf("expected connected client")
	}

	if err := c.SetTextContent(ctx, "banner", "hello"); err != nil {
		t.Fatalf("text: %v", err)
	}
	if err := c.SetBrowsableContentURL(ctx, "browser", "https://x.test/?a=1"); err != nil {
		t.Fatalf("url: %v", err)
	}
	if err := c.SetMediaContent(ctx, "clip", "/tmp/a.mp4"); err != nil {
		t.Fatalf("media: %v", err)
	}
	if err := c.SetFilterVisibility(ctx, "cam", "blur", true); err != nil {
		t.Fatalf("filter: %v", err)
	}
	if err := c.SetElementVisibility(ctx, "banner", false); err != nil {
		t.Fatalf("visibility: %v", err)
	}

	reqs := f.snapshot()
	wantTypes := []string{
		"SetInputSettings", "SetInputSettings", "SetInputSettings",
		"SetSourceFilterEnabled",
		"GetCurrentProgramScene", "GetSceneItemId", "SetSceneItemEnabled",
	}
	if len(reqs) != len(wantTypes) {
		t.Fatalf("expected %d requests, got %d", len(wantTypes), len(reqs))
	}
	for i, want := range wantTypes {
		if reqs[i].RequestType != want {
			t.Fatalf("request %d: expected %s, got %s", i, want, reqs[i].RequestType)
		}
	}

	settings := reqs[0].RequestData.(map[string]any)["inputSettings"].(map[string]any)
	if settings["text"] != "hello" {
		t.Fatalf("unexpected text settings %v", settings)
	}
	media := reqs[2].RequestData.(map[string]any)["inputSettings"].(map[string]any)
	if media["local_file"] != "/tmp/a.mp4" {
		t.Fatalf("unexpected media settings %v", media)
	}
	enable := reqs[6].RequestData.(map[string]any)
	if enable["sceneName"] != "Main" || enable["sceneItemId"] != float64(12) || enable["sceneItemEnabled"] != false {
		t.Fatalf("unexpected SetSceneItemEnabled payload %v", enable)
	}
}

func TestRequestFailure(t *testing.T) {
	f := &fakeOBS{fail: map[string]bool{"SetSourceFilterEnabled": true}}
	c := New(Config{Addr: startFake(t, f)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	err := c.SetFilterVisibility(ctx, "cam", "missing", true)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Code != 600 {
		t.Fatalf("expected request error with code 600, got %v", err)
	}
}

func TestWrongPassword(t *testing.T) {
	f := &fakeOBS{password: "right", challenge: "c", salt: "s"}
	c := New(Config{Addr: startFake(t, f), Password: "wrong"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatalf("expected handshake failure")
	}
	if c.Connected() {
		t.Fatalf("client should not be connected")
	}
}

func TestCallWithoutSession(t *testing.T) {
	c := New(Config{Addr: "ws://127.0.0.1:1"})
	if err := c.SetTextContent(context.Background(), "x", "y"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
