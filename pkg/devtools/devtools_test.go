package devtools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/fiber"
	"github.com/vango-dev/weft/pkg/surface"
	"github.com/vango-dev/weft/pkg/template"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	srv   *Server
	ts    *httptest.Server
	sched *fiber.Scheduler
	state map[string]any
}

func setup(t *testing.T) *fixture {
	t.Helper()
	metrics := prometheus.NewRegistry()
	reg := template.NewRegistry()
	if err := reg.Add("greeting", `<p>Hello <t-esc name/></p>`); err != nil {
		t.Fatal(err)
	}
	doc := surface.New()
	sched := fiber.New(doc, reg,
		fiber.WithLogger(discard),
		fiber.WithMetrics(fiber.WithRegistry(metrics)),
		fiber.WithFrameInterval(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	state := map[string]any{"name": "Alex"}
	def := &component.Definition{
		Name:     "Greeting",
		Template: "greeting",
		Setup: func(context.Context, map[string]any, component.Env) (any, error) {
			return state, nil
		},
	}
	var fut *fiber.Future
	if err := sched.Do(ctx, func() {
		_, fut = sched.Mount(def, doc.Target(doc.Body()), nil)
	}); err != nil {
		t.Fatal(err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := fut.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}

	srv := New(sched, WithLogger(discard), WithGatherer(metrics))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		cancel()
		<-done
	})
	return &fixture{srv: srv, ts: ts, sched: sched, state: state}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func postState(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/state", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, out
}

func TestSurface(t *testing.T) {
	f := setup(t)

	code, body := get(t, f.ts.URL+"/")
	if code != http.StatusOK || body != "<p>Hello Alex</p>" {
		t.Errorf("GET / = %d %q", code, body)
	}
	code, body = get(t, f.ts.URL+"/?selector=p")
	if code != http.StatusOK || body != "<p>Hello Alex</p>" {
		t.Errorf("GET /?selector=p = %d %q", code, body)
	}
	if code, _ = get(t, f.ts.URL+"/?selector=p["); code != http.StatusBadRequest {
		t.Errorf("bad selector status = %d", code)
	}
}

func TestTemplates(t *testing.T) {
	f := setup(t)
	_, body := get(t, f.ts.URL+"/templates")
	var out struct {
		Templates []string `json:"templates"`
		Parses    int64    `json:"parses"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"greeting"}, out.Templates); diff != "" {
		t.Errorf("templates (-want +got):\n%s", diff)
	}
	if out.Parses != 1 {
		t.Errorf("parses = %d, want 1", out.Parses)
	}
}

func TestTree(t *testing.T) {
	f := setup(t)
	_, body := get(t, f.ts.URL+"/tree")
	if !strings.Contains(body, "Greeting#") || !strings.Contains(body, "[mounted]") {
		t.Errorf("tree = %q", body)
	}

	_, body = get(t, f.ts.URL+"/tree?format=json")
	var units []fiber.UnitInfo
	if err := json.Unmarshal([]byte(body), &units); err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || units[0].Name != "Greeting" || units[0].Status != "mounted" {
		t.Errorf("units = %+v", units)
	}
}

func TestStateReplace(t *testing.T) {
	f := setup(t)

	code, out := postState(t, f.ts.URL, `{"name": "Lyra"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d: %v", code, out)
	}
	if out["html"] != "<p>Hello Lyra</p>" {
		t.Errorf("html = %v", out["html"])
	}

	if code, _ = postState(t, f.ts.URL, `[1, 2]`); code != http.StatusBadRequest {
		t.Errorf("array body status = %d", code)
	}
	resp, err := http.Post(f.ts.URL+"/state?unit=999999", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown unit status = %d", resp.StatusCode)
	}
}

func TestMetrics(t *testing.T) {
	f := setup(t)
	_, body := get(t, f.ts.URL+"/metrics")
	for _, want := range []string{
		`weft_scheduler_commits_total{mode="mount"} 1`,
		"weft_scheduler_renders_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMutationStream(t *testing.T) {
	f := setup(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for f.srv.Stream().ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if code, out := postState(t, f.ts.URL, `{"name": "Lyra"}`); code != http.StatusOK {
		t.Fatalf("status = %d: %v", code, out)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg MutationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Op == "SetText" {
			if msg.Value != "Lyra" || msg.Node != "#text" || msg.Seq == 0 {
				t.Errorf("message = %+v", msg)
			}
			return
		}
	}
}
