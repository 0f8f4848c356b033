package hub_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"
	_ "modernc.org/sqlite"

	"github.com/jmtrans/freightboard/blob"
	"github.com/jmtrans/freightboard/creds"
	"github.com/jmtrans/freightboard/dbopen"
	"github.com/jmtrans/freightboard/hub"
	"github.com/jmtrans/freightboard/request"
	"github.com/jmtrans/freightboard/settings"
	"github.com/jmtrans/freightboard/vehstatus"
)

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	hub    *hub.Hub
	store  *request.Store
	appCfg *settings.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(request.Schema),
		dbopen.WithSchema(vehstatus.Schema),
		dbopen.WithSchema(creds.Schema),
		dbopen.WithSchema(settings.Schema))
	store := request.NewStore(db)
	engine := vehstatus.New(db, store)
	users := creds.NewService(db)
	blobs := blob.NewStore(t.TempDir())
	appCfg := settings.NewStore(db)

	h := hub.New(store, engine, users, blobs, appCfg)

	r := chi.NewRouter()
	r.Handle("/ws", h.Handler())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{t: t, srv: srv, hub: h, store: store, appCfg: appCfg}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (ts *testServer) dial() *client {
	ts.t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	ws, err := websocket.Dial(url, "", "http://localhost/")
	if err != nil {
		ts.t.Fatalf("dial: %v", err)
	}
	ts.t.Cleanup(func() { ws.Close() })
	return &client{t: ts.t, ws: ws}
}

func (c *client) send(v map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := websocket.Message.Send(c.ws, string(data)); err != nil {
		c.t.Fatalf("send: %v", err)
	}
}

func (c *client) recv() map[string]any {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var raw string
	if err := websocket.Message.Receive(c.ws, &raw); err != nil {
		c.t.Fatalf("receive: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.t.Fatalf("decode %q: %v", raw, err)
	}
	return msg
}

// waitFor reads messages until one with the given action arrives.
func (c *client) waitFor(action string) map[string]any {
	c.t.Helper()
	for range 20 {
		msg := c.recv()
		if msg["action"] == action {
			return msg
		}
	}
	c.t.Fatalf("no %q message received", action)
	return nil
}

func TestEndToEndRequestLifecycle(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial()
	b := ts.dial()

	a.send(map[string]any{
		"action": "add_request",
		"data": map[string]any{
			"customer":      "JM Trans",
			"drivers":       []any{map[string]any{"stateNumber": "ab123cd"}},
			"loading_dates": []any{map[string]any{"date": "2024-01-05"}},
		},
	})

	ackMsg := a.waitFor("new_request")
	if ackMsg["status"] != "success" {
		t.Fatalf("add ack = %v", ackMsg)
	}
	saved := ackMsg["data"].(map[string]any)
	rid := saved["id"].(float64)
	if rid <= 0 {
		t.Fatalf("assigned id = %v", rid)
	}

	// Originator is excluded from the new_request broadcast but still gets
	// the statuses snapshot.
	bcast := b.waitFor("new_request")
	if _, hasStatus := bcast["status"]; hasStatus {
		t.Fatalf("broadcast carries ack status: %v", bcast)
	}

	sync := b.waitFor("statuses_sync")
	rows := sync["data"].([]any)
	if len(rows) != 1 {
		t.Fatalf("statuses rows = %v", rows)
	}
	row := rows[0].(map[string]any)
	if row["vehicle_number"] != "AB123CD" {
		t.Errorf("vehicle_number = %v, want AB123CD", row["vehicle_number"])
	}
	if row["load_date"] != "2024-01-05" {
		t.Errorf("load_date = %v, want 2024-01-05", row["load_date"])
	}
	a.waitFor("statuses_sync")

	// Toggling the only vehicle unloaded closes the request.
	a.send(map[string]any{
		"action":         "statuses_toggle_unloaded",
		"request_id":     rid,
		"vehicle_number": "ab123cd",
		"unloaded":       true,
		"unload_date":    "2024-01-07",
	})

	if msg := a.waitFor("statuses_toggle_unloaded"); msg["status"] != "success" {
		t.Fatalf("toggle ack = %v", msg)
	}
	updated := b.waitFor("request_updated")
	doc := updated["data"].(map[string]any)
	if doc["status"] != "closed" {
		t.Fatalf("request status = %v, want closed", doc["status"])
	}

	sync = b.waitFor("statuses_sync")
	row = sync["data"].([]any)[0].(map[string]any)
	if row["unloaded"] != true || row["unload_date"] != "2024-01-07" {
		t.Fatalf("row after toggle = %v", row)
	}

	stored, err := ts.store.Get(int64(rid))
	if err != nil {
		t.Fatal(err)
	}
	if stored["status"] != "closed" {
		t.Fatalf("stored status = %v, want closed", stored["status"])
	}
}

func TestUnknownActionKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial()

	c.send(map[string]any{"action": "fly_to_the_moon"})
	if msg := c.waitFor("error"); msg["status"] != "error" {
		t.Fatalf("error reply = %v", msg)
	}

	c.send(map[string]any{"action": "ping"})
	c.waitFor("pong")
}

func TestUnparseableMessageKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial()

	if err := websocket.Message.Send(c.ws, "this is not json"); err != nil {
		t.Fatal(err)
	}
	c.waitFor("error")

	c.send(map[string]any{"action": "ping"})
	c.waitFor("pong")
}

func TestServerStatusIncludesSettings(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.appCfg.Save("board_title", "JM Trans"); err != nil {
		t.Fatal(err)
	}

	c := ts.dial()
	c.send(map[string]any{"action": "server_status"})
	msg := c.waitFor("server_status")
	if msg["status"] != "running" {
		t.Fatalf("status = %v", msg["status"])
	}
	cfg, _ := msg["settings"].(map[string]any)
	if cfg["board_title"] != "JM Trans" {
		t.Fatalf("settings = %v", msg["settings"])
	}
}

func TestEditRequestNotFound(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial()

	c.send(map[string]any{
		"action": "edit_request",
		"id":     424242,
		"data":   map[string]any{"customer": "ghost"},
	})
	msg := c.waitFor("edit_request")
	if msg["status"] != "fail" {
		t.Fatalf("edit ack = %v, want fail", msg)
	}

	docs, err := ts.store.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Fatalf("edit of missing id created a row: %v", docs)
	}
}

func TestConcurrentEditLastWriteWins(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial()
	b := ts.dial()

	saved, err := ts.store.Save(request.Document{"customer": "origin"})
	if err != nil {
		t.Fatal(err)
	}
	rid, _ := saved.ID()

	a.send(map[string]any{"action": "edit_request", "id": rid, "data": map[string]any{"customer": "from-a"}})
	b.send(map[string]any{"action": "edit_request", "id": rid, "data": map[string]any{"customer": "from-b"}})

	a.waitFor("edit_request")
	b.waitFor("edit_request")

	// Both connections see a request_updated broadcast; the store holds
	// exactly one of the two edits.
	ua := a.waitFor("request_updated")["data"].(map[string]any)
	ub := b.waitFor("request_updated")["data"].(map[string]any)

	final, err := ts.store.Get(rid)
	if err != nil {
		t.Fatal(err)
	}
	got := final["customer"]
	if got != "from-a" && got != "from-b" {
		t.Fatalf("final customer = %v", got)
	}
	if ua["customer"] == nil || ub["customer"] == nil {
		t.Fatalf("broadcasts missing data: %v / %v", ua, ub)
	}
}

func TestDeleteRequestBroadcastsTriggerSync(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial()
	b := ts.dial()

	saved, err := ts.store.Save(request.Document{"customer": "to-delete"})
	if err != nil {
		t.Fatal(err)
	}
	rid, _ := saved.ID()

	a.send(map[string]any{"action": "delete_request", "id": rid})
	if msg := a.waitFor("response"); msg["status"] != "success" {
		t.Fatalf("delete ack = %v", msg)
	}
	b.waitFor("trigger_sync")

	if n, _ := ts.store.Count(); n != 0 {
		t.Fatalf("request still stored, count = %d", n)
	}
}

func TestSyncAll(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial()

	for _, name := range []string{"one", "two"} {
		if _, err := ts.store.Save(request.Document{"customer": name}); err != nil {
			t.Fatal(err)
		}
	}

	c.send(map[string]any{"action": "sync_all"})
	msg := c.waitFor("sync_all")
	if docs := msg["data"].([]any); len(docs) != 2 {
		t.Fatalf("sync_all data = %v", docs)
	}
}

func TestRegisterAndAuth(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial()

	c.send(map[string]any{"action": "register", "username": "nino", "password": "pw123", "role": "admin"})
	if msg := c.waitFor("register"); msg["status"] != "success" {
		t.Fatalf("register = %v", msg)
	}

	c.send(map[string]any{"action": "register", "username": "nino", "password": "other"})
	if msg := c.waitFor("register"); msg["status"] != "fail" {
		t.Fatalf("duplicate register = %v", msg)
	}

	c.send(map[string]any{"action": "auth", "username": "nino", "password": "pw123"})
	msg := c.waitFor("auth")
	if msg["status"] != "success" || msg["role"] != "admin" {
		t.Fatalf("auth = %v", msg)
	}
	if tok, _ := msg["session_token"].(string); tok == "" {
		t.Fatal("no session token issued")
	}

	c.send(map[string]any{"action": "auth", "username": "nino", "password": "wrong"})
	if msg := c.waitFor("auth"); msg["status"] != "fail" {
		t.Fatalf("bad auth = %v", msg)
	}
}

func TestUploadDownloadRoundtrip(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial()

	saved, err := ts.store.Save(request.Document{"customer": "files"})
	if err != nil {
		t.Fatal(err)
	}
	rid, _ := saved.ID()

	c.send(map[string]any{
		"action":         "upload_file",
		"request_id":     rid,
		"filename":       "cmr.pdf",
		"content_base64": "cGRmLWJ5dGVz", // "pdf-bytes"
	})
	msg := c.waitFor("upload_file")
	if msg["status"] != "ok" {
		t.Fatalf("upload = %v", msg)
	}
	file := msg["file"].(map[string]any)
	if file["url"] == "" {
		t.Fatalf("no url in %v", file)
	}

	c.send(map[string]any{"action": "download_file", "task_id": rid, "filename": "cmr.pdf"})
	msg = c.waitFor("download_file")
	if msg["filedata"] != "cGRmLWJ5dGVz" {
		t.Fatalf("download = %v", msg)
	}

	c.send(map[string]any{"action": "download_file", "task_id": rid, "filename": "nope.pdf"})
	msg = c.waitFor("download_file")
	if msg["filedata"] != nil {
		t.Fatalf("missing file download = %v", msg)
	}
}

func TestAddCommentBroadcasts(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial()
	b := ts.dial()

	saved, err := ts.store.Save(request.Document{"customer": "comments"})
	if err != nil {
		t.Fatal(err)
	}
	rid, _ := saved.ID()

	a.send(map[string]any{"action": "add_comment", "task_id": rid, "comment": "груз на границе"})
	if msg := a.waitFor("add_comment"); msg["status"] != "success" {
		t.Fatalf("comment ack = %v", msg)
	}
	if msg := b.waitFor("add_comment"); msg["comment"] != "груз на границе" {
		t.Fatalf("comment broadcast = %v", msg)
	}

	doc, err := ts.store.Get(rid)
	if err != nil {
		t.Fatal(err)
	}
	comments := doc["comments"].([]any)
	if len(comments) != 1 || comments[0] != "груз на границе" {
		t.Fatalf("stored comments = %v", comments)
	}
}

func TestLogoutClosesConnection(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial()

	c.send(map[string]any{"action": "logout"})
	c.waitFor("logout")

	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw string
	if err := websocket.Message.Receive(c.ws, &raw); err == nil {
		t.Fatalf("connection still open, received %q", raw)
	}
}
