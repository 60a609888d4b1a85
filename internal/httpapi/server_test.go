package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rikseotools/vence-sub014/internal/auth"
	"github.com/rikseotools/vence-sub014/internal/bus"
	"github.com/rikseotools/vence-sub014/internal/config"
	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/directory"
	"github.com/rikseotools/vence-sub014/internal/dispatch"
	"github.com/rikseotools/vence-sub014/internal/monitor"
	"github.com/rikseotools/vence-sub014/internal/sessioncrypt"
	"github.com/rikseotools/vence-sub014/internal/status"
	"github.com/rikseotools/vence-sub014/internal/store"
	"github.com/rikseotools/vence-sub014/internal/tg"
	"github.com/rikseotools/vence-sub014/internal/tg/tgtest"
	"go.uber.org/zap"
)

type env struct {
	srv    *Server
	fc     *tgtest.FakeConn
	dialer *tgtest.FakeDialer
	db     *store.DB
	mon    *monitor.Monitor
	cm     *conn.Manager
	codec  *sessioncrypt.Codec
	body   map[string]any
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fc := &tgtest.FakeConn{}
	dialer := &tgtest.FakeDialer{NextConn: fc}
	cm := conn.NewManager(dialer, zap.NewNop())

	db, err := store.Open(filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	codec, err := sessioncrypt.New("test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	b := bus.New()
	machine := status.NewMachine(b)
	if err := machine.Transition(status.AuthRequired); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	flow := auth.NewFlow(cm, codec, auth.NewPendingAuth(), db, machine, b, zap.NewNop())
	mon := monitor.New(cm, b, zap.NewNop())
	disp := dispatch.New(cm, db, zap.NewNop())
	dir := directory.New(cm, zap.NewNop())

	cfg := config.Default()
	srv := New(Params{
		Flow:       flow,
		Conns:      cm,
		Machine:    machine,
		Directory:  dir,
		Monitor:    mon,
		Dispatcher: disp,
		DB:         db,
		Config:     cfg,
		Logger:     zap.NewNop(),
	})
	return &env{srv: srv, fc: fc, dialer: dialer, db: db, mon: mon, cm: cm, codec: codec}
}

func (e *env) connect(t *testing.T) {
	t.Helper()
	if _, err := e.cm.Connect(context.Background(), "session"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	e.body = nil
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &e.body)
	}
	return w
}

func TestSendCodeAndSignIn(t *testing.T) {
	e := newEnv(t)
	e.fc.SendCodeFunc = func(ctx context.Context, phone string) (*tg.SentCode, error) {
		return &tg.SentCode{PhoneCodeHash: "hash-1"}, nil
	}
	e.fc.SignInFunc = func(ctx context.Context, phone, code, codeHash string) (*tg.User, error) {
		if code != "12345" || codeHash != "hash-1" {
			t.Errorf("sign-in got code=%q hash=%q", code, codeHash)
		}
		return &tg.User{ID: 9, FirstName: "Ana", Username: "ana"}, nil
	}
	e.fc.ExportSessionFunc = func(ctx context.Context) (string, error) {
		return "raw-session", nil
	}

	w := e.do(t, http.MethodPost, "/api/auth/send-code", map[string]string{"phone": "+34600111222"})
	if w.Code != http.StatusOK {
		t.Fatalf("send-code status %d: %s", w.Code, w.Body)
	}
	if e.body["code_hash"] != "hash-1" {
		t.Fatalf("body: %v", e.body)
	}

	w = e.do(t, http.MethodPost, "/api/auth/sign-in", map[string]string{
		"phone": "+34600111222",
		"code":  "12345",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("sign-in status %d: %s", w.Code, w.Body)
	}
	if e.body["signed_in"] != true {
		t.Fatalf("body: %v", e.body)
	}

	cred, err := e.db.LatestCredential()
	if err != nil || cred == nil {
		t.Fatalf("credential not stored: %v, %v", cred, err)
	}
}

func TestSignInTwoFactor(t *testing.T) {
	e := newEnv(t)
	e.fc.SendCodeFunc = func(ctx context.Context, phone string) (*tg.SentCode, error) {
		return &tg.SentCode{PhoneCodeHash: "hash-1"}, nil
	}
	e.fc.SignInFunc = func(ctx context.Context, phone, code, codeHash string) (*tg.User, error) {
		return nil, tg.ErrPasswordRequired
	}

	e.do(t, http.MethodPost, "/api/auth/send-code", map[string]string{"phone": "+34600111222"})
	w := e.do(t, http.MethodPost, "/api/auth/sign-in", map[string]string{
		"phone": "+34600111222",
		"code":  "12345",
	})
	if w.Code != http.StatusOK || e.body["two_factor_required"] != true {
		t.Fatalf("status %d body %v", w.Code, e.body)
	}
}

func TestSignInWithoutPendingCode(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/auth/sign-in", map[string]string{
		"phone": "+34600111222",
		"code":  "12345",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", w.Code)
	}
}

func TestSessionStatus(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/session/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if e.body["connected"] != false || e.body["state"] != string(status.AuthRequired) {
		t.Fatalf("body: %v", e.body)
	}

	e.connect(t)
	e.fc.MeFunc = func(ctx context.Context) (*tg.User, error) {
		return &tg.User{ID: 9, FirstName: "Ana"}, nil
	}
	w = e.do(t, http.MethodGet, "/api/session/status", nil)
	if e.body["connected"] != true {
		t.Fatalf("body: %v", e.body)
	}
	user, ok := e.body["user"].(map[string]any)
	if !ok || user["name"] != "Ana" {
		t.Fatalf("user: %v", e.body["user"])
	}
}

func TestSessionConnectWithoutCredential(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/session/connect", nil)
	if w.Code != http.StatusOK || e.body["needs_login"] != true {
		t.Fatalf("status %d body %v", w.Code, e.body)
	}
}

func TestSessionConnectRebindsMonitor(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	if err := e.mon.Start([]monitor.GroupConfig{{ID: "100"}}, []string{"vence"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.fc.HandlerCount() != 1 {
		t.Fatalf("handlers = %d, want 1", e.fc.HandlerCount())
	}

	cipher, err := e.codec.Encrypt("restored-session")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	err = e.db.UpsertCredential(&store.Credential{Phone: "+34600000001", SessionCipher: cipher})
	if err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}

	fc2 := &tgtest.FakeConn{}
	e.dialer.NextConn = fc2

	w := e.do(t, http.MethodPost, "/api/session/connect", nil)
	if w.Code != http.StatusOK || e.body["connected"] != true {
		t.Fatalf("status %d body %v", w.Code, e.body)
	}
	if e.fc.HandlerCount() != 0 {
		t.Fatalf("handlers left on replaced conn = %d, want 0", e.fc.HandlerCount())
	}
	if fc2.HandlerCount() != 1 {
		t.Fatalf("handlers on restored conn = %d, want 1", fc2.HandlerCount())
	}
}

func TestGroupEndpoints(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	e.fc.DialogsFunc = func(ctx context.Context, limit int) ([]tg.Dialog, error) {
		return []tg.Dialog{
			{Entity: &tg.GroupSummary{ID: 100, Title: "opos", IsGroup: true}},
		}, nil
	}
	e.fc.ResolveUserFunc = func(ctx context.Context, username string) (*tg.GroupSummary, error) {
		return &tg.GroupSummary{ID: 100, Title: "opos", Username: username}, nil
	}

	w := e.do(t, http.MethodGet, "/api/groups", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	groups := e.body["groups"].([]any)
	if len(groups) != 1 {
		t.Fatalf("groups: %v", e.body)
	}

	w = e.do(t, http.MethodGet, "/api/groups/info?ref=@opos", nil)
	if w.Code != http.StatusOK || e.body["title"] != "opos" {
		t.Fatalf("status %d body %v", w.Code, e.body)
	}

	w = e.do(t, http.MethodGet, "/api/groups/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing q should 400, got %d", w.Code)
	}
}

func TestGroupsRequireConnection(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/groups", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", w.Code)
	}
}

func TestMonitorLifecycle(t *testing.T) {
	e := newEnv(t)
	e.connect(t)

	w := e.do(t, http.MethodPost, "/api/monitor/start", map[string]any{
		"groups": []map[string]any{{"id": "100"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("start status %d: %s", w.Code, w.Body)
	}
	if e.body["is_monitoring"] != true || e.body["group_count"] != float64(1) {
		t.Fatalf("body: %v", e.body)
	}

	w = e.do(t, http.MethodGet, "/api/monitor/status", nil)
	if e.body["is_monitoring"] != true {
		t.Fatalf("body: %v", e.body)
	}

	w = e.do(t, http.MethodPost, "/api/monitor/stop", nil)
	if e.body["is_monitoring"] != false {
		t.Fatalf("body: %v", e.body)
	}
}

func TestAlertEndpoints(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	if _, err := e.db.InsertAlert(&store.Alert{
		GroupID:         "100",
		MessageID:       55,
		MessageText:     "¿Qué tests recomendáis?",
		MatchedKeywords: []string{"test"},
	}); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	w := e.do(t, http.MethodGet, "/api/alerts?unread=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	alerts := e.body["alerts"].([]any)
	if len(alerts) != 1 {
		t.Fatalf("alerts: %v", e.body)
	}

	w = e.do(t, http.MethodPost, "/api/alerts/reply", map[string]any{
		"group_id":   "100",
		"message_id": 55,
		"text":       "Gracias!",
	})
	if w.Code != http.StatusOK || e.body["success"] != true || e.body["alert_updated"] != true {
		t.Fatalf("status %d body %v", w.Code, e.body)
	}

	a, err := e.db.GetAlert("100", 55)
	if err != nil || a == nil || !a.IsReplied || a.ReplyText != "Gracias!" {
		t.Fatalf("alert after reply: %+v, %v", a, err)
	}

	w = e.do(t, http.MethodPost, "/api/alerts/read", map[string]any{
		"group_id":   "100",
		"message_id": 55,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/api/alerts?unread=true", nil)
	if _, ok := e.body["alerts"].([]any); ok {
		t.Fatalf("expected no unread alerts: %v", e.body)
	}

	w = e.do(t, http.MethodPost, "/api/alerts/read", map[string]any{
		"group_id":   "999",
		"message_id": 1,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	e.fc.SendTextFunc = func(ctx context.Context, groupID int64, text string) (int, error) {
		return 77, nil
	}

	w := e.do(t, http.MethodPost, "/api/messages/send", map[string]any{
		"group_id": "100",
		"text":     "hola",
	})
	if w.Code != http.StatusOK || e.body["success"] != true || e.body["message_id"] != float64(77) {
		t.Fatalf("status %d body %v", w.Code, e.body)
	}

	w = e.do(t, http.MethodPost, "/api/messages/send", map[string]any{"group_id": "100"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing text should 400, got %d", w.Code)
	}
}
