package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/store"
	"github.com/rikseotools/vence-sub014/internal/tg"
	"github.com/rikseotools/vence-sub014/internal/tg/tgtest"
	"go.uber.org/zap"
)

func newDispatcher(t *testing.T, fc *tgtest.FakeConn) (*Dispatcher, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	m := conn.NewManager(&tgtest.FakeDialer{NextConn: fc}, zap.NewNop())
	if _, err := m.Connect(context.Background(), "session"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return New(m, db, zap.NewNop()), db
}

func TestSendMessage(t *testing.T) {
	var gotGroup int64
	var gotText string
	fc := &tgtest.FakeConn{
		SendTextFunc: func(ctx context.Context, groupID int64, text string) (int, error) {
			gotGroup, gotText = groupID, text
			return 77, nil
		},
	}
	d, _ := newDispatcher(t, fc)

	res := d.SendMessage(context.Background(), "100", "hola")
	if !res.Success || res.MessageID != 77 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotGroup != 100 || gotText != "hola" {
		t.Errorf("sent (%d, %q)", gotGroup, gotText)
	}
}

func TestSendMessageFailures(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		fc := &tgtest.FakeConn{
			SendTextFunc: func(ctx context.Context, groupID int64, text string) (int, error) {
				return 0, &tg.RPCError{Code: 403, Type: "CHAT_WRITE_FORBIDDEN"}
			},
		}
		d, _ := newDispatcher(t, fc)
		res := d.SendMessage(context.Background(), "100", "hola")
		if res.Success || res.Error == "" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("bad group id", func(t *testing.T) {
		d, _ := newDispatcher(t, &tgtest.FakeConn{})
		res := d.SendMessage(context.Background(), "not-a-number", "hola")
		if res.Success || res.Error != "invalid group id" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		m := conn.NewManager(&tgtest.FakeDialer{}, zap.NewNop())
		db, err := store.Open(filepath.Join(t.TempDir(), "monitor.db"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer func() { _ = db.Close() }()
		if _, err := db.Migrate(); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		d := New(m, db, zap.NewNop())
		res := d.SendMessage(context.Background(), "100", "hola")
		if res.Success || res.Error != "not connected" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})
}

func TestReplyToMessageUpdatesAlert(t *testing.T) {
	var repliedTo int
	fc := &tgtest.FakeConn{
		ReplyFunc: func(ctx context.Context, groupID int64, replyToID int, text string) (int, error) {
			repliedTo = replyToID
			return 78, nil
		},
	}
	d, db := newDispatcher(t, fc)

	if _, err := db.InsertAlert(&store.Alert{
		GroupID:         "100",
		MessageID:       55,
		MessageText:     "¿Qué tests recomendáis?",
		MatchedKeywords: []string{"test"},
	}); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	res := d.ReplyToMessage(context.Background(), "100", 55, "Gracias!")
	if !res.Success || res.MessageID != 78 || !res.AlertUpdated {
		t.Fatalf("unexpected result: %+v", res)
	}
	if repliedTo != 55 {
		t.Errorf("replied to %d, want 55", repliedTo)
	}

	a, err := db.GetAlert("100", 55)
	if err != nil || a == nil {
		t.Fatalf("GetAlert: %v, %v", a, err)
	}
	if !a.IsReplied || a.ReplyText != "Gracias!" || a.RepliedAt == 0 {
		t.Errorf("alert not updated: %+v", a)
	}
}

func TestReplyToMessageWithoutAlertRow(t *testing.T) {
	d, _ := newDispatcher(t, &tgtest.FakeConn{})

	res := d.ReplyToMessage(context.Background(), "100", 999, "hola")
	if !res.Success {
		t.Fatalf("send should succeed: %+v", res)
	}
	if res.AlertUpdated {
		t.Error("no alert row existed, AlertUpdated should be false")
	}
}

func TestReplyToMessageSendFailureSkipsBookkeeping(t *testing.T) {
	boom := errors.New("FLOOD_WAIT_30")
	fc := &tgtest.FakeConn{
		ReplyFunc: func(ctx context.Context, groupID int64, replyToID int, text string) (int, error) {
			return 0, boom
		},
	}
	d, db := newDispatcher(t, fc)

	if _, err := db.InsertAlert(&store.Alert{GroupID: "100", MessageID: 55, MessageText: "x"}); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	res := d.ReplyToMessage(context.Background(), "100", 55, "hola")
	if res.Success || res.AlertUpdated {
		t.Fatalf("unexpected result: %+v", res)
	}

	a, err := db.GetAlert("100", 55)
	if err != nil || a == nil {
		t.Fatalf("GetAlert: %v, %v", a, err)
	}
	if a.IsReplied {
		t.Error("alert must not be marked replied when the send failed")
	}
}
