package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fundguard/broker"
	"fundguard/database"
	"fundguard/event"
	"fundguard/i18n"
	"fundguard/secret"
)

const testPassword = "investor-pw"

type historyCall struct {
	sessionID string
	from, to  time.Time
}

// fakeBroker 可编程的券商客户端
type fakeBroker struct {
	mu sync.Mutex

	connectErr   error
	connectCalls int
	passwords    []string
	nextSession  string

	summary      *broker.AccountSummary
	summaryErrs  []error // 依次返回，nil 或用尽后返回 summary
	summaryCalls int

	orders  []*broker.Order
	history []historyCall
}

func newFakeBroker(equity, balance float64) *fakeBroker {
	return &fakeBroker{
		nextSession: "6f9619ff-8b86-d011-b42d-00c04fc964ff",
		summary:     &broker.AccountSummary{Equity: equity, Balance: balance},
	}
}

func (f *fakeBroker) Connect(ctx context.Context, login, password, server string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	f.passwords = append(f.passwords, password)
	if f.connectErr != nil {
		return "", f.connectErr
	}
	return f.nextSession, nil
}

func (f *fakeBroker) AccountSummary(ctx context.Context, sessionID string) (*broker.AccountSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	if len(f.summaryErrs) > 0 {
		err := f.summaryErrs[0]
		f.summaryErrs = f.summaryErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := *f.summary
	return &s, nil
}

func (f *fakeBroker) OrderHistory(ctx context.Context, sessionID string, from, to time.Time) ([]*broker.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, historyCall{sessionID: sessionID, from: from, to: to})
	return f.orders, nil
}

func (f *fakeBroker) Disconnect(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeBroker) setEquity(equity float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summary = &broker.AccountSummary{Equity: equity, Balance: f.summary.Balance}
}

type recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recorder) Publish(evt *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) count(t event.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestDB(t *testing.T) *database.GormDatabase {
	t.Helper()
	if err := i18n.Init("en-US"); err != nil {
		t.Fatalf("初始化 i18n 失败: %v", err)
	}
	t.Cleanup(func() { i18n.SetSystemLanguage("fa-IR") })

	db, err := database.NewGormDatabase(&database.DBConfig{
		Type:         "sqlite",
		DSN:          filepath.Join(t.TempDir(), "worker.db"),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestCipher(t *testing.T) *secret.Cipher {
	t.Helper()
	c, err := secret.NewCipher("worker-test-key")
	if err != nil {
		t.Fatalf("创建加密器失败: %v", err)
	}
	return c
}

func seedAccount(t *testing.T, db *database.GormDatabase, c *secret.Cipher, login string, plan *database.Plan, account *database.Account) *database.Account {
	t.Helper()
	ctx := context.Background()
	if plan.ID == 0 {
		if err := db.CreatePlan(ctx, plan); err != nil {
			t.Fatalf("创建计划失败: %v", err)
		}
	}
	enc, err := c.Encrypt(testPassword)
	if err != nil {
		t.Fatalf("加密密码失败: %v", err)
	}
	account.PlanID = plan.ID
	account.Login = login
	account.Server = "Demo-Server"
	account.InvestorPasswordEncrypted = enc
	if account.ConnectionState == "" {
		account.ConnectionState = database.ConnectionDisconnected
	}
	if err := db.CreateAccount(ctx, account); err != nil {
		t.Fatalf("创建账户失败: %v", err)
	}
	return account
}

func reload(t *testing.T, db *database.GormDatabase, id int64) *database.Account {
	t.Helper()
	a, err := db.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("读取账户失败: %v", err)
	}
	return a
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrFloat(f float64) *float64 { return &f }
