package extraction

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/extract"
	qtest "github.com/mattsoldo/email-extractor-sub001/internal/testing"
	"github.com/mattsoldo/email-extractor-sub001/prompt"
)

type fixture struct {
	t        *testing.T
	db       *sql.DB
	emails   *email.Store
	setID    string
	promptID string
	ids      []string
	subjects map[string]string
}

// newFixture creates a set holding one email per subject and a prompt.
func newFixture(t *testing.T, subjects ...string) *fixture {
	t.Helper()
	conn := qtest.CreateTestDB(t)
	ctx := context.Background()

	emails := email.NewStore(conn)
	set, err := emails.CreateSet(ctx, "inbox")
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		db:       conn,
		emails:   emails,
		setID:    set.ID,
		subjects: make(map[string]string),
	}
	for _, s := range subjects {
		f.addEmail(s)
	}

	p := &prompt.Prompt{ID: "brokerage-v1", Name: "Brokerage", Content: "Extract every transaction."}
	require.NoError(t, prompt.NewStore(conn).Upsert(ctx, p))
	f.promptID = p.ID
	return f
}

func (f *fixture) addEmail(subject string) string {
	f.t.Helper()
	rec := &email.Record{SetID: f.setID, Subject: subject, Sender: "alerts@broker.example", Body: subject}
	require.NoError(f.t, f.emails.AddRecord(context.Background(), rec))
	f.ids = append(f.ids, rec.ID)
	f.subjects[rec.ID] = subject
	return rec.ID
}

func (f *fixture) orchestrator(inv extract.Invoker, cfg Config, opts ...Option) *Orchestrator {
	if cfg.PausePollInterval == 0 {
		cfg.PausePollInterval = 10 * time.Millisecond
	}
	if cfg.SoftwareVersion == "" {
		cfg.SoftwareVersion = "1.2.3"
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(f.t).Sugar())}, opts...)
	return New(f.db, inv, cfg, opts...)
}

func (f *fixture) request(model string) StartRequest {
	return StartRequest{SetID: f.setID, ModelID: model, PromptID: f.promptID}
}

func (f *fixture) count(query string, args ...interface{}) int {
	f.t.Helper()
	var n int
	require.NoError(f.t, f.db.QueryRow(query, args...).Scan(&n))
	return n
}

func (f *fixture) emailStatus(id string) email.Status {
	f.t.Helper()
	rec, err := f.emails.Get(context.Background(), id)
	require.NoError(f.t, err)
	return rec.Status
}

// scriptedInvoker answers by subject and records every call.
type scriptedInvoker struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*extract.Result
	errs    map[string]error
	hook    func(ctx context.Context, rec email.Record)
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		results: make(map[string]*extract.Result),
		errs:    make(map[string]error),
	}
}

func (s *scriptedInvoker) Extract(ctx context.Context, rec email.Record, modelID string, p prompt.Prompt) (*extract.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, rec.ID)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(ctx, rec)
	}
	if err, ok := s.errs[rec.Subject]; ok {
		return nil, err
	}
	if res, ok := s.results[rec.Subject]; ok {
		return res, nil
	}
	return transactional(fmt.Sprintf("ACCT-%s", rec.Subject)), nil
}

func (s *scriptedInvoker) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func transactional(accountNumber string) *extract.Result {
	return &extract.Result{
		IsTransactional: true,
		EmailType:       "trade_confirmation",
		Transactions: []extract.Candidate{{
			Type:          extract.TypeStockTrade,
			Amount:        mustDecimal("1000.123456"),
			Currency:      "usd",
			AccountNumber: accountNumber,
			Institution:   "Fidelity",
			Symbol:        "vti",
			Confidence:    mustDecimal("0.9"),
		}},
	}
}

func dividend(accountNumber, institution string) *extract.Result {
	return &extract.Result{
		IsTransactional: true,
		EmailType:       "dividend_notice",
		Transactions: []extract.Candidate{{
			Type:          extract.TypeDividend,
			Amount:        mustDecimal("42.170000"),
			Currency:      "usd",
			AccountNumber: accountNumber,
			Institution:   institution,
			Symbol:        "vti",
			Confidence:    mustDecimal("0.95"),
		}},
	}
}

func informational() *extract.Result {
	return &extract.Result{IsTransactional: false, EmailType: "marketing", Notes: "newsletter"}
}

// recorder collects events; it is safe to read after Run returns.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

func (r *recorder) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) Count(t EventType) int {
	n := 0
	for _, et := range r.Types() {
		if et == t {
			n++
		}
	}
	return n
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
