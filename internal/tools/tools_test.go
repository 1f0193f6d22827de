package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/prestabot/prestabot/internal/guest"
	"github.com/prestabot/prestabot/internal/identity"
	"github.com/prestabot/prestabot/internal/store"
)

type persistedMessage struct {
	memberID string
	role     string
	content  string
}

type fakeStore struct {
	members      []store.NewMember
	memberErr    error
	loans        map[int64]*store.Loan
	loanErr      error
	byCollector  []*store.Loan
	payments     []store.NewPayment
	paymentErr   error
	messages     []persistedMessage
	lookupCalled bool
}

func (f *fakeStore) CreateMember(ctx context.Context, nm store.NewMember) (*store.Member, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	f.members = append(f.members, nm)
	return &store.Member{ID: "member-1", Name: nm.Name, Phone: nm.Phone}, nil
}

func (f *fakeStore) AddMemberMessage(ctx context.Context, memberID, role, content string, attachments []string) (string, error) {
	f.messages = append(f.messages, persistedMessage{memberID, role, content})
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

func (f *fakeStore) LoanByNumber(ctx context.Context, number int64) (*store.Loan, error) {
	f.lookupCalled = true
	if f.loanErr != nil {
		return nil, f.loanErr
	}
	return f.loans[number], nil
}

func (f *fakeStore) LoansByCollector(ctx context.Context, collectorID string) ([]*store.Loan, error) {
	f.lookupCalled = true
	return f.byCollector, nil
}

func (f *fakeStore) CreatePayment(ctx context.Context, np store.NewPayment) (*store.Payment, error) {
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	f.payments = append(f.payments, np)
	return &store.Payment{ID: "payment-1", LoanID: np.LoanID, CollectorID: np.CollectorID, AmountCents: np.AmountCents}, nil
}

type fakeReceipts struct {
	err      error
	rendered []string
}

func (f *fakeReceipts) RenderPayment(ctx context.Context, paymentID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.rendered = append(f.rendered, paymentID)
	return "https://receipts.example/" + paymentID, nil
}

type fakeMessenger struct {
	sent []string
	err  error
}

func (f *fakeMessenger) Send(ctx context.Context, phone, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, phone+": "+text)
	return nil
}

func testRegistry(t *testing.T, fs *fakeStore) (*Registry, Deps) {
	t.Helper()
	deps := Deps{
		Store:    fs,
		Country:  "1",
		Logger:   slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
		Migrator: guest.NewMigrator(guest.NewBuffer(), nil),
	}
	return NewRegistry(deps), deps
}

func collectorContext() *Context {
	return &Context{Phone: "+18095550001", UserID: "collector-1", Role: identity.RoleCollector}
}

func adminContext() *Context {
	return &Context{Phone: "+18095550002", UserID: "admin-1", Role: identity.RoleAdmin}
}

func activeLoan(number int64, collectorID string) *store.Loan {
	return &store.Loan{
		ID: fmt.Sprintf("loan-%d", number), Number: number,
		MemberID: "member-1", CollectorID: collectorID,
		AmountCents: 100000, BalanceCents: 50000,
		Cycle: store.CycleDaily, Status: store.LoanActive,
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r, _ := testRegistry(t, &fakeStore{})
	result := r.Execute(context.Background(), "delete_everything", nil, collectorContext())
	if result.Success {
		t.Fatal("unknown tool must fail")
	}
	if !strings.Contains(result.Message, "delete_everything") {
		t.Errorf("message should name the tool, got %q", result.Message)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r, _ := testRegistry(t, &fakeStore{})
	r.register(&Tool{
		Name:       "explode",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, deps Deps, args map[string]any, tctx *Context) Result {
			panic("boom")
		},
	})

	result := r.Execute(context.Background(), "explode", nil, nil)
	if result.Success {
		t.Fatal("panicking handler must produce a failed result")
	}
	if !strings.Contains(result.Message, "explode") {
		t.Errorf("message should name the tool, got %q", result.Message)
	}
}

func TestExecuteValidatesRequiredArgs(t *testing.T) {
	r, _ := testRegistry(t, &fakeStore{})

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing name", "create_member", map[string]any{}},
		{"blank name", "create_member", map[string]any{"name": "   "}},
		{"missing amount", "create_payment", map[string]any{"loan_number": 5}},
		{"wrong type", "create_payment", map[string]any{"loan_number": true, "amount": 100}},
		{"missing text", "send_message", map[string]any{"phone": "8095551234"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.Execute(context.Background(), tt.tool, tt.args, adminContext())
			if result.Success {
				t.Fatalf("expected validation failure for %v", tt.args)
			}
		})
	}
}

func TestCreatePaymentRequiresStaffIdentity(t *testing.T) {
	fs := &fakeStore{loans: map[int64]*store.Loan{153: activeLoan(153, "collector-1")}}
	r, _ := testRegistry(t, fs)

	args := map[string]any{"loan_number": 153, "amount": 500}
	for _, tctx := range []*Context{nil, {Phone: "+18095550009"}} {
		result := r.Execute(context.Background(), "create_payment", args, tctx)
		if result.Success {
			t.Fatal("payment without staff identity must fail")
		}
		if fs.lookupCalled {
			t.Fatal("store must not be consulted without staff identity")
		}
	}
}

func TestCreatePaymentLoanNumberParsing(t *testing.T) {
	fs := &fakeStore{loans: map[int64]*store.Loan{153: activeLoan(153, "collector-1")}}
	r, _ := testRegistry(t, fs)

	bad := []any{float64(-4), float64(2.5), "abc", "0", "-1"}
	for _, v := range bad {
		result := r.Execute(context.Background(), "create_payment",
			map[string]any{"loan_number": v, "amount": 500}, collectorContext())
		if result.Success {
			t.Fatalf("loan_number %v must be rejected", v)
		}
		if !strings.Contains(result.Message, "entero positivo") {
			t.Errorf("loan_number %v: message %q should explain the format", v, result.Message)
		}
	}

	// Formats the model actually produces for the same loan.
	good := []any{float64(153), "153", "#153"}
	for _, v := range good {
		fs.payments = nil
		result := r.Execute(context.Background(), "create_payment",
			map[string]any{"loan_number": v, "amount": 500}, collectorContext())
		if !result.Success {
			t.Fatalf("loan_number %v: unexpected failure: %s", v, result.Message)
		}
		if len(fs.payments) != 1 || fs.payments[0].LoanID != "loan-153" {
			t.Fatalf("loan_number %v: payment not recorded against loan-153", v)
		}
	}
}

func TestCreatePaymentUnknownLoan(t *testing.T) {
	fs := &fakeStore{loans: map[int64]*store.Loan{}}
	r, _ := testRegistry(t, fs)

	result := r.Execute(context.Background(), "create_payment",
		map[string]any{"loan_number": 999, "amount": 500}, collectorContext())
	if result.Success {
		t.Fatal("unknown loan must fail")
	}
	if !strings.Contains(result.Message, "#999") {
		t.Errorf("message should name the loan, got %q", result.Message)
	}
}

func TestCreatePaymentOwnership(t *testing.T) {
	fs := &fakeStore{loans: map[int64]*store.Loan{153: activeLoan(153, "collector-2")}}
	r, _ := testRegistry(t, fs)

	// A collector cannot pay into another collector's loan.
	result := r.Execute(context.Background(), "create_payment",
		map[string]any{"loan_number": 153, "amount": 500}, collectorContext())
	if result.Success {
		t.Fatal("foreign loan must be rejected for a collector")
	}
	if len(fs.payments) != 0 {
		t.Fatal("no payment must be recorded")
	}

	// An admin can.
	result = r.Execute(context.Background(), "create_payment",
		map[string]any{"loan_number": 153, "amount": 500}, adminContext())
	if !result.Success {
		t.Fatalf("admin override failed: %s", result.Message)
	}
	if len(fs.payments) != 1 || fs.payments[0].CollectorID != "admin-1" {
		t.Fatal("payment must be recorded under the admin's id")
	}
}

func TestCreatePaymentInactiveLoan(t *testing.T) {
	paid := activeLoan(153, "collector-1")
	paid.Status = store.LoanPaid
	fs := &fakeStore{loans: map[int64]*store.Loan{153: paid}}
	r, _ := testRegistry(t, fs)

	result := r.Execute(context.Background(), "create_payment",
		map[string]any{"loan_number": 153, "amount": 500}, collectorContext())
	if result.Success {
		t.Fatal("payment into a paid loan must fail")
	}
}

func TestCreatePaymentReceiptFailureIsPartialSuccess(t *testing.T) {
	fs := &fakeStore{loans: map[int64]*store.Loan{153: activeLoan(153, "collector-1")}}
	r, deps := testRegistry(t, fs)
	deps.Receipts = &fakeReceipts{err: errors.New("renderer down")}
	r.deps = deps

	result := r.Execute(context.Background(), "create_payment",
		map[string]any{"loan_number": 153, "amount": 500}, collectorContext())
	if !result.Success {
		t.Fatalf("payment must succeed even when the receipt fails: %s", result.Message)
	}
	if len(fs.payments) != 1 {
		t.Fatal("payment must be recorded")
	}
	data, _ := result.Data.(map[string]any)
	if pending, _ := data["receipt_pending"].(bool); !pending {
		t.Error("partial success must be marked receipt_pending")
	}
	if !strings.Contains(result.Message, "recibo") {
		t.Errorf("message should mention the missing receipt, got %q", result.Message)
	}
}

func TestCreatePaymentWithReceipt(t *testing.T) {
	fs := &fakeStore{loans: map[int64]*store.Loan{153: activeLoan(153, "collector-1")}}
	r, deps := testRegistry(t, fs)
	receipts := &fakeReceipts{}
	deps.Receipts = receipts
	r.deps = deps

	result := r.Execute(context.Background(), "create_payment",
		map[string]any{"loan_number": 153, "amount": "RD$1,250.50"}, collectorContext())
	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Message)
	}
	if fs.payments[0].AmountCents != 125050 {
		t.Errorf("amount = %d cents, want 125050", fs.payments[0].AmountCents)
	}
	if len(receipts.rendered) != 1 || receipts.rendered[0] != "payment-1" {
		t.Error("receipt must be rendered for the new payment")
	}
}

func TestCreateMemberMigratesGuestHistory(t *testing.T) {
	fs := &fakeStore{}
	buffer := guest.NewBuffer()
	buffer.Append("+18095551234", guest.Text(guest.RoleUser, "quiero un préstamo"))
	buffer.Append("+18095551234", guest.Text(guest.RoleAssistant, "claro, ¿su nombre?"))
	buffer.Append("+18095551234", guest.Text(guest.RoleSystem, "internal"))

	deps := Deps{
		Store:    fs,
		Country:  "1",
		Logger:   slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
		Migrator: guest.NewMigrator(buffer, nil),
	}
	r := NewRegistry(deps)

	result := r.Execute(context.Background(), "create_member",
		map[string]any{"name": "Ana Pérez", "phone": "809-555-1234"}, nil)
	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Message)
	}
	if len(fs.members) != 1 || fs.members[0].Phone != "+18095551234" {
		t.Fatalf("member not created with canonical phone: %+v", fs.members)
	}

	if len(fs.messages) != 2 {
		t.Fatalf("persisted %d messages, want 2 (system skipped)", len(fs.messages))
	}
	if fs.messages[0].role != guest.PersistedHuman || fs.messages[1].role != guest.PersistedAI {
		t.Errorf("roles = %s, %s; want HUMAN, AI", fs.messages[0].role, fs.messages[1].role)
	}
	if buffer.Has("+18095551234") {
		t.Error("buffer must be cleared after migration")
	}
}

func TestCreateMemberUsesSenderPhone(t *testing.T) {
	fs := &fakeStore{}
	r, _ := testRegistry(t, fs)

	guestCtx := &Context{Phone: "+18295557777"}
	result := r.Execute(context.Background(), "create_member",
		map[string]any{"name": "Luis Gómez"}, guestCtx)
	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Message)
	}
	if fs.members[0].Phone != "+18295557777" {
		t.Errorf("phone = %s, want the sender's phone", fs.members[0].Phone)
	}

	// No phone anywhere: fail without touching the store.
	fs2 := &fakeStore{}
	r2, _ := testRegistry(t, fs2)
	result = r2.Execute(context.Background(), "create_member",
		map[string]any{"name": "Luis Gómez"}, nil)
	if result.Success || len(fs2.members) != 0 {
		t.Fatal("member creation without any phone must fail")
	}
}

func TestListCollectorLoans(t *testing.T) {
	fs := &fakeStore{byCollector: []*store.Loan{
		activeLoan(10, "collector-1"),
		activeLoan(12, "collector-1"),
	}}
	r, _ := testRegistry(t, fs)

	result := r.Execute(context.Background(), "list_collector_loans", nil, collectorContext())
	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Message)
	}
	if !strings.Contains(result.Message, "#10") || !strings.Contains(result.Message, "#12") {
		t.Errorf("message should list both loans, got %q", result.Message)
	}
}

func TestListCollectorLoansForeignPortfolio(t *testing.T) {
	fs := &fakeStore{byCollector: []*store.Loan{activeLoan(10, "collector-2")}}
	r, _ := testRegistry(t, fs)

	args := map[string]any{"collector_id": "collector-2"}

	result := r.Execute(context.Background(), "list_collector_loans", args, collectorContext())
	if result.Success {
		t.Fatal("collector must not read another collector's portfolio")
	}
	if !strings.Contains(result.Message, "administrador") {
		t.Errorf("message should explain the restriction, got %q", result.Message)
	}

	result = r.Execute(context.Background(), "list_collector_loans", args, adminContext())
	if !result.Success {
		t.Fatalf("admin query failed: %s", result.Message)
	}
}

func TestListCollectorLoansEmpty(t *testing.T) {
	r, _ := testRegistry(t, &fakeStore{})
	result := r.Execute(context.Background(), "list_collector_loans", nil, collectorContext())
	if !result.Success {
		t.Fatalf("empty portfolio is not a failure: %s", result.Message)
	}
	if !strings.Contains(result.Message, "No tiene préstamos") {
		t.Errorf("got %q", result.Message)
	}
}

func TestSendMessage(t *testing.T) {
	r, deps := testRegistry(t, &fakeStore{})
	messenger := &fakeMessenger{}
	deps.Messenger = messenger
	r.deps = deps

	result := r.Execute(context.Background(), "send_message",
		map[string]any{"phone": "(809) 555-9999", "text": "Su pago fue recibido"}, adminContext())
	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Message)
	}
	if len(messenger.sent) != 1 || !strings.HasPrefix(messenger.sent[0], "+18095559999:") {
		t.Errorf("sent = %v, want canonical recipient", messenger.sent)
	}

	// Guests cannot drive outbound sends.
	result = r.Execute(context.Background(), "send_message",
		map[string]any{"phone": "8095559999", "text": "hola"}, &Context{Phone: "+18095550009"})
	if result.Success {
		t.Fatal("guest send must fail")
	}
}

func TestGenerateReceiptUnavailable(t *testing.T) {
	r, _ := testRegistry(t, &fakeStore{})
	result := r.Execute(context.Background(), "generate_receipt",
		map[string]any{"payment_id": "payment-1"}, collectorContext())
	if result.Success {
		t.Fatal("receipt generation without a renderer must fail cleanly")
	}
}

func TestParseAmountCents(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{float64(500), 50000, false},
		{float64(1250.5), 125050, false},
		{"500", 50000, false},
		{"RD$1,250.50", 125050, false},
		{float64(0), 0, true},
		{float64(-10), 0, true},
		{"gratis", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAmountCents(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAmountCents(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseAmountCents(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
