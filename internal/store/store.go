// Package store provides SQLite persistence for members, staff users,
// loans, payments, and member conversation history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Loan status values.
const (
	LoanActive    = "active"
	LoanPaid      = "paid"
	LoanCancelled = "cancelled"
)

// Loan cycle values. The cycle is the fixed payment interval used for
// lateness computation by the reporting service.
const (
	CycleDaily  = "daily"
	CycleWeekly = "weekly"
)

// Member is a registered customer.
type Member struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Cedula     string    `json:"cedula,omitempty"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address,omitempty"`
	ReferrerID string    `json:"referrer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewMember holds the fields required to register a member.
type NewMember struct {
	Name       string
	Cedula     string
	Phone      string // canonical form
	Address    string
	ReferrerID string
}

// User is a staff operator account. Roles come from the user_roles
// table; a user may hold several.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Disabled  bool      `json:"disabled"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

// Loan is a disbursed microloan. Number is the human-facing business
// identifier; ID is the internal storage identifier.
type Loan struct {
	ID           string    `json:"id"`
	Number       int64     `json:"number"`
	MemberID     string    `json:"member_id"`
	CollectorID  string    `json:"collector_id"`
	AmountCents  int64     `json:"amount_cents"`
	BalanceCents int64     `json:"balance_cents"`
	Cycle        string    `json:"cycle"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Payment records one collection against a loan.
type Payment struct {
	ID          string    `json:"id"`
	LoanID      string    `json:"loan_id"`
	CollectorID string    `json:"collector_id"`
	AmountCents int64     `json:"amount_cents"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewPayment holds the fields required to record a payment.
type NewPayment struct {
	LoanID      string
	CollectorID string
	AmountCents int64
	Note        string
}

// Store manages platform persistence in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a store using the given database path and runs schema
// migration.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS members (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			cedula      TEXT,
			phone       TEXT NOT NULL UNIQUE,
			address     TEXT,
			referrer_id TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			phone      TEXT NOT NULL UNIQUE,
			disabled   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_roles (
			user_id TEXT NOT NULL REFERENCES users(id),
			role    TEXT NOT NULL,
			UNIQUE(user_id, role)
		);

		CREATE TABLE IF NOT EXISTS loans (
			id            TEXT PRIMARY KEY,
			number        INTEGER NOT NULL UNIQUE,
			member_id     TEXT NOT NULL REFERENCES members(id),
			collector_id  TEXT NOT NULL REFERENCES users(id),
			amount_cents  INTEGER NOT NULL,
			balance_cents INTEGER NOT NULL,
			cycle         TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'active',
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS payments (
			id           TEXT PRIMARY KEY,
			loan_id      TEXT NOT NULL REFERENCES loans(id),
			collector_id TEXT NOT NULL REFERENCES users(id),
			amount_cents INTEGER NOT NULL,
			note         TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS member_messages (
			id          TEXT PRIMARY KEY,
			member_id   TEXT NOT NULL REFERENCES members(id),
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			attachments TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_loans_collector ON loans(collector_id);
		CREATE INDEX IF NOT EXISTS idx_loans_member ON loans(member_id);
		CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id);
		CREATE INDEX IF NOT EXISTS idx_member_messages_member ON member_messages(member_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// MemberByPhone returns the member registered with the given canonical
// phone, or nil when no member exists. A nil member with nil error is
// "not found"; a non-nil error is a lookup failure.
func (s *Store) MemberByPhone(ctx context.Context, phone string) (*Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, cedula, phone, address, referrer_id, created_at, updated_at
		FROM members WHERE phone = ?
	`, phone)

	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("member by phone: %w", err)
	}
	return m, nil
}

// UserByPhone returns the staff user for the given canonical phone with
// roles populated, or nil when none exists.
func (s *Store) UserByPhone(ctx context.Context, phone string) (*User, error) {
	var u User
	var disabled int
	var createdStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, disabled, created_at FROM users WHERE phone = ?
	`, phone).Scan(&u.ID, &u.Name, &u.Phone, &disabled, &createdStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user by phone: %w", err)
	}
	u.Disabled = disabled != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)

	rows, err := s.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`, u.ID)
	if err != nil {
		return nil, fmt.Errorf("user roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		u.Roles = append(u.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user roles: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a staff user with the given roles.
func (s *Store) CreateUser(ctx context.Context, name, phone string, roles []string) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, phone, disabled, created_at) VALUES (?, ?, ?, 0, ?)
	`, id.String(), name, phone, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	for _, role := range roles {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES (?, ?)
		`, id.String(), strings.ToUpper(role))
		if err != nil {
			return nil, fmt.Errorf("insert role: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &User{ID: id.String(), Name: name, Phone: phone, Roles: roles, CreatedAt: now}, nil
}

// SetUserDisabled toggles a staff account.
func (s *Store) SetUserDisabled(ctx context.Context, userID string, disabled bool) error {
	v := 0
	if disabled {
		v = 1
	}
	result, err := s.db.ExecContext(ctx, `UPDATE users SET disabled = ? WHERE id = ?`, v, userID)
	if err != nil {
		return fmt.Errorf("set disabled: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// CreateMember registers a new member. The phone must already be in
// canonical form and must not belong to an existing member.
func (s *Store) CreateMember(ctx context.Context, nm NewMember) (*Member, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO members (id, name, cedula, phone, address, referrer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), nm.Name, nullStr(nm.Cedula), nm.Phone, nullStr(nm.Address),
		nullStr(nm.ReferrerID), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}

	return &Member{
		ID:         id.String(),
		Name:       nm.Name,
		Cedula:     nm.Cedula,
		Phone:      nm.Phone,
		Address:    nm.Address,
		ReferrerID: nm.ReferrerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// AddMemberMessage persists one conversation message for a member and
// returns its id. attachments holds image URLs or media references.
func (s *Store) AddMemberMessage(ctx context.Context, memberID, role, content string, attachments []string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	var attachJSON sql.NullString
	if len(attachments) > 0 {
		data, err := json.Marshal(attachments)
		if err != nil {
			return "", fmt.Errorf("marshal attachments: %w", err)
		}
		attachJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO member_messages (id, member_id, role, content, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), memberID, role, content, attachJSON, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id.String(), nil
}

// MemberMessages returns a member's persisted conversation history in
// insertion order.
func (s *Store) MemberMessages(ctx context.Context, memberID string) ([]MemberMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, role, content, attachments, created_at
		FROM member_messages WHERE member_id = ? ORDER BY created_at, id
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []MemberMessage
	for rows.Next() {
		var m MemberMessage
		var attachJSON sql.NullString
		var createdStr string
		if err := rows.Scan(&m.ID, &m.MemberID, &m.Role, &m.Content, &attachJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if attachJSON.Valid {
			_ = json.Unmarshal([]byte(attachJSON.String), &m.Attachments)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MemberMessage is one persisted conversation message.
type MemberMessage struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateLoan disburses a loan. The balance starts equal to the amount.
func (s *Store) CreateLoan(ctx context.Context, number int64, memberID, collectorID string, amountCents int64, cycle string) (*Loan, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loans (id, number, member_id, collector_id, amount_cents, balance_cents, cycle, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), number, memberID, collectorID, amountCents, amountCents, cycle, LoanActive, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	return &Loan{
		ID: id.String(), Number: number, MemberID: memberID, CollectorID: collectorID,
		AmountCents: amountCents, BalanceCents: amountCents, Cycle: cycle,
		Status: LoanActive, CreatedAt: now,
	}, nil
}

// LoanByNumber returns the loan with the given business number, or nil
// when none exists.
func (s *Store) LoanByNumber(ctx context.Context, number int64) (*Loan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, member_id, collector_id, amount_cents, balance_cents, cycle, status, created_at
		FROM loans WHERE number = ?
	`, number)

	l, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loan by number: %w", err)
	}
	return l, nil
}

// LoansByCollector returns the active loans assigned to a collector,
// oldest first.
func (s *Store) LoansByCollector(ctx context.Context, collectorID string) ([]*Loan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, member_id, collector_id, amount_cents, balance_cents, cycle, status, created_at
		FROM loans WHERE collector_id = ? AND status = ? ORDER BY number
	`, collectorID, LoanActive)
	if err != nil {
		return nil, fmt.Errorf("loans by collector: %w", err)
	}
	defer rows.Close()

	var loans []*Loan
	for rows.Next() {
		l, err := scanLoanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// CreatePayment records a payment and decrements the loan balance in a
// single transaction. A loan that reaches zero balance is marked paid.
func (s *Store) CreatePayment(ctx context.Context, np NewPayment) (*Payment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, loan_id, collector_id, amount_cents, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), np.LoanID, np.CollectorID, np.AmountCents, nullStr(np.Note), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE loans SET
			balance_cents = MAX(balance_cents - ?, 0),
			status = CASE WHEN balance_cents - ? <= 0 THEN ? ELSE status END
		WHERE id = ?
	`, np.AmountCents, np.AmountCents, LoanPaid, np.LoanID)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Payment{
		ID: id.String(), LoanID: np.LoanID, CollectorID: np.CollectorID,
		AmountCents: np.AmountCents, Note: np.Note, CreatedAt: now,
	}, nil
}

// --- scan helpers ---

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*Member, error) {
	var m Member
	var cedula, address, referrer sql.NullString
	var createdStr, updatedStr string

	err := row.Scan(&m.ID, &m.Name, &cedula, &m.Phone, &address, &referrer, &createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}

	m.Cedula = cedula.String
	m.Address = address.String
	m.ReferrerID = referrer.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return &m, nil
}

func scanLoan(row rowScanner) (*Loan, error) {
	var l Loan
	var createdStr string

	err := row.Scan(&l.ID, &l.Number, &l.MemberID, &l.CollectorID,
		&l.AmountCents, &l.BalanceCents, &l.Cycle, &l.Status, &createdStr)
	if err != nil {
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return &l, nil
}

func scanLoanRow(rows *sql.Rows) (*Loan, error) {
	return scanLoan(rows)
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
