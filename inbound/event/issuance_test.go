package event

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"ticketbox/common/constant"
	jetsteamMock "ticketbox/common/jetstream/mocks"
	"ticketbox/outbound/store"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type IssuanceEventTestSuite struct {
	suite.Suite

	Querier *store.Queries
	PgxMock pgxmock.PgxPoolIface

	Cache     *redis.Client
	CacheMock redismock.ClientMock

	Publisher *jetsteamMock.MockPublisher

	Event IssuanceEvent
}

var issuanceFixedTime = time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

func (s *IssuanceEventTestSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())

	rdb, mock := redismock.NewClientMock()
	s.Cache = rdb
	s.CacheMock = mock

	pool, err := pgxmock.NewPool()
	if err != nil {
		s.T().Fatalf("failed to create pgxmock pool: %v", err)
	}

	s.PgxMock = pool
	s.Querier = store.New(pool)
	s.Publisher = jetsteamMock.NewMockPublisher(ctrl)

	s.Event = IssuanceEvent{
		Db:        pool,
		Querier:   s.Querier,
		Cache:     s.Cache,
		Publisher: s.Publisher,
		QRSecret:  []byte("qr-secret"),
		Timeout:   5 * time.Second,
		TimeNow:   func() time.Time { return issuanceFixedTime },
	}

	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func (s *IssuanceEventTestSuite) TearDownTest() {
	s.PgxMock.Close()

	if err := s.Cache.Close(); err != nil {
		s.T().Fatalf("failed to close redis mock: %v", err)
	}
}

func TestIssuanceEventTestSuite(t *testing.T) {
	suite.Run(t, new(IssuanceEventTestSuite))
}

func (s *IssuanceEventTestSuite) expectCallbackLock(reference string) string {
	lockKey := fmt.Sprintf(constant.PaymentCallbackLock, reference)
	s.CacheMock.ExpectSetNX(lockKey, true, constant.PaymentCallbackLockDefaultTTL).SetVal(true)
	return lockKey
}

func (s *IssuanceEventTestSuite) intentRows(reference, status string, quantity int32, expiresAt time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "payment_reference", "ticket_type_id", "quantity", "buyer_name",
		"buyer_email", "buyer_phone", "amount_cents", "currency", "status",
		"needs_reconciliation", "expires_at", "created_at",
	}).AddRow(
		int64(1), reference, int64(1), quantity, "John Doe",
		"john@example.com", "+15551234567", int64(10000), "USD", status,
		false,
		pgtype.Timestamptz{Time: expiresAt, Valid: true},
		pgtype.Timestamptz{Time: issuanceFixedTime.Add(-time.Hour), Valid: true},
	)
}

func (s *IssuanceEventTestSuite) issuedTicketRows(reference string, numbers ...string) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "ticket_type_id", "payment_reference", "batch_seq", "ticket_number",
		"buyer_name", "buyer_email", "buyer_phone", "status", "delivery_failed",
		"issued_at", "scanned_at",
	})
	for i, number := range numbers {
		rows.AddRow(
			int64(i+1), int64(1), reference, int32(i+1), number,
			"John Doe", "john@example.com", "+15551234567", "issued", false,
			pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true},
			pgtype.Timestamptz{},
		)
	}
	return rows
}

func emptyTicketRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "ticket_type_id", "payment_reference", "batch_seq", "ticket_number",
		"buyer_name", "buyer_email", "buyer_phone", "status", "delivery_failed",
		"issued_at", "scanned_at",
	})
}

func ticketTypeRowsForIssuance() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "event_id", "name", "price_cents", "currency", "capacity",
		"min_per_order", "max_per_order", "sales_start", "sales_end", "is_active",
	}).AddRow(
		int64(1), int64(1), "General Admission", int64(5000), "USD", int32(100),
		int32(1), int32(4), pgtype.Timestamptz{}, pgtype.Timestamptz{}, true,
	)
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerUnparseableMessage() {
	err := s.Event.OutcomeHandler(context.Background(), []byte(`{invalid json`))
	s.NoError(err)
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerLockContention() {
	lockKey := fmt.Sprintf(constant.PaymentCallbackLock, "PAY-123")
	s.CacheMock.ExpectSetNX(lockKey, true, constant.PaymentCallbackLockDefaultTTL).SetVal(false)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-123","outcome":"confirmed"}`))
	s.Error(err)

	s.NoError(s.CacheMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerUnknownReference() {
	lockKey := s.expectCallbackLock("PAY-404")
	s.PgxMock.ExpectQuery(`FROM payment_intents\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-404").
		WillReturnError(pgx.ErrNoRows)
	s.CacheMock.ExpectDel(lockKey).SetVal(1)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-404","outcome":"confirmed"}`))
	s.NoError(err)

	s.NoError(s.CacheMock.ExpectationsWereMet())
	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerFailed() {
	lockKey := s.expectCallbackLock("PAY-123")
	s.PgxMock.ExpectQuery(`FROM payment_intents\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.intentRows("PAY-123", "pending", 2, issuanceFixedTime.Add(10*time.Minute)))
	s.PgxMock.ExpectExec(`UPDATE payment_intents\s+SET status = \$2`).
		WithArgs("PAY-123", "failed", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	s.CacheMock.ExpectDel(lockKey).SetVal(1)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-123","outcome":"failed"}`))
	s.NoError(err)

	s.NoError(s.CacheMock.ExpectationsWereMet())
	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerFailedAlreadyTerminal() {
	lockKey := s.expectCallbackLock("PAY-123")
	s.PgxMock.ExpectQuery(`FROM payment_intents\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.intentRows("PAY-123", "failed", 2, issuanceFixedTime.Add(10*time.Minute)))
	s.PgxMock.ExpectExec(`UPDATE payment_intents\s+SET status = \$2`).
		WithArgs("PAY-123", "failed", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	s.CacheMock.ExpectDel(lockKey).SetVal(1)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-123","outcome":"failed"}`))
	s.NoError(err)

	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerConfirmedIssuesBatch() {
	lockKey := s.expectCallbackLock("PAY-123")

	s.PgxMock.ExpectQuery(`FROM payment_intents\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.intentRows("PAY-123", "pending", 2, issuanceFixedTime.Add(10*time.Minute)))

	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())

	s.PgxMock.ExpectBegin()
	s.PgxMock.ExpectQuery(`FOR UPDATE OF tt`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"capacity", "issued_count"}).AddRow(int32(100), int64(10)))
	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())
	s.PgxMock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs(int64(1), "PAY-123", int32(1), pgxmock.AnyArg(), "John Doe", "john@example.com", "+15551234567",
			pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	s.PgxMock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs(int64(1), "PAY-123", int32(2), pgxmock.AnyArg(), "John Doe", "john@example.com", "+15551234567",
			pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))
	s.PgxMock.ExpectCommit()

	s.PgxMock.ExpectExec(`UPDATE payment_intents\s+SET status = \$2`).
		WithArgs("PAY-123", "confirmed", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s.CacheMock.ExpectIncrBy(fmt.Sprintf(constant.TicketTypeIssuedKey, int64(1)), int64(2)).SetVal(12)

	s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
		WithArgs(int64(1)).
		WillReturnRows(ticketTypeRowsForIssuance())

	s.Publisher.EXPECT().Publish(
		gomock.Any(),
		constant.SubjectSendCredential,
		gomock.Any(),
	).Return(nil, nil)

	s.CacheMock.ExpectDel(lockKey).SetVal(1)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-123","outcome":"confirmed"}`))
	s.NoError(err)

	s.NoError(s.CacheMock.ExpectationsWereMet())
	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerConfirmedReplayKeepsTickets() {
	lockKey := s.expectCallbackLock("PAY-123")

	s.PgxMock.ExpectQuery(`FROM payment_intents\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.intentRows("PAY-123", "confirmed", 2, issuanceFixedTime.Add(10*time.Minute)))

	// The batch already exists, so no transaction, no counter bump, and no
	// new ticket numbers: the replay resolves to the prior batch.
	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.issuedTicketRows("PAY-123", "TKT-AAAA-BBBB-CCCC", "TKT-DDDD-EEEE-FFFF"))

	s.PgxMock.ExpectExec(`UPDATE payment_intents\s+SET status = \$2`).
		WithArgs("PAY-123", "confirmed", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
		WithArgs(int64(1)).
		WillReturnRows(ticketTypeRowsForIssuance())

	s.Publisher.EXPECT().Publish(
		gomock.Any(),
		constant.SubjectSendCredential,
		gomock.Any(),
	).Return(nil, nil)

	s.CacheMock.ExpectDel(lockKey).SetVal(1)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-123","outcome":"confirmed"}`))
	s.NoError(err)

	s.NoError(s.CacheMock.ExpectationsWereMet())
	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerConfirmedCapacityExceeded() {
	lockKey := s.expectCallbackLock("PAY-123")

	s.PgxMock.ExpectQuery(`FROM payment_intents\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.intentRows("PAY-123", "pending", 2, issuanceFixedTime.Add(10*time.Minute)))

	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())

	s.PgxMock.ExpectBegin()
	s.PgxMock.ExpectQuery(`FOR UPDATE OF tt`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"capacity", "issued_count"}).AddRow(int32(10), int64(9)))
	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())
	s.PgxMock.ExpectRollback()

	// No tickets, but the money was captured: confirm the intent and flag it
	// for reconciliation instead of redelivering forever.
	s.PgxMock.ExpectExec(`UPDATE payment_intents\s+SET status = \$2`).
		WithArgs("PAY-123", "confirmed", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	s.PgxMock.ExpectExec(`SET needs_reconciliation = true`).
		WithArgs("PAY-123", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s.CacheMock.ExpectDel(lockKey).SetVal(1)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-123","outcome":"confirmed"}`))
	s.NoError(err)

	s.NoError(s.CacheMock.ExpectationsWereMet())
	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerConfirmedExpiredIntent() {
	lockKey := s.expectCallbackLock("PAY-123")

	s.PgxMock.ExpectQuery(`FROM payment_intents\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.intentRows("PAY-123", "pending", 2, issuanceFixedTime.Add(-time.Minute)))

	s.PgxMock.ExpectExec(`UPDATE payment_intents\s+SET status = \$2`).
		WithArgs("PAY-123", "expired", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	s.PgxMock.ExpectExec(`SET needs_reconciliation = true`).
		WithArgs("PAY-123", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s.CacheMock.ExpectDel(lockKey).SetVal(1)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-123","outcome":"confirmed"}`))
	s.NoError(err)

	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestOutcomeHandlerConfirmedAfterFailed() {
	lockKey := s.expectCallbackLock("PAY-123")

	s.PgxMock.ExpectQuery(`FROM payment_intents\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.intentRows("PAY-123", "failed", 2, issuanceFixedTime.Add(10*time.Minute)))

	s.PgxMock.ExpectExec(`SET needs_reconciliation = true`).
		WithArgs("PAY-123", pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s.CacheMock.ExpectDel(lockKey).SetVal(1)

	err := s.Event.OutcomeHandler(context.Background(), []byte(`{"payment_reference":"PAY-123","outcome":"confirmed"}`))
	s.NoError(err)

	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestIssueRetriesOnTicketNumberCollision() {
	intent := store.PaymentIntent{
		PaymentReference: "PAY-123",
		TicketTypeID:     1,
		Quantity:         1,
		BuyerName:        "John Doe",
		BuyerEmail:       "john@example.com",
		BuyerPhone:       "+15551234567",
	}

	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())

	// First attempt collides on the ticket number; the whole transaction is
	// rolled back and re-run with a fresh number.
	s.PgxMock.ExpectBegin()
	s.PgxMock.ExpectQuery(`FOR UPDATE OF tt`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"capacity", "issued_count"}).AddRow(int32(100), int64(10)))
	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())
	s.PgxMock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs(int64(1), "PAY-123", int32(1), pgxmock.AnyArg(), "John Doe", "john@example.com", "+15551234567",
			pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "tickets_ticket_number_key"})
	s.PgxMock.ExpectRollback()

	s.PgxMock.ExpectBegin()
	s.PgxMock.ExpectQuery(`FOR UPDATE OF tt`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"capacity", "issued_count"}).AddRow(int32(100), int64(10)))
	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())
	s.PgxMock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs(int64(1), "PAY-123", int32(1), pgxmock.AnyArg(), "John Doe", "john@example.com", "+15551234567",
			pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	s.PgxMock.ExpectCommit()

	tickets, replayed, err := s.Event.issue(context.Background(), intent)
	s.NoError(err)
	s.False(replayed)
	s.Len(tickets, 1)

	s.NoError(s.PgxMock.ExpectationsWereMet())
}

func (s *IssuanceEventTestSuite) TestIssueResolvesBatchConstraintToExistingTickets() {
	intent := store.PaymentIntent{
		PaymentReference: "PAY-123",
		TicketTypeID:     1,
		Quantity:         1,
		BuyerName:        "John Doe",
		BuyerEmail:       "john@example.com",
		BuyerPhone:       "+15551234567",
	}

	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())

	s.PgxMock.ExpectBegin()
	s.PgxMock.ExpectQuery(`FOR UPDATE OF tt`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"capacity", "issued_count"}).AddRow(int32(100), int64(10)))
	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(emptyTicketRows())
	s.PgxMock.ExpectQuery(`INSERT INTO tickets`).
		WithArgs(int64(1), "PAY-123", int32(1), pgxmock.AnyArg(), "John Doe", "john@example.com", "+15551234567",
			pgtype.Timestamptz{Time: issuanceFixedTime, Valid: true}).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "tickets_payment_reference_batch_seq_key"})
	s.PgxMock.ExpectRollback()

	s.PgxMock.ExpectQuery(`FROM tickets\s+WHERE payment_reference = \$1`).
		WithArgs("PAY-123").
		WillReturnRows(s.issuedTicketRows("PAY-123", "TKT-AAAA-BBBB-CCCC"))

	tickets, replayed, err := s.Event.issue(context.Background(), intent)
	s.NoError(err)
	s.True(replayed)
	s.Len(tickets, 1)
	s.Equal("TKT-AAAA-BBBB-CCCC", tickets[0].TicketNumber)

	s.NoError(s.PgxMock.ExpectationsWereMet())
}
