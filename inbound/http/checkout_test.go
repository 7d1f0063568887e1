package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"ticketbox/common/constant"
	"ticketbox/outbound/payment"
	paymentMock "ticketbox/outbound/payment/mocks"
	"ticketbox/outbound/store"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redismock/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type CheckoutHttpTestSuite struct {
	suite.Suite

	Cfg *viper.Viper

	Querier *store.Queries
	PgxMock pgxmock.PgxPoolIface

	Cache     *redis.Client
	CacheMock redismock.ClientMock

	Validate *validator.Validate
	Provider *paymentMock.MockProvider
}

func (s *CheckoutHttpTestSuite) SetupTest() {
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

	s.Validate = validator.New()
	s.Provider = paymentMock.NewMockProvider(ctrl)

	s.Cfg = viper.New()
	s.Cfg.Set("checkout.expired_after", "15m")

	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func (s *CheckoutHttpTestSuite) TearDownTest() {
	s.PgxMock.Close()

	if err := s.Cache.Close(); err != nil {
		s.T().Fatalf("failed to close redis mock: %v", err)
	}
}

func TestCheckoutHttpTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutHttpTestSuite))
}

func (s *CheckoutHttpTestSuite) ticketTypeRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "event_id", "name", "price_cents", "currency", "capacity",
		"min_per_order", "max_per_order", "sales_start", "sales_end", "is_active",
	}).AddRow(
		int64(1), int64(1), "General Admission", int64(5000), "USD", int32(100),
		int32(1), int32(4),
		pgtype.Timestamptz{Time: time.Date(2022, 12, 1, 0, 0, 0, 0, time.UTC), Valid: true},
		pgtype.Timestamptz{Time: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), Valid: true},
		true,
	)
}

func (s *CheckoutHttpTestSuite) TestCreate() {
	fixedTime := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		reqBody        string
		setupMock      func()
		expectedStatus int
		expectedBody   string
		timeNow        func() time.Time
	}{
		{
			name:           "invalid json",
			reqBody:        `{invalid json`,
			setupMock:      func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Invalid request"}`,
		},
		{
			name:           "validation error - missing ticket type",
			reqBody:        `{"quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock:      func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Validation failed","data":{"TicketTypeId":"required"}}`,
		},
		{
			name:           "validation error - invalid phone",
			reqBody:        `{"ticket_type_id": 1, "quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "invalid"}`,
			setupMock:      func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Validation failed","data":{"Phone":"e164"}}`,
		},
		{
			name:    "ticket type not found",
			reqBody: `{"ticket_type_id": 99, "quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock: func() {
				s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
					WithArgs(int64(99)).
					WillReturnError(pgx.ErrNoRows)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"Ticket type not found"}`,
		},
		{
			name:    "quantity above per-order bound, provider never called",
			reqBody: `{"ticket_type_id": 1, "quantity": 5, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock: func() {
				s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
					WithArgs(int64(1)).
					WillReturnRows(s.ticketTypeRows())
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Validation failed","data":{"Quantity":"must be between 1 and 4"}}`,
			timeNow:        func() time.Time { return fixedTime },
		},
		{
			name:    "sale window closed, provider never called",
			reqBody: `{"ticket_type_id": 1, "quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock: func() {
				s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
					WithArgs(int64(1)).
					WillReturnRows(s.ticketTypeRows())
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"error":"Ticket type is not on sale"}`,
			timeNow: func() time.Time {
				return time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
			},
		},
		{
			name:    "sold out from cached issued count, provider never called",
			reqBody: `{"ticket_type_id": 1, "quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock: func() {
				s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
					WithArgs(int64(1)).
					WillReturnRows(s.ticketTypeRows())
				s.CacheMock.ExpectGet(fmt.Sprintf(constant.TicketTypeIssuedKey, int64(1))).
					SetVal("99")
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"error":"Sold out"}`,
			timeNow:        func() time.Time { return fixedTime },
		},
		{
			name:    "cache miss falls back to store count",
			reqBody: `{"ticket_type_id": 1, "quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock: func() {
				s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
					WithArgs(int64(1)).
					WillReturnRows(s.ticketTypeRows())
				s.CacheMock.ExpectGet(fmt.Sprintf(constant.TicketTypeIssuedKey, int64(1))).
					RedisNil()
				s.PgxMock.ExpectQuery(`SELECT COUNT\(\*\) FROM tickets WHERE ticket_type_id = \$1`).
					WithArgs(int64(1)).
					WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(100)))
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"error":"Sold out"}`,
			timeNow:        func() time.Time { return fixedTime },
		},
		{
			name:    "provider error",
			reqBody: `{"ticket_type_id": 1, "quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock: func() {
				s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
					WithArgs(int64(1)).
					WillReturnRows(s.ticketTypeRows())
				s.CacheMock.ExpectGet(fmt.Sprintf(constant.TicketTypeIssuedKey, int64(1))).
					SetVal("10")

				s.Provider.EXPECT().
					Initiate(gomock.Any(), gomock.Any()).
					Return("", fmt.Errorf("provider unavailable"))
			},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `{"error":"Payment failed"}`,
			timeNow:        func() time.Time { return fixedTime },
		},
		{
			name:    "insert intent error",
			reqBody: `{"ticket_type_id": 1, "quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock: func() {
				s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
					WithArgs(int64(1)).
					WillReturnRows(s.ticketTypeRows())
				s.CacheMock.ExpectGet(fmt.Sprintf(constant.TicketTypeIssuedKey, int64(1))).
					SetVal("10")

				s.Provider.EXPECT().
					Initiate(gomock.Any(), gomock.Any()).
					Return("PAY-123", nil)

				s.PgxMock.ExpectQuery(`INSERT INTO payment_intents`).
					WithArgs(
						"PAY-123",
						int64(1),
						int32(2),
						"John Doe",
						"john@example.com",
						"+15551234567",
						int64(10000),
						"USD",
						pgtype.Timestamptz{Time: fixedTime.Add(15 * time.Minute), Valid: true},
					).
					WillReturnError(fmt.Errorf("database error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":"Internal Server Error"}`,
			timeNow:        func() time.Time { return fixedTime },
		},
		{
			name:    "success",
			reqBody: `{"ticket_type_id": 1, "quantity": 2, "name": "John Doe", "email": "john@example.com", "phone": "+15551234567"}`,
			setupMock: func() {
				s.PgxMock.ExpectQuery(`SELECT id, event_id, name, price_cents`).
					WithArgs(int64(1)).
					WillReturnRows(s.ticketTypeRows())
				s.CacheMock.ExpectGet(fmt.Sprintf(constant.TicketTypeIssuedKey, int64(1))).
					SetVal("10")

				s.Provider.EXPECT().
					Initiate(gomock.Any(), payment.InitiateRequest{
						AmountCents: 10000,
						Currency:    "USD",
						Metadata: map[string]string{
							"ticket_type_id": "1",
							"quantity":       "2",
							"buyer_email":    "john@example.com",
						},
					}).
					Return("PAY-123", nil)

				s.PgxMock.ExpectQuery(`INSERT INTO payment_intents`).
					WithArgs(
						"PAY-123",
						int64(1),
						int32(2),
						"John Doe",
						"john@example.com",
						"+15551234567",
						int64(10000),
						"USD",
						pgtype.Timestamptz{Time: fixedTime.Add(15 * time.Minute), Valid: true},
					).
					WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"payment_reference":"PAY-123"`,
			timeNow:        func() time.Time { return fixedTime },
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			checkoutHttp := RegisterCheckoutHttp(
				http.NewServeMux(),
				s.Cfg,
				s.Querier,
				s.Cache,
				s.Provider,
				s.Validate,
			)

			if tc.timeNow != nil {
				checkoutHttp.TimeNow = tc.timeNow
			}

			tc.setupMock()

			req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(tc.reqBody))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			checkoutHttp.create(w, req)

			s.Equal(tc.expectedStatus, w.Code)

			if tc.expectedStatus == http.StatusOK {
				s.Contains(w.Body.String(), tc.expectedBody)
			} else {
				actual := strings.TrimSpace(w.Body.String())
				s.Equal(tc.expectedBody, actual)
			}

			s.NoError(s.CacheMock.ExpectationsWereMet())
			s.NoError(s.PgxMock.ExpectationsWereMet())
		})
	}
}
