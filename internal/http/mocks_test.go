package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/service"
)

var testSecret = []byte("test-secret")

type mockCarts struct {
	cart    *domain.Cart
	line    *domain.CartLine
	err     error
	added   []int64
	lineIDs []string
	qty     int
}

func (m *mockCarts) GetCart(_ context.Context, profileID string) (*domain.Cart, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.cart, nil
}

func (m *mockCarts) AddLine(_ context.Context, _ string, productID int64, qty int) (*domain.CartLine, error) {
	m.added = append(m.added, productID)
	m.qty = qty
	if m.err != nil {
		return nil, m.err
	}
	return m.line, nil
}

func (m *mockCarts) SetLineQuantity(_ context.Context, _, lineID string, qty int) (*domain.CartLine, error) {
	m.lineIDs = append(m.lineIDs, lineID)
	m.qty = qty
	if m.err != nil {
		return nil, m.err
	}
	return m.line, nil
}

func (m *mockCarts) RemoveLine(_ context.Context, _, lineID string) error {
	m.lineIDs = append(m.lineIDs, lineID)
	return m.err
}

func (m *mockCarts) Clear(context.Context, string) error {
	return m.err
}

type mockReservations struct {
	res     *domain.Reservation
	list    []*domain.Reservation
	err     error
	convert service.ConvertRequest
	actor   domain.Actor
	status  string
	notes   string
	version *int
	limit   int
}

func (m *mockReservations) Convert(_ context.Context, req service.ConvertRequest) (*domain.Reservation, error) {
	m.convert = req
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

func (m *mockReservations) SetStatus(_ context.Context, actor domain.Actor, _, status string, expectedVersion *int) (*domain.Reservation, error) {
	m.actor, m.status, m.version = actor, status, expectedVersion
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

func (m *mockReservations) UpdateNotes(_ context.Context, actor domain.Actor, _, notes string, expectedVersion *int) (*domain.Reservation, error) {
	m.actor, m.notes, m.version = actor, notes, expectedVersion
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

func (m *mockReservations) Get(_ context.Context, actor domain.Actor, _ string) (*domain.Reservation, error) {
	m.actor = actor
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

func (m *mockReservations) ListMine(_ context.Context, actor domain.Actor, limit int) ([]*domain.Reservation, error) {
	m.actor, m.limit = actor, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.list, nil
}

type mockNotifications struct {
	list      []domain.Notification
	unread    int64
	updated   int64
	err       error
	recipient string
	id        string
	limit     int
	snapshots []*service.Snapshot
	watchErr  error
	watching  chan struct{}
}

func (m *mockNotifications) List(_ context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	m.recipient, m.limit = recipientID, limit
	return m.list, m.err
}

func (m *mockNotifications) UnreadCount(_ context.Context, recipientID string) (int64, error) {
	m.recipient = recipientID
	return m.unread, m.err
}

func (m *mockNotifications) MarkRead(_ context.Context, recipientID, id string) error {
	m.recipient, m.id = recipientID, id
	return m.err
}

func (m *mockNotifications) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	m.recipient = recipientID
	return m.updated, m.err
}

func (m *mockNotifications) Delete(_ context.Context, recipientID, id string) error {
	m.recipient, m.id = recipientID, id
	return m.err
}

// Watch emits the canned snapshots, then blocks until the stream is torn down.
func (m *mockNotifications) Watch(ctx context.Context, recipientID string, _ int, emit func(*service.Snapshot) error) error {
	m.recipient = recipientID
	for _, s := range m.snapshots {
		if err := emit(s); err != nil {
			return err
		}
	}
	if m.watching != nil {
		close(m.watching)
	}
	if m.watchErr != nil {
		return m.watchErr
	}
	<-ctx.Done()
	return ctx.Err()
}

type mockCatalog struct {
	product *domain.Product
	saved   *domain.Product
	actor   domain.Actor
	err     error
}

func (m *mockCatalog) Get(_ context.Context, id int64) (*domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.product, nil
}

func (m *mockCatalog) Save(_ context.Context, actor domain.Actor, p *domain.Product) error {
	m.actor, m.saved = actor, p
	return m.err
}

type testAPI struct {
	carts         *mockCarts
	reservations  *mockReservations
	notifications *mockNotifications
	catalog       *mockCatalog
	server        *httptest.Server
}

// newTestAPI serves the router over httptest; originPatterns are the extra websocket origins allowed.
func newTestAPI(t *testing.T, checks map[string]HealthCheck, originPatterns ...string) *testAPI {
	t.Helper()
	api := &testAPI{
		carts:         &mockCarts{},
		reservations:  &mockReservations{},
		notifications: &mockNotifications{},
		catalog:       &mockCatalog{},
	}
	timeout := 5 * time.Second
	router := NewRouter(RouterConfig{
		JWTSecret:      testSecret,
		RequestTimeout: timeout,
		HealthChecks:   checks,
	}, Handlers{
		Carts:         NewCartHandler(api.carts, timeout),
		Reservations:  NewReservationHandler(api.reservations, timeout),
		Notifications: NewNotificationHandler(api.notifications, timeout, originPatterns...),
		Products:      NewProductHandler(api.catalog, timeout),
	})
	api.server = httptest.NewServer(router)
	t.Cleanup(api.server.Close)
	return api
}

func token(t *testing.T, profileID string, role domain.Role) string {
	t.Helper()
	tok, err := IssueToken(testSecret, profileID, role, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return tok
}

// request calls the API; header holds name/value pairs.
func (a *testAPI) request(t *testing.T, method, path, body, tok string, header ...string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}
