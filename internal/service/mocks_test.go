package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/cache"
	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/feed"
	"github.com/fjod/go_cart/reservation-service/internal/notification"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeRepo is an in-memory repository.RepoInterface. InTx snapshots the state and restores it when fn
// fails, which is enough to observe all-or-nothing behavior in single-goroutine tests.
type fakeRepo struct {
	mu           sync.Mutex
	products     map[int64]*domain.Product
	carts        map[string]*domain.Cart
	reservations map[string]*domain.Reservation
	outbox       []*repository.OutboxEvent
	nextEventID  int64
	inTx         bool
	failOn       map[string]error
	cartLoads    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		products:     map[int64]*domain.Product{},
		carts:        map[string]*domain.Cart{},
		reservations: map[string]*domain.Reservation{},
		failOn:       map[string]error{},
	}
}

type fakeState struct {
	products     map[int64]*domain.Product
	carts        map[string]*domain.Cart
	reservations map[string]*domain.Reservation
	outbox       []*repository.OutboxEvent
	nextEventID  int64
}

func (r *fakeRepo) snapshot() fakeState {
	s := fakeState{
		products:     map[int64]*domain.Product{},
		carts:        map[string]*domain.Cart{},
		reservations: map[string]*domain.Reservation{},
		outbox:       append([]*repository.OutboxEvent(nil), r.outbox...),
		nextEventID:  r.nextEventID,
	}
	for id, p := range r.products {
		cp := *p
		s.products[id] = &cp
	}
	for id, c := range r.carts {
		s.carts[id] = cloneCart(c)
	}
	for id, res := range r.reservations {
		s.reservations[id] = cloneReservation(res)
	}
	return s
}

func (r *fakeRepo) restore(s fakeState) {
	r.products = s.products
	r.carts = s.carts
	r.reservations = s.reservations
	r.outbox = s.outbox
	r.nextEventID = s.nextEventID
}

func cloneCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Lines = append([]domain.CartLine{}, c.Lines...)
	return &cp
}

func cloneReservation(res *domain.Reservation) *domain.Reservation {
	cp := *res
	cp.Items = append([]domain.ReservationItem(nil), res.Items...)
	return &cp
}

func (r *fakeRepo) fail(op string) error {
	return r.failOn[op]
}

func (r *fakeRepo) InTx(_ context.Context, fn func(q repository.Queries) error) error {
	r.mu.Lock()
	saved := r.snapshot()
	r.inTx = true
	r.mu.Unlock()

	err := fn(r)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inTx = false
	if err != nil {
		r.restore(saved)
	}
	return err
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

func (r *fakeRepo) addProduct(id int64, price string, stock int, active bool) *domain.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &domain.Product{ID: id, Name: "product", Price: mustDecimal(price), Stock: stock, IsActive: active}
	r.products[id] = p
	return p
}

func (r *fakeRepo) setStock(id int64, stock int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[id].Stock = stock
}

func (r *fakeRepo) setPrice(id int64, price string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[id].Price = mustDecimal(price)
}

func (r *fakeRepo) cartLines(profileID string) []domain.CartLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[profileID]
	if !ok {
		return nil
	}
	return append([]domain.CartLine{}, c.Lines...)
}

func (r *fakeRepo) reservationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reservations)
}

func (r *fakeRepo) outboxNotifications() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Notification, 0, len(r.outbox))
	for _, e := range r.outbox {
		var n domain.Notification
		if err := json.Unmarshal(e.Payload, &n); err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

func (r *fakeRepo) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetProduct"); err != nil {
		return nil, err
	}
	p, ok := r.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) LockProducts(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("LockProducts"); err != nil {
		return nil, err
	}
	out := map[int64]*domain.Product{}
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *fakeRepo) SaveProduct(_ context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("SaveProduct"); err != nil {
		return err
	}
	cp := *p
	cp.UpdatedAt = time.Now()
	r.products[p.ID] = &cp
	return nil
}

func (r *fakeRepo) GetCartByProfile(_ context.Context, profileID string) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cartLoads++
	if err := r.fail("GetCartByProfile"); err != nil {
		return nil, err
	}
	c, ok := r.carts[profileID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (r *fakeRepo) EnsureCart(_ context.Context, profileID string) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("EnsureCart"); err != nil {
		return nil, err
	}
	c, ok := r.carts[profileID]
	if !ok {
		now := time.Now()
		c = &domain.Cart{ID: uuid.NewString(), ProfileID: profileID, Lines: []domain.CartLine{}, CreatedAt: now, UpdatedAt: now}
		r.carts[profileID] = c
	}
	cp := *c
	cp.Lines = nil
	return &cp, nil
}

func (r *fakeRepo) cartByID(cartID string) *domain.Cart {
	for _, c := range r.carts {
		if c.ID == cartID {
			return c
		}
	}
	return nil
}

func (r *fakeRepo) ListLinesForUpdate(_ context.Context, cartID string) ([]domain.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ListLinesForUpdate"); err != nil {
		return nil, err
	}
	c := r.cartByID(cartID)
	if c == nil {
		return []domain.CartLine{}, nil
	}
	return append([]domain.CartLine{}, c.Lines...), nil
}

func (r *fakeRepo) GetLineByProductForUpdate(_ context.Context, cartID string, productID int64) (*domain.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.cartByID(cartID); c != nil {
		for _, l := range c.Lines {
			if l.ProductID == productID {
				cp := l
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrLineNotFound
}

func (r *fakeRepo) GetLineForUpdate(_ context.Context, cartID, lineID string) (*domain.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.cartByID(cartID); c != nil {
		for _, l := range c.Lines {
			if l.ID == lineID {
				cp := l
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrLineNotFound
}

func (r *fakeRepo) InsertLine(_ context.Context, line *domain.CartLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("InsertLine"); err != nil {
		return err
	}
	c := r.cartByID(line.CartID)
	for _, l := range c.Lines {
		if l.ProductID == line.ProductID {
			return repository.ErrDuplicateLine
		}
	}
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	line.AddedAt = time.Now()
	c.Lines = append(c.Lines, *line)
	return nil
}

func (r *fakeRepo) UpdateLineQuantity(_ context.Context, lineID string, quantity, stockCeiling int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdateLineQuantity"); err != nil {
		return err
	}
	for _, c := range r.carts {
		for i := range c.Lines {
			if c.Lines[i].ID == lineID {
				c.Lines[i].Quantity = quantity
				c.Lines[i].StockCeiling = stockCeiling
				return nil
			}
		}
	}
	return repository.ErrLineNotFound
}

func (r *fakeRepo) DeleteLine(_ context.Context, cartID, lineID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("DeleteLine"); err != nil {
		return false, err
	}
	c := r.cartByID(cartID)
	if c == nil {
		return false, nil
	}
	for i, l := range c.Lines {
		if l.ID == lineID {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) ClearLines(_ context.Context, cartID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ClearLines"); err != nil {
		return 0, err
	}
	c := r.cartByID(cartID)
	if c == nil {
		return 0, nil
	}
	n := int64(len(c.Lines))
	c.Lines = []domain.CartLine{}
	return n, nil
}

func (r *fakeRepo) InsertReservation(_ context.Context, res *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("InsertReservation"); err != nil {
		return err
	}
	now := time.Now()
	res.CreatedAt, res.UpdatedAt = now, now
	cp := *res
	cp.Items = nil
	r.reservations[res.ID] = &cp
	return nil
}

func (r *fakeRepo) InsertReservationItems(_ context.Context, items []domain.ReservationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inTx {
		return repository.ErrNotInTransaction
	}
	if err := r.fail("InsertReservationItems"); err != nil {
		return err
	}
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return err
		}
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		res := r.reservations[items[i].ReservationID]
		res.Items = append(res.Items, items[i])
	}
	return nil
}

func (r *fakeRepo) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, repository.ErrReservationNotFound
	}
	return cloneReservation(res), nil
}

func (r *fakeRepo) GetReservationForUpdate(_ context.Context, id string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetReservationForUpdate"); err != nil {
		return nil, err
	}
	res, ok := r.reservations[id]
	if !ok {
		return nil, repository.ErrReservationNotFound
	}
	cp := cloneReservation(res)
	cp.Items = nil
	return cp, nil
}

func (r *fakeRepo) ListReservationsByProfile(_ context.Context, profileID string, limit int) ([]*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Reservation, 0)
	for _, res := range r.reservations {
		if res.ProfileID == profileID {
			cp := cloneReservation(res)
			cp.Items = nil
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) UpdateReservationStatus(_ context.Context, id string, status domain.ReservationStatus, version int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdateReservationStatus"); err != nil {
		return nil, err
	}
	res, ok := r.reservations[id]
	if !ok || res.Version != version {
		return nil, repository.ErrVersionConflict
	}
	res.Status = status
	res.Version++
	res.UpdatedAt = time.Now()
	cp := cloneReservation(res)
	cp.Items = nil
	return cp, nil
}

func (r *fakeRepo) UpdateReservationNotes(_ context.Context, id, notes string, version int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok || res.Version != version {
		return nil, repository.ErrVersionConflict
	}
	res.Notes = notes
	res.Version++
	res.UpdatedAt = time.Now()
	cp := cloneReservation(res)
	cp.Items = nil
	return cp, nil
}

func (r *fakeRepo) DeleteOrphanReservations(_ context.Context, createdBefore time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, res := range r.reservations {
		if len(res.Items) == 0 && res.CreatedAt.Before(createdBefore) {
			ids = append(ids, id)
			delete(r.reservations, id)
		}
	}
	return ids, nil
}

func (r *fakeRepo) InsertOutboxEvent(_ context.Context, aggregateID, eventType string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("InsertOutboxEvent"); err != nil {
		return err
	}
	r.nextEventID++
	r.outbox = append(r.outbox, &repository.OutboxEvent{
		ID:          r.nextEventID,
		AggregateId: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (r *fakeRepo) GetUnprocessedEvents(context.Context, int) ([]*repository.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*repository.OutboxEvent(nil), r.outbox...), nil
}

func (r *fakeRepo) MarkEventAsProcessed(context.Context, int64) error {
	return nil
}

type mockCache struct {
	m           sync.RWMutex
	carts       map[string]*domain.Cart
	generations map[string]int64
	err         error
	deletes     int
	// beforeSet runs at the start of Set, outside the lock.
	beforeSet   func()
}

func newMockCache() *mockCache {
	return &mockCache{carts: map[string]*domain.Cart{}, generations: map[string]int64{}}
}

func (m *mockCache) Get(_ context.Context, profileID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[profileID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cloneCart(c), nil
}

func (m *mockCache) Generation(_ context.Context, profileID string) (int64, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.generations[profileID], nil
}

func (m *mockCache) Set(_ context.Context, profileID string, cart *domain.Cart, generation int64) error {
	if m.beforeSet != nil {
		m.beforeSet()
	}
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.generations[profileID] != generation {
		return cache.ErrStaleFill
	}
	m.carts[profileID] = cloneCart(cart)
	return nil
}

func (m *mockCache) Delete(_ context.Context, profileID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	m.generations[profileID]++
	delete(m.carts, profileID)
	return nil
}

func (m *mockCache) cached(profileID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.carts[profileID]
	return ok
}

// fakeStore is an in-memory notification.Store.
type fakeStore struct {
	mu    sync.Mutex
	items map[string]domain.Notification
	err   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]domain.Notification{}}
}

func (s *fakeStore) Insert(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.items[n.ID]; ok {
		return notification.ErrDuplicateNotification
	}
	s.items[n.ID] = *n
	return nil
}

func (s *fakeStore) ListRecent(_ context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.Notification, 0)
	for _, n := range s.items {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CountUnread(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.items {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) MarkRead(_ context.Context, recipientID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return notification.ErrNotificationNotFound
	}
	n.IsRead = true
	s.items[id] = n
	return nil
}

func (s *fakeStore) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for id, n := range s.items {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			s.items[id] = n
			changed++
		}
	}
	return changed, nil
}

func (s *fakeStore) Delete(_ context.Context, recipientID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

// fakeFeed fans published events out to subscribers of the same recipient.
type fakeFeed struct {
	mu         sync.Mutex
	published  []feed.Event
	subs       map[string][]*fakeSubscription
	publishErr error
	subscribed chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: map[string][]*fakeSubscription{}, subscribed: make(chan struct{}, 8)}
}

func (f *fakeFeed) Publish(_ context.Context, recipientID string, ev feed.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, ev)
	for _, s := range f.subs[recipientID] {
		s.events <- ev
	}
	return nil
}

func (f *fakeFeed) Subscribe(_ context.Context, recipientID string) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSubscription{events: make(chan feed.Event, 64)}
	f.subs[recipientID] = append(f.subs[recipientID], s)
	f.subscribed <- struct{}{}
	return s, nil
}

func (f *fakeFeed) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeSubscription struct {
	events chan feed.Event
}

func (s *fakeSubscription) Events() <-chan feed.Event { return s.events }

func (s *fakeSubscription) Close() error { return nil }

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
