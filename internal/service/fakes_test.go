package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/pluginclient"
	"mcstore/internal/store"

	"github.com/shopspring/decimal"
)

// memStore mirrors the transactional behaviour of store.Store in memory
type memStore struct {
	mu         sync.Mutex
	products   map[string]*models.Product
	categories map[string]*models.Category
	orders     map[string]*models.Order
	users      map[string]*models.User
	sessions   map[string]*models.ChatSession
	messages   map[string][]models.ChatMessage
	stats      *models.ServerStats
	daily      map[string]int
	resets     map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		products:   map[string]*models.Product{},
		categories: map[string]*models.Category{},
		orders:     map[string]*models.Order{},
		users:      map[string]*models.User{},
		sessions:   map[string]*models.ChatSession{},
		messages:   map[string][]models.ChatMessage{},
		daily:      map[string]int{},
		resets:     map[string]time.Time{},
	}
}

func intPtr(n int) *int { return &n }

func (m *memStore) addProduct(id, name string, price string, stock *int, commands ...string) {
	m.products[id] = &models.Product{
		ID:             id,
		Name:           name,
		Price:          decimal.RequireFromString(price),
		Stock:          stock,
		InGameCommands: commands,
	}
}

func (m *memStore) stock(id string) *int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.products[id].Stock; s != nil {
		v := *s
		return &v
	}
	return nil
}

func (m *memStore) order(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

// OrderStore

func (m *memStore) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	o.CreatedAt = time.Now()
	m.orders[o.ID] = &o
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderByPaymentIntent(ctx context.Context, paymentID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == paymentID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]models.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			all = append(all, *o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memStore) guarded(orderID string, check func(o *models.Order) bool, apply func(o *models.Order)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || !check(o) {
		return store.ErrStatusConflict
	}
	apply(o)
	return nil
}

func pending(o *models.Order) bool { return o.Status == models.OrderStatusPending }

func (m *memStore) SetPaymentIntent(ctx context.Context, orderID, paymentID string) error {
	return m.guarded(orderID, pending, func(o *models.Order) { o.PaymentIntentID = &paymentID })
}

func (m *memStore) FailOrder(ctx context.Context, orderID, reason string) error {
	return m.guarded(orderID, pending, func(o *models.Order) {
		o.Status = models.OrderStatusFailed
		o.FailureReason = &reason
	})
}

func (m *memStore) CancelOrder(ctx context.Context, orderID, userID string) error {
	return m.guarded(orderID,
		func(o *models.Order) bool { return pending(o) && o.UserID == userID },
		func(o *models.Order) { o.Status = models.OrderStatusCancelled })
}

func (m *memStore) FulfillOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if o.Status != models.OrderStatusPending {
		return nil, store.ErrStatusConflict
	}
	for _, line := range o.Products {
		p := m.products[line.ProductID]
		if p == nil || (p.Stock != nil && *p.Stock < line.Quantity) {
			return nil, &models.StockShortageError{ProductID: line.ProductID, Name: line.Name}
		}
	}
	for _, line := range o.Products {
		if p := m.products[line.ProductID]; p.Stock != nil {
			left := *p.Stock - line.Quantity
			p.Stock = &left
		}
	}
	o.Status = models.OrderStatusCompleted
	cp := *o
	return &cp, nil
}

// UserStore and DeliveryStore

func (m *memStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return &store.DuplicateUserError{Field: store.UniqueEmail}
		}
		if existing.Username == u.Username {
			return &store.DuplicateUserError{Field: store.UniqueUsername}
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) findUser(match func(u *models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.ID == id })
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.Email == email })
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.Username == username })
}

func (m *memStore) GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	return m.findUser(func(u *models.User) bool {
		return u.ResetPasswordToken != nil && *u.ResetPasswordToken == tokenHash &&
			u.ResetPasswordExpire != nil && u.ResetPasswordExpire.After(now)
	})
}

func (m *memStore) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.User{}
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *memStore) updateUser(id string, fn func(u *models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(u)
	return nil
}

func (m *memStore) SetResetToken(ctx context.Context, userID, tokenHash string, expire time.Time) error {
	return m.updateUser(userID, func(u *models.User) {
		u.ResetPasswordToken = &tokenHash
		u.ResetPasswordExpire = &expire
	})
}

func (m *memStore) ResetPassword(ctx context.Context, userID, passwordHash string) error {
	return m.updateUser(userID, func(u *models.User) {
		u.Password = passwordHash
		u.ResetPasswordToken = nil
		u.ResetPasswordExpire = nil
	})
}

func (m *memStore) SetMinecraftLink(ctx context.Context, userID, uuid, playerName string, verified bool) error {
	return m.updateUser(userID, func(u *models.User) {
		u.MinecraftUUID, u.MinecraftUsername, u.IsVerified = uuid, playerName, verified
	})
}

func (m *memStore) SetAdmin(ctx context.Context, userID string, isAdmin int) error {
	return m.updateUser(userID, func(u *models.User) { u.IsAdmin = isAdmin })
}

func (m *memStore) UpdateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	for id, existing := range m.users {
		if id == u.ID {
			continue
		}
		if existing.Email == u.Email {
			return &store.DuplicateUserError{Field: store.UniqueEmail}
		}
		if existing.Username == u.Username {
			return &store.DuplicateUserError{Field: store.UniqueUsername}
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, userID)
	return nil
}

// CatalogStore

func (m *memStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, p := range m.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) CreateProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *memStore) GetCategories(ctx context.Context) ([]models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Category{}
	for _, c := range m.categories {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetCategoryByID(ctx context.Context, id string) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CreateCategory(ctx context.Context, c *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.categories {
		if existing.Name == c.Name {
			return store.ErrDuplicate
		}
	}
	cp := *c
	m.categories[c.ID] = &cp
	return nil
}

func (m *memStore) UpdateCategory(ctx context.Context, c *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *c
	m.categories[c.ID] = &cp
	return nil
}

func (m *memStore) DeleteCategory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.categories, id)
	return nil
}

// ChatStore

func (m *memStore) MutateChatSession(ctx context.Context, sessionID string, fn store.ChatMutation) (*models.ChatSession, *models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := models.ChatSession{SessionID: sessionID, Status: models.ChatStatusActive}
	existing, exists := m.sessions[sessionID]
	if exists {
		sess = *existing
	}

	msg, err := fn(&sess, exists)
	if err != nil {
		return nil, nil, err
	}
	if msg == nil {
		return &sess, nil, nil
	}

	msg.SessionID = sessionID
	msg.Status = sess.Status
	msg.ClaimedBy = sess.ClaimedBy
	msg.ClaimedByUsername = sess.ClaimedByUsername
	msg.CreatedAt = time.Now()
	sess.LastMessage = msg.Message
	sess.LastMessageAt = &msg.CreatedAt

	m.sessions[sessionID] = &sess
	m.messages[sessionID] = append(m.messages[sessionID], *msg)
	out := sess
	return &out, msg, nil
}

func (m *memStore) GetChatMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatMessage{}, m.messages[sessionID]...), nil
}

func (m *memStore) ListChatSessions(ctx context.Context) ([]models.ChatSessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ChatSessionSummary{}
	for _, s := range m.sessions {
		summary := models.ChatSessionSummary{ChatSession: *s, IsGuest: true}
		if u, ok := m.users[s.SessionID]; ok {
			summary.Username, summary.IsGuest = u.Username, false
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(*out[j].LastMessageAt) })
	return out, nil
}

func (m *memStore) session(id string) models.ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[id]
}

// StatsStore

func (m *memStore) UpsertServerStats(ctx context.Context, stats *models.ServerStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *stats
	m.stats = &cp
	if stats.LastUpdated != nil {
		m.daily[stats.LastUpdated.UTC().Format("2006-01-02")] = stats.NewPlayersToday
	}
	return nil
}

func (m *memStore) GetDailyNewPlayers(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := since.UTC().Format("2006-01-02")
	out := []models.DailyCount{}
	for day, n := range m.daily {
		if day >= from {
			out = append(out, models.DailyCount{Day: day, Count: n})
		}
	}
	return out, nil
}

func (m *memStore) CountRegistrationsSince(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDay := map[string]int{}
	for _, u := range m.users {
		if !u.CreatedAt.Before(since) {
			byDay[u.CreatedAt.UTC().Format("2006-01-02")]++
		}
	}
	out := []models.DailyCount{}
	for day, n := range byDay {
		out = append(out, models.DailyCount{Day: day, Count: n})
	}
	return out, nil
}

func (m *memStore) GetServerStats(ctx context.Context) (*models.ServerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.stats
	return &cp, nil
}

func (m *memStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *memStore) CountProducts(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products), nil
}

func (m *memStore) CountOrders(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders), nil
}

func (m *memStore) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{
		models.OrderStatusPending:   0,
		models.OrderStatusCompleted: 0,
		models.OrderStatusFailed:    0,
		models.OrderStatusCancelled: 0,
	}
	for _, o := range m.orders {
		counts[o.Status]++
	}
	return counts, nil
}

// Collaborator fakes

type fakeGateway struct {
	createFn  func(ctx context.Context, amount decimal.Decimal, currency, description, orderID string) (*models.PaymentLink, error)
	executeFn func(ctx context.Context, paymentID, payerID string) (*models.CapturedPayment, error)
}

func (f *fakeGateway) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description, orderID string) (*models.PaymentLink, error) {
	return f.createFn(ctx, amount, currency, description, orderID)
}

func (f *fakeGateway) ExecutePayment(ctx context.Context, paymentID, payerID string) (*models.CapturedPayment, error) {
	return f.executeFn(ctx, paymentID, payerID)
}

type delivery struct {
	OrderID, UserID, ProductID string
}

type recordingDeliverer struct {
	mu    sync.Mutex
	calls []delivery
	err   error
}

func (r *recordingDeliverer) Deliver(ctx context.Context, orderID, userID, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, delivery{orderID, userID, productID})
	return r.err
}

type recordingEvents struct {
	mu     sync.Mutex
	orders []*models.OrderEvent
	chats  []*models.ChatSessionEvent
}

func (r *recordingEvents) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, event)
	return nil
}

func (r *recordingEvents) PublishChatSessionEvent(ctx context.Context, event *models.ChatSessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, event)
	return nil
}

func (r *recordingEvents) orderTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, e := range r.orders {
		types = append(types, e.EventType)
	}
	return types
}

type fixedConverter struct {
	rate decimal.Decimal
	err  error
}

func (f fixedConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return amount.Mul(f.rate), nil
}

type fakePlugin struct {
	configured bool
	executeFn  func(ctx context.Context, command string, player pluginclient.PlayerContext) error
	statsFn    func(ctx context.Context, uuid string) (json.RawMessage, error)
	sendFn     func(ctx context.Context, username string) error
	verifyFn   func(ctx context.Context, username, code string) (string, error)
}

func (f *fakePlugin) Configured() bool { return f.configured }

func (f *fakePlugin) ExecuteCommand(ctx context.Context, command string, player pluginclient.PlayerContext) error {
	return f.executeFn(ctx, command, player)
}

func (f *fakePlugin) PlayerStats(ctx context.Context, uuid string) (json.RawMessage, error) {
	return f.statsFn(ctx, uuid)
}

func (f *fakePlugin) SendVerificationCode(ctx context.Context, username string) error {
	return f.sendFn(ctx, username)
}

func (f *fakePlugin) VerifyCode(ctx context.Context, username, code string) (string, error) {
	return f.verifyFn(ctx, username, code)
}
