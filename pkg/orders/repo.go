package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Provider interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

type PostgresProvider struct {
	pool *pgxpool.Pool
}

func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

func (p *PostgresProvider) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if p.pool == nil {
		return nil, errors.New("db pool is nil")
	}

	const query = `
		SELECT id, status, user_id, merchant_owner_id, driver_user_id, updated_at
		FROM orders
		WHERE id = $1
	`

	ctxTimeout, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var o Order
	var status string
	row := p.pool.QueryRow(ctxTimeout, query, orderID)
	if err := row.Scan(&o.ID, &status, &o.UserID, &o.MerchantOwnerID, &o.DriverUserID, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = Status(status)
	return &o, nil
}

// MemoryProvider is a map-backed Provider for development mode and tests.
type MemoryProvider struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{orders: make(map[string]Order)}
}

func (p *MemoryProvider) Put(o Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	}
	p.orders[o.ID] = o
}

// SetStatus moves an order to status and stamps UpdatedAt with at.
func (p *MemoryProvider) SetStatus(orderID string, status Status, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	p.orders[orderID] = o
	return nil
}

func (p *MemoryProvider) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}
