package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// Users keeps purchase histories and notification settings.
type Users struct {
	mu        sync.RWMutex
	purchases map[string][]string
	settings  map[string]orders.NotificationSettings
}

func NewUsers() *Users {
	return &Users{
		purchases: make(map[string][]string),
		settings:  make(map[string]orders.NotificationSettings),
	}
}

func (u *Users) AppendPurchase(_ context.Context, userID, orderID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.purchases[userID] = append(u.purchases[userID], orderID)
	return nil
}

func (u *Users) PurchaseHistory(userID string) []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]string(nil), u.purchases[userID]...)
}

func (u *Users) PutSettings(s orders.NotificationSettings) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.settings[s.UserID] = s
}

// NotificationSettings returns ErrNotFound for users that never saved settings.
func (u *Users) NotificationSettings(_ context.Context, userID string) (orders.NotificationSettings, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	s, ok := u.settings[userID]
	if !ok {
		return orders.NotificationSettings{}, orders.ErrNotFound
	}
	return s, nil
}
