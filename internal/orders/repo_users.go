package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct{ DB *pgxpool.Pool }

func (r *UsersRepo) AppendPurchase(ctx context.Context, userID, orderID string) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO user_purchases(user_id, order_id) VALUES ($1,$2)
		ON CONFLICT (user_id, order_id) DO NOTHING`, userID, orderID)
	return err
}

func (r *UsersRepo) NotificationSettings(ctx context.Context, userID string) (NotificationSettings, error) {
	s := NotificationSettings{UserID: userID}
	err := r.DB.QueryRow(ctx, `
		SELECT email_notifications, sms_notifications, push_notifications, order_notifications, password_notifications
		FROM notification_settings WHERE user_id=$1`, userID,
	).Scan(&s.EmailNotifications, &s.SMSNotifications, &s.PushNotifications, &s.OrderNotifications, &s.PasswordNotifications)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotificationSettings{}, ErrNotFound
	}
	return s, err
}
