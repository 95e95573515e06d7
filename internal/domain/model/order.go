package model

import "time"

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPaid            OrderStatus = "PAID"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
)

// 終了状態（これ以降の遷移は不可）
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// 許可される遷移。
// PENDING -> AWAITING_PAYMENT（決済リクエスト発行）
// PENDING -> CANCELED（ユーザー取消）
// AWAITING_PAYMENT -> PAID / FAILED（ゲートウェイ通知）
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusAwaitingPayment || next == OrderStatusCanceled
	case OrderStatusAwaitingPayment:
		return next == OrderStatusPaid || next == OrderStatusFailed
	default:
		return false
	}
}

// 注文は確定時点のスナップショット。作成後、明細と金額は不変。
type Order struct {
	ID              int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64       `gorm:"not null;index" json:"user_id"`
	Status          OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	TotalAmount     int64       `gorm:"not null" json:"total_amount"`
	ShippingName    string      `gorm:"type:varchar(100);not null" json:"shipping_name"`
	ShippingAddress string      `gorm:"type:varchar(255);not null" json:"shipping_address"`
	ShippingCity    string      `gorm:"type:varchar(100);not null" json:"shipping_city"`
	ShippingZip     string      `gorm:"type:varchar(20);not null" json:"shipping_zip"`
	PaymentMethod   string      `gorm:"type:varchar(20);not null" json:"payment_method"`
	// ゲートウェイとの突合ID。注文作成トランザクション内で一度だけ採番する。
	// 採番前の空文字は一意制約の対象外（部分インデックス）。
	MerchantTradeNo string    `gorm:"type:varchar(20);not null;default:'';uniqueIndex:idx_orders_trade_no,where:merchant_trade_no <> ''" json:"merchant_trade_no"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
