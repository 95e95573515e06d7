package repository

import (
	"context"

	"app/internal/domain/model"
)

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	// FOR UPDATEで取得。ステータス遷移のread-then-writeを同一Tx内で守る。
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)

	// ゲートウェイ通知の突合用。
	FindByMerchantTradeNoForUpdate(ctx context.Context, tradeNo string) (model.Order, error)

	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)
	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error

	// merchant_trade_noは作成Tx内で一度だけ設定する。
	SetMerchantTradeNo(ctx context.Context, orderID int64, tradeNo string) error
}
