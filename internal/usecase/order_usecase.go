package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// 注文イベントの発行の約束（AMQP実装はinfra/event）。
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

// ゲートウェイが受け付ける支払い方法
var allowedPaymentMethods = map[string]bool{
	"Credit":  true,
	"WebATM":  true,
	"ATM":     true,
	"CVS":     true,
	"BARCODE": true,
}

type OrderUsecase struct {
	tx repo.TransactionManager
}

func NewOrderUsecase(tx repo.TransactionManager) *OrderUsecase {
	return &OrderUsecase{tx: tx}
}

type CreateOrderInput struct {
	ShippingName    string
	ShippingAddress string
	ShippingCity    string
	ShippingZip     string
	PaymentMethod   string
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

type OrderOutput struct {
	ID              int64             `json:"id"`
	UserID          int64             `json:"user_id"`
	Status          string            `json:"status"`
	TotalAmount     int64             `json:"total_amount"`
	ShippingName    string            `json:"shipping_name"`
	ShippingAddress string            `json:"shipping_address"`
	ShippingCity    string            `json:"shipping_city"`
	ShippingZip     string            `json:"shipping_zip"`
	PaymentMethod   string            `json:"payment_method"`
	MerchantTradeNo string            `json:"merchant_trade_no"`
	CreatedAt       time.Time         `json:"created_at"`
	Items           []OrderItemOutput `json:"items"`
}

// merchant_trade_noは注文IDと作成時刻から決定的に採番する。
// "EC" + 注文ID8桁 + unix秒10桁 = 20文字（ゲートウェイの上限）。
func BuildMerchantTradeNo(orderID int64, createdAt time.Time) string {
	return fmt.Sprintf("EC%08d%010d", orderID%100000000, createdAt.Unix())
}

// CreateOrder はカートから注文を確定する。
// カート読取・在庫減算・注文作成・カートクリアまでを1つのTxで行う。
// 途中で失敗したら全部巻き戻る（部分的な注文は残らない）。
func (u *OrderUsecase) CreateOrder(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewUnauthorizedError()
	}

	if err := validateCreateOrderInput(&in); err != nil {
		return OrderOutput{}, err
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//カート行ロック。Tx終了まで同一ユーザーのカート変更を待たせる。
		cart, err := r.Carts().LockByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewEmptyCartError()
		}
		if err != nil {
			return newDBError()
		}

		cartItems, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return newDBError()
		}
		if len(cartItems) == 0 {
			return NewEmptyCartError()
		}

		//価格と在庫は確定時点で商品テーブルから引き直す。クライアントの申告値は使わない。
		now := time.Now()
		orderItems := make([]model.OrderItem, 0, len(cartItems))
		var total int64 = 0

		for _, ci := range cartItems {
			p, err := r.Products().FindByID(ctx, ci.ProductID)
			if errors.Is(err, repo.ErrNotFound) {
				return NewNotFoundError("product not found")
			}
			if err != nil {
				return newDBError()
			}
			if !p.IsActive {
				return NewNotFoundError("product not available")
			}

			//在庫減算（足りないなら false）。足りなければ注文全体を中止。
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, ci.ProductID, ci.Quantity)
			if err != nil {
				return newDBError()
			}
			if !ok {
				return NewOutOfStockError(p.Name)
			}

			//スナップショット（以後、商品価格が変わっても注文には影響しない）
			orderItems = append(orderItems, model.OrderItem{
				ProductID:           ci.ProductID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   p.Price,
				Quantity:            ci.Quantity,
				CreatedAt:           now,
			})

			total += p.Price * ci.Quantity
		}

		// 注文作成
		orderID, err := r.Orders().Create(ctx, model.Order{
			UserID:          userID,
			Status:          model.OrderStatusPending,
			TotalAmount:     total,
			ShippingName:    in.ShippingName,
			ShippingAddress: in.ShippingAddress,
			ShippingCity:    in.ShippingCity,
			ShippingZip:     in.ShippingZip,
			PaymentMethod:   in.PaymentMethod,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return newDBError()
		}

		//採番は一度だけ。再生成はしない。
		tradeNo := BuildMerchantTradeNo(orderID, now)
		if err := r.Orders().SetMerchantTradeNo(ctx, orderID, tradeNo); err != nil {
			return newDBError()
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return newDBError()
		}

		//カートクリアは注文行が書けた後。順序を逆にすると途中クラッシュでカートが消える。
		if err := r.Carts().Clear(ctx, cart.ID); err != nil {
			return newDBError()
		}
		if err := r.Carts().Touch(ctx, cart.ID); err != nil {
			return newDBError()
		}

		created := model.Order{
			ID:              orderID,
			UserID:          userID,
			Status:          model.OrderStatusPending,
			TotalAmount:     total,
			ShippingName:    in.ShippingName,
			ShippingAddress: in.ShippingAddress,
			ShippingCity:    in.ShippingCity,
			ShippingZip:     in.ShippingZip,
			PaymentMethod:   in.PaymentMethod,
			MerchantTradeNo: tradeNo,
			CreatedAt:       now,
		}
		out = toOrderOutput(created, orderItems)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func validateCreateOrderInput(in *CreateOrderInput) error {
	in.ShippingName = strings.TrimSpace(in.ShippingName)
	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	in.ShippingCity = strings.TrimSpace(in.ShippingCity)
	in.ShippingZip = strings.TrimSpace(in.ShippingZip)

	if in.ShippingName == "" {
		return NewValidationError("shipping_name is required")
	}
	if in.ShippingAddress == "" {
		return NewValidationError("shipping_address is required")
	}
	if in.ShippingCity == "" {
		return NewValidationError("shipping_city is required")
	}
	if in.ShippingZip == "" {
		return NewValidationError("shipping_zip is required")
	}

	if in.PaymentMethod == "" {
		in.PaymentMethod = "Credit"
	}
	if !allowedPaymentMethods[in.PaymentMethod] {
		return NewValidationError("invalid payment_method")
	}
	return nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewUnauthorizedError()
	}

	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return newDBError()
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return newDBError()
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

// GetMyOrder は所有者チェック付きの注文詳細。
// 他人の注文はForbidden（存在は漏らすが中身は返さない方針）。
func (u *OrderUsecase) GetMyOrder(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewUnauthorizedError()
	}
	if orderID <= 0 {
		return OrderOutput{}, NewValidationError("invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("order not found")
		}
		if err != nil {
			return newDBError()
		}
		if o.UserID != userID {
			return NewForbiddenError("not your order")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return newDBError()
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// CancelOrder はユーザーによる取消。PENDINGからのみ。減らした在庫は戻す。
func (u *OrderUsecase) CancelOrder(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewUnauthorizedError()
	}
	if orderID <= 0 {
		return OrderOutput{}, NewValidationError("invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("order not found")
		}
		if err != nil {
			return newDBError()
		}
		if o.UserID != userID {
			return NewForbiddenError("not your order")
		}

		updated, items, err := transition(ctx, r, o, model.OrderStatusCanceled)
		if err != nil {
			return err
		}

		auditTransition(ctx, r, userID, model.AuditActionCancelOrder, o, updated)

		out = toOrderOutput(updated, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// TransitionStatus は遷移表に従ったステータス更新。
// 呼び出し側でFindByIDForUpdateした注文を渡す前提（同一Tx内でread-then-writeを守る）。
// FAILED/CANCELEDへの遷移では確定時に減らした在庫を戻す。
func transition(ctx context.Context, r repo.TxRepos, o model.Order, next model.OrderStatus) (model.Order, []model.OrderItem, error) {
	if !o.Status.CanTransitionTo(next) {
		return model.Order{}, nil, NewInvalidTransitionError(
			fmt.Sprintf("order %d: cannot transition %s -> %s", o.ID, o.Status, next))
	}

	if err := r.Orders().UpdateStatus(ctx, o.ID, next); err != nil {
		return model.Order{}, nil, newDBError()
	}

	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return model.Order{}, nil, newDBError()
	}

	//在庫戻しは1回だけ。終了状態からの再遷移はCanTransitionToで弾かれる。
	if next == model.OrderStatusFailed || next == model.OrderStatusCanceled {
		for _, it := range items {
			if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
				return model.Order{}, nil, newDBError()
			}
		}
	}

	updated := o
	updated.Status = next
	return updated, items, nil
}

// 遷移の前後を監査ログに残す。ログ書き込み失敗でTxは落とさない。
func auditTransition(ctx context.Context, r repo.TxRepos, actorUserID int64, action model.AuditAction, before model.Order, after model.Order) {
	b, _ := json.Marshal(map[string]any{"status": before.Status})
	a, _ := json.Marshal(map[string]any{"status": after.Status})

	_ = r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actorUserID,
		Action:       action,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   before.ID,
		BeforeJSON:   string(b),
		AfterJSON:    string(a),
		CreatedAt:    time.Now(),
	})
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
		})
	}

	return OrderOutput{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount,
		ShippingName:    o.ShippingName,
		ShippingAddress: o.ShippingAddress,
		ShippingCity:    o.ShippingCity,
		ShippingZip:     o.ShippingZip,
		PaymentMethod:   o.PaymentMethod,
		MerchantTradeNo: o.MerchantTradeNo,
		CreatedAt:       o.CreatedAt,
		Items:           outItems,
	}
}
