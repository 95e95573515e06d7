package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"app/internal/domain/model"
	"app/internal/ecpay"
	repo "app/internal/repository"

	"github.com/google/uuid"
)

// ゲートウェイへの通知の応答トークン。これ以外を返すとゲートウェイが再送し続ける。
const GatewayAckOK = "1|OK"

// PaymentUsecase は注文とゲートウェイの橋渡し。
// 署名そのものはecpayパッケージの純関数で、ここはTx境界とステータス遷移だけを持つ。
type PaymentUsecase struct {
	tx        repo.TransactionManager
	orders    *OrderUsecase
	users     repo.UserRepository
	signer    *ecpay.Signer
	publisher EventPublisher
}

func NewPaymentUsecase(
	tx repo.TransactionManager,
	orders *OrderUsecase,
	users repo.UserRepository,
	signer *ecpay.Signer,
	publisher EventPublisher,
) *PaymentUsecase {
	return &PaymentUsecase{
		tx:        tx,
		orders:    orders,
		users:     users,
		signer:    signer,
		publisher: publisher,
	}
}

// ブラウザが自動POSTするform一式。
type PaymentFormOutput struct {
	OrderID         int64             `json:"order_id"`
	MerchantTradeNo string            `json:"merchant_trade_no"`
	FormData        map[string]string `json:"form_data"`
	FormURL         string            `json:"form_url"`
	//dry_run時はゲートウェイへ送信せず、署名済みペイロードの確認だけを行う
	DryRun bool `json:"dry_run"`
}

// 終了状態への遷移で発行するイベント。
type OrderEvent struct {
	EventID         string    `json:"event_id"`
	OrderID         int64     `json:"order_id"`
	MerchantTradeNo string    `json:"merchant_trade_no"`
	Status          string    `json:"status"`
	TotalAmount     int64     `json:"total_amount"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// CheckoutWithGateway はカートから注文を確定し、続けて決済リクエストを発行する。
// 注文確定と発行は別Tx。発行に失敗しても注文はPENDINGで残り、再発行できる。
func (u *PaymentUsecase) CheckoutWithGateway(ctx context.Context, userID int64, in CreateOrderInput) (PaymentFormOutput, error) {
	order, err := u.orders.CreateOrder(ctx, userID, in)
	if err != nil {
		return PaymentFormOutput{}, err
	}

	return u.IssuePaymentRequest(ctx, userID, order.ID)
}

// IssuePaymentRequest は署名済み決済リクエストを組み立てる。
// リクエストは注文の確定値だけの関数なので、PENDING/AWAITING_PAYMENTの間は
// 何度呼んでも同じバイト列になる（別の内容のリクエストは一度も発行されない）。
// 初回発行でPENDING -> AWAITING_PAYMENTに遷移する。終了状態の注文は拒否。
func (u *PaymentUsecase) IssuePaymentRequest(ctx context.Context, userID int64, orderID int64) (PaymentFormOutput, error) {
	if userID <= 0 {
		return PaymentFormOutput{}, NewUnauthorizedError()
	}
	if orderID <= 0 {
		return PaymentFormOutput{}, NewValidationError("invalid id")
	}

	user, err := u.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return PaymentFormOutput{}, NewUnauthorizedError()
		}
		return PaymentFormOutput{}, newDBError()
	}

	var out PaymentFormOutput

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
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

		if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusAwaitingPayment {
			return NewInvalidTransitionError("payment request cannot be issued for status " + string(o.Status))
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return newDBError()
		}

		tradeItems := make([]ecpay.TradeItem, 0, len(items))
		for _, it := range items {
			tradeItems = append(tradeItems, ecpay.TradeItem{
				Name:     it.ProductNameSnapshot,
				Quantity: it.Quantity,
			})
		}

		form := u.signer.BuildPaymentRequest(ecpay.TradeInput{
			MerchantTradeNo: o.MerchantTradeNo,
			TradeDate:       o.CreatedAt,
			TotalAmount:     o.TotalAmount,
			Items:           tradeItems,
			ChoosePayment:   o.PaymentMethod,
			CustomerName:    o.ShippingName,
			CustomerEmail:   user.Email,
			OrderID:         o.ID,
		})

		//初回だけPENDING -> AWAITING_PAYMENT。2回目以降は既にAWAITING_PAYMENTなので何もしない。
		if o.Status == model.OrderStatusPending {
			if _, _, err := transition(ctx, r, o, model.OrderStatusAwaitingPayment); err != nil {
				return err
			}
		}

		//リクエスト自体は永続化しない。監査ログにだけ残す。
		formJSON, _ := json.Marshal(form)
		_ = r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  userID,
			Action:       model.AuditActionIssuePaymentRequest,
			ResourceType: model.AuditResourcePayment,
			ResourceID:   o.ID,
			AfterJSON:    string(formJSON),
			CreatedAt:    time.Now(),
		})

		out = PaymentFormOutput{
			OrderID:         o.ID,
			MerchantTradeNo: o.MerchantTradeNo,
			FormData:        form,
			FormURL:         u.signer.FormURL(),
			DryRun:          u.signer.DryRun(),
		}
		return nil
	})

	if err != nil {
		return PaymentFormOutput{}, err
	}
	return out, nil
}

// HandleGatewayCallback はゲートウェイからの付款結果通知を処理する。
// 1. CheckMacValueを再計算して突合（不一致＝改ざん扱いで注文には触れない）
// 2. RtnCode==1ならPAID、それ以外はFAILEDへ遷移
// 3. 既に終了状態の注文への重複通知は、何も変えずにACKだけ返す
// 戻り値はゲートウェイへ返すボディ（成功時 "1|OK"）。
func (u *PaymentUsecase) HandleGatewayCallback(ctx context.Context, params map[string]string) (string, error) {
	if !u.signer.Verify(params) {
		u.auditRejectedCallback(ctx, params)
		return "", NewSignatureMismatchError()
	}

	tradeNo := params["MerchantTradeNo"]
	if tradeNo == "" {
		return "", NewValidationError("MerchantTradeNo is required")
	}

	next := model.OrderStatusFailed
	if params["RtnCode"] == "1" {
		next = model.OrderStatusPaid
	}

	var event *OrderEvent

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByMerchantTradeNoForUpdate(ctx, tradeNo)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("unknown merchant trade no")
		}
		if err != nil {
			return newDBError()
		}

		//重複通知。副作用を二重に起こさない（在庫・イベント・updated_atに触れない）。
		if o.Status.IsTerminal() {
			return nil
		}

		updated, _, err := transition(ctx, r, o, next)
		if err != nil {
			return err
		}

		auditTransition(ctx, r, 0, model.AuditActionGatewayCallback, o, updated)

		event = &OrderEvent{
			EventID:         uuid.NewString(),
			OrderID:         o.ID,
			MerchantTradeNo: o.MerchantTradeNo,
			Status:          string(next),
			TotalAmount:     o.TotalAmount,
			OccurredAt:      time.Now(),
		}
		return nil
	})

	if err != nil {
		return "", err
	}

	//イベントはTx確定後に1回だけ。重複通知ではeventがnilなので発行されない。
	if event != nil {
		key := "order.failed"
		if next == model.OrderStatusPaid {
			key = "order.paid"
		}
		_ = u.publisher.Publish(ctx, key, event)
	}

	return GatewayAckOK, nil
}

// 検証に失敗した通知を監査ログへ（改ざんの疑い）。注文は一切更新しない。
func (u *PaymentUsecase) auditRejectedCallback(ctx context.Context, params map[string]string) {
	payload, _ := json.Marshal(params)

	_ = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  0,
			Action:       model.AuditActionRejectCallback,
			ResourceType: model.AuditResourcePayment,
			ResourceID:   0,
			AfterJSON:    string(payload),
			CreatedAt:    time.Now(),
		})
	})
}
