package usecase_test

import (
	"context"
	"testing"
	"time"

	"app/internal/domain/model"
	"app/internal/ecpay"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testSigner() *ecpay.Signer {
	return ecpay.NewSigner(ecpay.Config{
		MerchantID:     "3002607",
		HashKey:        "pwFHCqoQZGmho4w6",
		HashIV:         "EkRm7iFT261dpevs",
		APIURL:         "https://payment-stage.example/AioCheckOut/V5",
		TradeDesc:      "online shopping",
		ReturnURL:      "https://api.example/ecpay/return",
		OrderResultURL: "https://fe.example/order-result",
	})
}

func newPaymentUC(repos *txReposStub, users *UserRepoMock, pub *PublisherMock) *usecase.PaymentUsecase {
	tm := newTxManagerStub(repos)
	return usecase.NewPaymentUsecase(tm, usecase.NewOrderUsecase(tm), users, testSigner(), pub)
}

func awaitingOrder() model.Order {
	return model.Order{
		ID:              42,
		UserID:          1,
		Status:          model.OrderStatusAwaitingPayment,
		TotalAmount:     120,
		ShippingName:    "Lin",
		PaymentMethod:   "Credit",
		MerchantTradeNo: "EC000000421748779200",
		CreatedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// 決済リクエストは注文の確定値だけの関数。何度発行しても同じ内容になる。
func TestPaymentUsecase_IssuePaymentRequest_Deterministic(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	users := new(UserRepoMock)
	pub := new(PublisherMock)
	uc := newPaymentUC(repos, users, pub)

	users.On("FindByID", mock.Anything, int64(1)).Return(&model.User{ID: 1, Email: "u@test.com"}, nil)
	repos.orders.On("FindByIDForUpdate", mock.Anything, int64(42)).Return(awaitingOrder(), nil)
	repos.orderItems.On("ListByOrderID", mock.Anything, int64(42)).Return([]model.OrderItem{
		{OrderID: 42, ProductID: 3, ProductNameSnapshot: "Mouse", UnitPriceSnapshot: 50, Quantity: 2},
		{OrderID: 42, ProductID: 4, ProductNameSnapshot: "Cable", UnitPriceSnapshot: 20, Quantity: 1},
	}, nil)
	repos.auditLogs.On("Create", mock.Anything, mock.Anything).Return(nil)

	first, err := uc.IssuePaymentRequest(ctx, 1, 42)
	assert.NoError(t, err)

	second, err := uc.IssuePaymentRequest(ctx, 1, 42)
	assert.NoError(t, err)

	//再発行は同一バイト列（CheckMacValue含む）
	assert.Equal(t, first.FormData, second.FormData)
	assert.Equal(t, "EC000000421748779200", first.MerchantTradeNo)
	assert.Equal(t, "120", first.FormData["TotalAmount"])
	assert.Equal(t, "Mouse x2#Cable x1", first.FormData["ItemName"])
	assert.Equal(t, "2025/06/01 12:00:00", first.FormData["MerchantTradeDate"])
	assert.NotEmpty(t, first.FormData["CheckMacValue"])

	//AWAITING_PAYMENTのままなのでステータス更新は走らない
	repos.orders.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

// 初回発行でPENDING -> AWAITING_PAYMENT
func TestPaymentUsecase_IssuePaymentRequest_FirstIssueTransitions(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	users := new(UserRepoMock)
	uc := newPaymentUC(repos, users, new(PublisherMock))

	o := awaitingOrder()
	o.Status = model.OrderStatusPending

	users.On("FindByID", mock.Anything, int64(1)).Return(&model.User{ID: 1, Email: "u@test.com"}, nil)
	repos.orders.On("FindByIDForUpdate", mock.Anything, int64(42)).Return(o, nil)
	repos.orders.On("UpdateStatus", mock.Anything, int64(42), model.OrderStatusAwaitingPayment).Return(nil)
	repos.orderItems.On("ListByOrderID", mock.Anything, int64(42)).Return([]model.OrderItem{
		{OrderID: 42, ProductID: 3, ProductNameSnapshot: "Mouse", UnitPriceSnapshot: 50, Quantity: 2},
	}, nil)
	repos.auditLogs.On("Create", mock.Anything, mock.Anything).Return(nil)

	out, err := uc.IssuePaymentRequest(ctx, 1, 42)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), out.OrderID)

	repos.orders.AssertExpectations(t)
}

func TestPaymentUsecase_IssuePaymentRequest_TerminalRejected(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	users := new(UserRepoMock)
	uc := newPaymentUC(repos, users, new(PublisherMock))

	o := awaitingOrder()
	o.Status = model.OrderStatusPaid

	users.On("FindByID", mock.Anything, int64(1)).Return(&model.User{ID: 1, Email: "u@test.com"}, nil)
	repos.orders.On("FindByIDForUpdate", mock.Anything, int64(42)).Return(o, nil)

	_, err := uc.IssuePaymentRequest(ctx, 1, 42)
	assert.True(t, usecase.HasCode(err, usecase.CodeInvalidTransition))
}

func TestPaymentUsecase_IssuePaymentRequest_Forbidden(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	users := new(UserRepoMock)
	uc := newPaymentUC(repos, users, new(PublisherMock))

	users.On("FindByID", mock.Anything, int64(9)).Return(&model.User{ID: 9, Email: "x@test.com"}, nil)
	repos.orders.On("FindByIDForUpdate", mock.Anything, int64(42)).Return(awaitingOrder(), nil)

	_, err := uc.IssuePaymentRequest(ctx, 9, 42)
	assert.True(t, usecase.HasCode(err, usecase.CodeForbidden))
}

// 署名付きのコールバックを作る
func signedCallback(tradeNo string, rtnCode string) map[string]string {
	params := map[string]string{
		"MerchantID":      "3002607",
		"MerchantTradeNo": tradeNo,
		"RtnCode":         rtnCode,
		"RtnMsg":          "Succeeded",
		"TradeAmt":        "120",
		"PaymentDate":     "2025/06/01 12:05:00",
	}
	params["CheckMacValue"] = ecpay.CheckMacValue(params, "pwFHCqoQZGmho4w6", "EkRm7iFT261dpevs")
	return params
}

// RtnCode=1でPAIDへ。イベントは1回だけ。
func TestPaymentUsecase_HandleGatewayCallback_Paid(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	pub := new(PublisherMock)
	uc := newPaymentUC(repos, new(UserRepoMock), pub)

	o := awaitingOrder()

	repos.orders.On("FindByMerchantTradeNoForUpdate", mock.Anything, o.MerchantTradeNo).Return(o, nil)
	repos.orders.On("UpdateStatus", mock.Anything, int64(42), model.OrderStatusPaid).Return(nil)
	repos.orderItems.On("ListByOrderID", mock.Anything, int64(42)).Return([]model.OrderItem{}, nil)
	repos.auditLogs.On("Create", mock.Anything, mock.MatchedBy(func(l model.AuditLog) bool {
		//ゲートウェイ通知の操作主体は0
		return l.Action == model.AuditActionGatewayCallback && l.ActorUserID == 0
	})).Return(nil)

	pub.On("Publish", mock.Anything, "order.paid", mock.Anything).Return(nil).Once()

	ack, err := uc.HandleGatewayCallback(ctx, signedCallback(o.MerchantTradeNo, "1"))
	assert.NoError(t, err)
	assert.Equal(t, usecase.GatewayAckOK, ack)

	repos.orders.AssertExpectations(t)
	pub.AssertExpectations(t)
}

// RtnCode!=1はFAILED。減らした在庫を戻す。
func TestPaymentUsecase_HandleGatewayCallback_Failed_RestoresStock(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	pub := new(PublisherMock)
	uc := newPaymentUC(repos, new(UserRepoMock), pub)

	o := awaitingOrder()

	repos.orders.On("FindByMerchantTradeNoForUpdate", mock.Anything, o.MerchantTradeNo).Return(o, nil)
	repos.orders.On("UpdateStatus", mock.Anything, int64(42), model.OrderStatusFailed).Return(nil)
	repos.orderItems.On("ListByOrderID", mock.Anything, int64(42)).Return([]model.OrderItem{
		{OrderID: 42, ProductID: 3, Quantity: 2},
	}, nil)
	repos.inventory.On("IncreaseStock", mock.Anything, int64(3), int64(2)).Return(nil)
	repos.auditLogs.On("Create", mock.Anything, mock.Anything).Return(nil)

	pub.On("Publish", mock.Anything, "order.failed", mock.Anything).Return(nil).Once()

	ack, err := uc.HandleGatewayCallback(ctx, signedCallback(o.MerchantTradeNo, "0"))
	assert.NoError(t, err)
	assert.Equal(t, usecase.GatewayAckOK, ack)

	repos.inventory.AssertExpectations(t)
	pub.AssertExpectations(t)
}

// 終了状態の注文への重複通知はACKだけ返し、何も変えない
func TestPaymentUsecase_HandleGatewayCallback_DuplicateIsNoop(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	pub := new(PublisherMock)
	uc := newPaymentUC(repos, new(UserRepoMock), pub)

	o := awaitingOrder()
	o.Status = model.OrderStatusPaid

	repos.orders.On("FindByMerchantTradeNoForUpdate", mock.Anything, o.MerchantTradeNo).Return(o, nil)

	ack, err := uc.HandleGatewayCallback(ctx, signedCallback(o.MerchantTradeNo, "1"))
	assert.NoError(t, err)
	assert.Equal(t, usecase.GatewayAckOK, ack)

	repos.orders.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	repos.inventory.AssertNotCalled(t, "IncreaseStock", mock.Anything, mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

// CheckMacValue不一致は改ざん扱い。注文には一切触れない。
func TestPaymentUsecase_HandleGatewayCallback_SignatureMismatch(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	pub := new(PublisherMock)
	uc := newPaymentUC(repos, new(UserRepoMock), pub)

	params := signedCallback("EC000000421748779200", "1")
	params["TradeAmt"] = "999" // 改ざん

	repos.auditLogs.On("Create", mock.Anything, mock.MatchedBy(func(l model.AuditLog) bool {
		return l.Action == model.AuditActionRejectCallback
	})).Return(nil)

	_, err := uc.HandleGatewayCallback(ctx, params)
	assert.True(t, usecase.HasCode(err, usecase.CodeSignatureMismatch))

	repos.orders.AssertNotCalled(t, "FindByMerchantTradeNoForUpdate", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)

	repos.auditLogs.AssertExpectations(t)
}
