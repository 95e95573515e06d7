package handler

import (
	"net/http"
	"strconv"

	"app/internal/config"
	"app/internal/middleware"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 綠界金流（ECPay）まわりのHTTP。
// /ecpay/return はゲートウェイのサーバーが叩くので認証なし・応答はtext/plain。
type ECPayHandler struct {
	uc *usecase.PaymentUsecase
}

func NewECPayHandler(uc *usecase.PaymentUsecase) *ECPayHandler {
	return &ECPayHandler{uc: uc}
}

func (h *ECPayHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/ecpay")

	authed := g.Group("", middleware.AuthJWT(cfg))
	authed.POST("/create-order", h.createOrder)
	authed.POST("/orders/:id/payment", h.issuePayment)

	//付款結果通知（認証なし。CheckMacValueが本人性の代わり）
	g.POST("/return", h.paymentReturn)
}

// カート確定と決済リクエスト発行を1回で行う
func (h *ECPayHandler) createOrder(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: usecase.CodeUnauthorized})
	}

	var req OrderCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body", Code: usecase.CodeValidation})
	}

	out, err := h.uc.CheckoutWithGateway(c.Request().Context(), userID, usecase.CreateOrderInput{
		ShippingName:    req.ShippingName,
		ShippingAddress: req.ShippingAddress,
		ShippingCity:    req.ShippingCity,
		ShippingZip:     req.ShippingZip,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, out)
}

// 既存注文の決済リクエストを（再）発行する
func (h *ECPayHandler) issuePayment(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: usecase.CodeUnauthorized})
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id", Code: usecase.CodeValidation})
	}

	out, err := h.uc.IssuePaymentRequest(c.Request().Context(), userID, orderID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

// ゲートウェイからの付款結果通知。
// 成功時は "1|OK" をtext/plainで返す（それ以外だとゲートウェイが再送する）。
func (h *ECPayHandler) paymentReturn(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return c.String(http.StatusBadRequest, "0|BadRequest")
	}

	params := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	ack, err := h.uc.HandleGatewayCallback(c.Request().Context(), params)
	if err != nil {
		//署名不一致・不正遷移は改ざんや再送バグの疑いがあるので本文ごと記録する
		if usecase.HasCode(err, usecase.CodeSignatureMismatch) || usecase.HasCode(err, usecase.CodeInvalidTransition) {
			c.Logger().Errorf("gateway callback rejected: %v params=%v", err, params)
		}

		if he, ok := usecase.AsHTTPError(err); ok {
			return c.String(he.Status, "0|"+he.Code)
		}
		return c.String(http.StatusInternalServerError, "0|"+usecase.CodeInternal)
	}

	return c.String(http.StatusOK, ack)
}
