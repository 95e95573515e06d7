package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

// 安定したエラーコード。handlerはこのコードとメッセージだけを外に出す。
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeEmptyCart         = "EMPTY_CART"
	CodeOutOfStock        = "OUT_OF_STOCK"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeSignatureMismatch = "SIGNATURE_MISMATCH"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL"
)

type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func NewHTTPError(status int, code string, message string) error {
	return &HTTPError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// エラー分類ごとのコンストラクタ。ストレージ層のエラーはここを通してからhandlerに渡す。

func NewValidationError(message string) error {
	return NewHTTPError(http.StatusBadRequest, CodeValidation, message)
}

func NewNotFoundError(message string) error {
	return NewHTTPError(http.StatusNotFound, CodeNotFound, message)
}

// 他ユーザーのリソースへのアクセス。セキュリティイベントとして記録される前提。
func NewForbiddenError(message string) error {
	return NewHTTPError(http.StatusForbidden, CodeForbidden, message)
}

func NewEmptyCartError() error {
	return NewHTTPError(http.StatusBadRequest, CodeEmptyCart, "cart is empty")
}

func NewOutOfStockError(productName string) error {
	return NewHTTPError(http.StatusBadRequest, CodeOutOfStock, "insufficient stock for product: "+productName)
}

// 終了状態からの遷移など。整合性の問題なので呼び出し側で高severityログを残す。
func NewInvalidTransitionError(message string) error {
	return NewHTTPError(http.StatusConflict, CodeInvalidTransition, message)
}

// CheckMacValue不一致。改ざんの疑いとして扱い、注文には一切触れない。
func NewSignatureMismatchError() error {
	return NewHTTPError(http.StatusBadRequest, CodeSignatureMismatch, "check mac value mismatch")
}

func NewUnauthorizedError() error {
	return NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
}

func newDBError() error {
	return NewHTTPError(http.StatusInternalServerError, CodeInternal, "db error")
}

// HasCode はerrが指定コードのHTTPErrorかを返す（テスト・分岐用）。
func HasCode(err error, code string) bool {
	he, ok := AsHTTPError(err)
	return ok && he.Code == code
}
