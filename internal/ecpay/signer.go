package ecpay

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// 綠界金流（ECPay）の署名まわり。
// CheckMacValueはHTTPから切り離した純関数。コールバック側も同じ関数で再計算して突合する。

// 静的なマーチャント設定。プロセス起動時に読み込み、以後不変。
type Config struct {
	MerchantID string
	HashKey    string
	HashIV     string
	APIURL     string
	TradeDesc  string

	//付款結果通知URL（サーバー側）
	ReturnURL string
	//付款完成跳転URL（フロント側、?order_id=を付ける）
	OrderResultURL string

	//trueなら署名済みペイロードを返すだけで、実ゲートウェイへは送らせない
	DryRun bool
}

type Signer struct {
	cfg Config
}

func NewSigner(cfg Config) *Signer {
	return &Signer{cfg: cfg}
}

func (s *Signer) FormURL() string { return s.cfg.APIURL }
func (s *Signer) DryRun() bool    { return s.cfg.DryRun }

// 決済リクエストの入力。注文の確定値だけから組む（クライアント入力は混ぜない）。
type TradeItem struct {
	Name     string
	Quantity int64
}

type TradeInput struct {
	MerchantTradeNo string
	//注文作成時刻。現在時刻ではなくこれを使うことで、同じ注文は何度組んでも同じ結果になる。
	TradeDate     time.Time
	TotalAmount   int64
	Items         []TradeItem
	ChoosePayment string
	CustomerName  string
	CustomerEmail string
	OrderID       int64
}

// ゲートウェイが要求するフィールド一式＋CheckMacValueを組み立てる。
// 同じ入力からは必ず同じmapができる。
func (s *Signer) BuildPaymentRequest(in TradeInput) map[string]string {
	params := map[string]string{
		"MerchantID":        s.cfg.MerchantID,
		"MerchantTradeNo":   in.MerchantTradeNo,
		"MerchantTradeDate": in.TradeDate.Format("2006/01/02 15:04:05"),
		"PaymentType":       "aio",
		"TotalAmount":       strconv.FormatInt(in.TotalAmount, 10),
		"TradeDesc":         s.cfg.TradeDesc,
		"ItemName":          buildItemName(in.Items),
		"ReturnURL":         s.cfg.ReturnURL,
		"OrderResultURL":    fmt.Sprintf("%s?order_id=%d", s.cfg.OrderResultURL, in.OrderID),
		"ChoosePayment":     in.ChoosePayment,
		"EncryptType":       "1", // SHA256
		"CustomerName":      in.CustomerName,
		"CustomerPhone":     "",
		"CustomerEmail":     in.CustomerEmail,
	}

	params["CheckMacValue"] = CheckMacValue(params, s.cfg.HashKey, s.cfg.HashIV)
	return params
}

// 通知の検証。CheckMacValueを除いた全フィールドから再計算し、定数時間で比較する。
func (s *Signer) Verify(params map[string]string) bool {
	given, ok := params["CheckMacValue"]
	if !ok || given == "" {
		return false
	}

	want := CheckMacValue(params, s.cfg.HashKey, s.cfg.HashIV)
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(given)), []byte(want)) == 1
}

// 商品名は「名前 x数量」を#で連結。最大10件。
func buildItemName(items []TradeItem) string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, fmt.Sprintf("%s x%d", it.Name, it.Quantity))
		if len(names) == 10 {
			break
		}
	}
	return strings.Join(names, "#")
}

// CheckMacValue を生成する。
// 手順（ゲートウェイ仕様）:
//  1. CheckMacValueを除外
//  2. キーをA-Z順（大文字小文字を区別しない）に並べる
//  3. key=value を & で連結
//  4. 先頭に HashKey、末尾に HashIV
//  5. URLEncodeして全小文字化
//  6. 特定文字を戻す（.NET互換）
//  7. SHA256して全大文字で返す
func CheckMacValue(params map[string]string, hashKey string, hashIV string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "CheckMacValue" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	var b strings.Builder
	b.WriteString("HashKey=")
	b.WriteString(hashKey)
	for _, k := range keys {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	b.WriteString("&HashIV=")
	b.WriteString(hashIV)

	encoded := strings.ToLower(url.QueryEscape(b.String()))
	encoded = ecpayReplacer.Replace(encoded)

	sum := sha256.Sum256([]byte(encoded))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// URLEncode後に原文へ戻す文字（.NETのUrlEncodeに合わせる）。
// QueryEscapeは空白を+にするが、ここでは%20が期待される。
var ecpayReplacer = strings.NewReplacer(
	"+", "%20",
	"%2d", "-",
	"%5f", "_",
	"%2e", ".",
	"%21", "!",
	"%2a", "*",
	"%28", "(",
	"%29", ")",
)
