package config

import (
	"fmt"
	"os"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	JWTSecret string // JWT署名シークレット

	GoEnv      string // dev/prod
	BackendURL string // 外から見えるAPIのURL（ゲートウェイの通知先に使う）
	FEURL      string // フロントURL（CORSと付款完成跳転に使う）

	// 綠界金流（ECPay）。未設定ならステージング値で動く。
	ECPayMerchantID string
	ECPayHashKey    string
	ECPayHashIV     string
	ECPayAPIURL     string
	ECPayDryRun     bool

	// イベント発行用。空ならイベントは発行しない。
	RabbitMQURL string
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port: os.Getenv("PORT"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv:      os.Getenv("GO_ENV"),
		BackendURL: os.Getenv("BACKEND_URL"),
		FEURL:      os.Getenv("FE_URL"),

		//ステージング環境の公開テスト値をデフォルトにする
		ECPayMerchantID: getenv("ECPAY_MERCHANT_ID", "3002607"),
		ECPayHashKey:    getenv("ECPAY_HASH_KEY", "pwFHCqoQZGmho4w6"),
		ECPayHashIV:     getenv("ECPAY_HASH_IV", "EkRm7iFT261dpevs"),
		ECPayAPIURL:     getenv("ECPAY_API_URL", "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"),
		ECPayDryRun:     os.Getenv("ECPAY_DRY_RUN") == "1" || os.Getenv("ECPAY_DRY_RUN") == "true",

		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
	}

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	if cfg.BackendURL == "" {
		return Config{}, fmt.Errorf("BACKEND_URL is required")
	}
	if cfg.FEURL == "" {
		return Config{}, fmt.Errorf("FE_URL is required")
	}

	return cfg, nil
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
