package main

import (
	"context"
	"strconv"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/ecpay"
	"app/internal/handler"
	"app/internal/infra/db"
	"app/internal/infra/event"
	infraRepo "app/internal/infra/repository"
	repo "app/internal/repository"
	"app/internal/server"
	"app/internal/usecase"
	auth "app/internal/usecase/auth_usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/joho/godotenv"
)

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now()
}

type jwtIssuer struct {
	secret    []byte
	accessTTL time.Duration
}

func (i *jwtIssuer) Issue(userID int64, role model.Role, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(i.accessTTL)

	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(userID, 10),
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

func main() {
	//.envがあれば読む（コンテナでは環境変数だけで動く）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	//DB接続
	gormDB, err := db.Connect()
	if err != nil {
		panic(err)
	}
	if err := gormDB.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.Cart{},
		&model.CartItem{},
		&model.Order{},
		&model.OrderItem{},
		&model.AuditLog{},
	); err != nil {
		panic(err)
	}

	//Repository（GORM実装）生成

	userRepo := infraRepo.NewUserGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	txManager := infraRepo.NewTxManagerGorm(gormDB)

	//イベント発行（RABBITMQ_URL未設定ならNoop）
	var publisher usecase.EventPublisher = event.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		amqpPub, err := event.NewAMQPPublisher(cfg.RabbitMQURL, "orders")
		if err != nil {
			panic(err)
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	//綠界金流の署名
	signer := ecpay.NewSigner(ecpay.Config{
		MerchantID:     cfg.ECPayMerchantID,
		HashKey:        cfg.ECPayHashKey,
		HashIV:         cfg.ECPayHashIV,
		APIURL:         cfg.ECPayAPIURL,
		TradeDesc:      "online shopping",
		ReturnURL:      cfg.BackendURL + "/ecpay/return",
		OrderResultURL: cfg.FEURL + "/order-result",
		DryRun:         cfg.ECPayDryRun,
	})

	//usecaseに渡す部品
	clock := &realClock{}

	//bcrypt（会員登録：Hash / ログイン：Verify）
	hasher := auth.NewBcryptPasswordHasher(12)
	verifier := auth.NewBcryptPasswordVerifier()

	//JWT issuer
	issuer := &jwtIssuer{
		secret:    []byte(cfg.JWTSecret),
		accessTTL: 15 * time.Minute,
	}

	//Usecase生成
	registerUC := auth.NewRegisterUserUsecase(userRepo, hasher, clock)
	loginUC := auth.NewLoginUsecase(userRepo, verifier, issuer, clock)
	productUC := usecase.NewProductUsecase(productRepo)
	cartUC := usecase.NewCartUsecase(txManager)
	orderUC := usecase.NewOrderUsecase(txManager)
	paymentUC := usecase.NewPaymentUsecase(txManager, orderUC, userRepo, signer, publisher)

	//Handler生成
	h := server.Handlers{
		Auth:    handler.NewAuthHandler(registerUC, loginUC),
		Product: handler.NewProductHandler(productUC),
		Cart:    handler.NewCartHandler(cartUC),
		Order:   handler.NewOrderHandler(orderUC),
		ECPay:   handler.NewECPayHandler(paymentUC),
	}

	//開発環境だけ初期商品を入れる
	if cfg.GoEnv == "dev" {
		seedProducts(productRepo)
	}

	//Server起動
	addr := cfg.Port
	if addr[0] != ':' {
		addr = ":" + addr
	}

	if err := server.Start(addr, cfg, h); err != nil {
		panic(err)
	}
}

// 商品が1件も無いときだけ投入する
func seedProducts(productRepo repo.ProductRepository) {
	ctx := context.Background()

	_, total, err := productRepo.ListPublic(ctx, repo.ProductListQuery{Page: 1, Limit: 1})
	if err != nil || total > 0 {
		return
	}

	seeds := []model.Product{
		{Name: "Wireless Mouse", Description: "2.4GHz wireless mouse", Price: 50, Stock: 100, IsActive: true},
		{Name: "USB-C Cable", Description: "1m braided cable", Price: 20, Stock: 200, IsActive: true},
		{Name: "Mechanical Keyboard", Description: "87-key, brown switches", Price: 180, Stock: 30, IsActive: true},
	}

	for _, p := range seeds {
		_, _ = productRepo.Create(ctx, p)
	}
}
