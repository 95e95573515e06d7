package repository

import (
	"context"

	"app/internal/domain/model"
)

type CartRepository interface {
	// ユーザーのカートを取得。無ければ作る。
	GetOrCreateByUserID(ctx context.Context, userID int64) (model.Cart, error)

	// カート行をFOR UPDATEでロックして取得。
	// 同一ユーザーのカート変更と注文確定を直列化するために使う。
	LockByUserID(ctx context.Context, userID int64) (model.Cart, error)

	FindByUserID(ctx context.Context, userID int64) (model.Cart, error)

	// 明細を全削除（カート行は残す）
	Clear(ctx context.Context, cartID int64) error

	// updated_atを更新
	Touch(ctx context.Context, cartID int64) error
}
