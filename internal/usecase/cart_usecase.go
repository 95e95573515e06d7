package usecase

import (
	"context"
	"errors"

	repo "app/internal/repository"
)

// CartUsecase は /cart の業務ロジックです。
// 変更系は全てTx内で実行し、最初にカート行をロックして
// 同一ユーザーの操作（注文確定を含む）と直列化する。
type CartUsecase struct {
	tx repo.TransactionManager
}

func NewCartUsecase(tx repo.TransactionManager) *CartUsecase {
	return &CartUsecase{tx: tx}
}

// 明細は毎回、商品テーブルの現在値（価格・名前・画像）で組み直す。
// カート自体は価格を持たないので、古い価格で買われることはない。
type CartItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	ImageURL  string `json:"image_url"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type CartResponse struct {
	Items []CartItemResponse `json:"items"`
	Total int64              `json:"total"`
}

type AddCartItemInput struct {
	ProductID int64
	Quantity  int64
}

type UpdateCartItemInput struct {
	Quantity int64
}

// GetCart はカート取得（無ければ空で作って返す）。
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewUnauthorizedError()
	}

	var out CartResponse

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateByUserID(ctx, userID)
		if err != nil {
			return newDBError()
		}

		out, err = buildCartResponse(ctx, r, cart.ID)
		return err
	})

	if err != nil {
		return CartResponse{}, err
	}
	return out, nil
}

// AddItem はカートに追加（同一商品は数量加算）。
func (u *CartUsecase) AddItem(ctx context.Context, userID int64, in AddCartItemInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewUnauthorizedError()
	}
	if in.ProductID <= 0 {
		return CartResponse{}, NewValidationError("invalid product_id")
	}
	if in.Quantity < 1 {
		return CartResponse{}, NewValidationError("quantity must be at least 1")
	}

	var out CartResponse

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateByUserID(ctx, userID)
		if err != nil {
			return newDBError()
		}
		//カート行ロック（同一ユーザーの加算を直列化）
		if _, err := r.Carts().LockByUserID(ctx, userID); err != nil {
			return newDBError()
		}

		// 商品チェック（公開のみ）
		p, err := r.Products().FindByID(ctx, in.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("product not found")
		}
		if err != nil {
			return newDBError()
		}
		if !p.IsActive {
			return NewNotFoundError("product not available")
		}

		// 既存数量＋追加分が在庫を超えないか
		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return newDBError()
		}

		var existingQty int64 = 0
		for _, it := range items {
			if it.ProductID == in.ProductID {
				existingQty = it.Quantity
				break
			}
		}

		if existingQty+in.Quantity > p.Stock {
			return NewValidationError("stock exceeded")
		}

		if err := r.CartItems().UpsertAdd(ctx, cart.ID, in.ProductID, in.Quantity); err != nil {
			return newDBError()
		}
		if err := r.Carts().Touch(ctx, cart.ID); err != nil {
			return newDBError()
		}

		out, err = buildCartResponse(ctx, r, cart.ID)
		return err
	})

	if err != nil {
		return CartResponse{}, err
	}
	return out, nil
}

// UpdateItem は数量の直接指定。1未満は1に切り上げる（削除はしない）。
func (u *CartUsecase) UpdateItem(ctx context.Context, userID int64, cartItemID int64, in UpdateCartItemInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewUnauthorizedError()
	}
	if cartItemID <= 0 {
		return CartResponse{}, NewValidationError("invalid id")
	}

	//1未満は削除ではなくclamp
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}

	var out CartResponse

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().LockByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("cart item not found")
		}
		if err != nil {
			return newDBError()
		}

		owned, err := r.CartItems().IsOwnedByUser(ctx, cartItemID, userID)
		if err != nil {
			return newDBError()
		}
		if !owned {
			return NewNotFoundError("cart item not found")
		}

		item, err := r.CartItems().FindByID(ctx, cartItemID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("cart item not found")
		}
		if err != nil {
			return newDBError()
		}

		//商品の在庫チェック
		p, err := r.Products().FindByID(ctx, item.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("product not found")
		}
		if err != nil {
			return newDBError()
		}
		if !p.IsActive {
			return NewNotFoundError("product not available")
		}
		if qty > p.Stock {
			return NewValidationError("stock exceeded")
		}

		if err := r.CartItems().UpdateQuantity(ctx, cartItemID, qty); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewNotFoundError("cart item not found")
			}
			return newDBError()
		}
		if err := r.Carts().Touch(ctx, cart.ID); err != nil {
			return newDBError()
		}

		out, err = buildCartResponse(ctx, r, cart.ID)
		return err
	})

	if err != nil {
		return CartResponse{}, err
	}
	return out, nil
}

// RemoveItem は明細削除。既に無い明細の削除はエラーにしない（冪等）。
func (u *CartUsecase) RemoveItem(ctx context.Context, userID int64, cartItemID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewUnauthorizedError()
	}
	if cartItemID <= 0 {
		return CartResponse{}, NewValidationError("invalid id")
	}

	var out CartResponse

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateByUserID(ctx, userID)
		if err != nil {
			return newDBError()
		}
		if _, err := r.Carts().LockByUserID(ctx, userID); err != nil {
			return newDBError()
		}

		owned, err := r.CartItems().IsOwnedByUser(ctx, cartItemID, userID)
		if err != nil {
			return newDBError()
		}

		//自分の明細のときだけ消す。無ければ何もしないで現状を返す。
		if owned {
			if err := r.CartItems().DeleteByID(ctx, cartItemID); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return newDBError()
			}
			if err := r.Carts().Touch(ctx, cart.ID); err != nil {
				return newDBError()
			}
		}

		out, err = buildCartResponse(ctx, r, cart.ID)
		return err
	})

	if err != nil {
		return CartResponse{}, err
	}
	return out, nil
}

// cartIDの明細をまとめてCartResponseを作る。価格は常に商品テーブルの現在値。
func buildCartResponse(ctx context.Context, r repo.TxRepos, cartID int64) (CartResponse, error) {
	items, err := r.CartItems().ListByCartID(ctx, cartID)
	if err != nil {
		return CartResponse{}, newDBError()
	}

	respItems := make([]CartItemResponse, 0, len(items))
	var total int64 = 0

	for _, it := range items {
		p, err := r.Products().FindByID(ctx, it.ProductID)
		if err != nil {
			continue
		}
		if !p.IsActive {
			continue
		}

		subtotal := p.Price * it.Quantity

		respItems = append(respItems, CartItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			Price:     p.Price,
			Quantity:  it.Quantity,
			Subtotal:  subtotal,
		})

		total += subtotal
	}

	return CartResponse{Items: respItems, Total: total}, nil
}
