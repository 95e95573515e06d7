package usecase_test

import (
	"context"
	"testing"

	"app/internal/domain/model"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestCartUsecase_AddItem_RejectsZeroQuantity(t *testing.T) {
	repos := newTxReposStub()
	uc := usecase.NewCartUsecase(newTxManagerStub(repos))

	_, err := uc.AddItem(context.Background(), 1, usecase.AddCartItemInput{ProductID: 3, Quantity: 0})
	assertErrContains(t, err, "quantity")

	//Txに入る前に弾く
	repos.cartItems.AssertNotCalled(t, "UpsertAdd", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// 同一商品の追加は数量加算になる
func TestCartUsecase_AddItem_SumsQuantity(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	uc := usecase.NewCartUsecase(newTxManagerStub(repos))

	cart := model.Cart{ID: 7, UserID: 1}
	product := model.Product{ID: 3, Name: "Mouse", Price: 50, Stock: 10, IsActive: true}

	repos.carts.On("GetOrCreateByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.carts.On("LockByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.products.On("FindByID", mock.Anything, int64(3)).Return(product, nil)

	//1回目は追加前の明細、2回目（レスポンス組み立て）は追加後
	repos.cartItems.On("ListByCartID", mock.Anything, int64(7)).
		Return([]model.CartItem{{ID: 11, CartID: 7, ProductID: 3, Quantity: 1}}, nil).Once()
	repos.cartItems.On("ListByCartID", mock.Anything, int64(7)).
		Return([]model.CartItem{{ID: 11, CartID: 7, ProductID: 3, Quantity: 3}}, nil).Once()

	repos.cartItems.On("UpsertAdd", mock.Anything, int64(7), int64(3), int64(2)).Return(nil)
	repos.carts.On("Touch", mock.Anything, int64(7)).Return(nil)

	out, err := uc.AddItem(ctx, 1, usecase.AddCartItemInput{ProductID: 3, Quantity: 2})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(out.Items))
	assert.Equal(t, int64(3), out.Items[0].Quantity)
	assert.Equal(t, int64(150), out.Items[0].Subtotal)
	assert.Equal(t, int64(150), out.Total)

	repos.cartItems.AssertExpectations(t)
	repos.carts.AssertExpectations(t)
}

// 既存数量＋追加分が在庫を超えるなら拒否
func TestCartUsecase_AddItem_StockExceeded(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	uc := usecase.NewCartUsecase(newTxManagerStub(repos))

	cart := model.Cart{ID: 7, UserID: 1}
	product := model.Product{ID: 3, Name: "Mouse", Price: 50, Stock: 2, IsActive: true}

	repos.carts.On("GetOrCreateByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.carts.On("LockByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.products.On("FindByID", mock.Anything, int64(3)).Return(product, nil)
	repos.cartItems.On("ListByCartID", mock.Anything, int64(7)).
		Return([]model.CartItem{{ID: 11, CartID: 7, ProductID: 3, Quantity: 1}}, nil)

	_, err := uc.AddItem(ctx, 1, usecase.AddCartItemInput{ProductID: 3, Quantity: 2})
	assertErrContains(t, err, "stock")

	repos.cartItems.AssertNotCalled(t, "UpsertAdd", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// 非公開商品はNotFound扱い
func TestCartUsecase_AddItem_InactiveProduct(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	uc := usecase.NewCartUsecase(newTxManagerStub(repos))

	cart := model.Cart{ID: 7, UserID: 1}

	repos.carts.On("GetOrCreateByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.carts.On("LockByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.products.On("FindByID", mock.Anything, int64(3)).
		Return(model.Product{ID: 3, IsActive: false}, nil)

	_, err := uc.AddItem(ctx, 1, usecase.AddCartItemInput{ProductID: 3, Quantity: 1})
	assert.True(t, usecase.HasCode(err, usecase.CodeNotFound))
}

// 1未満の数量指定は1に切り上げる（削除にはしない）
func TestCartUsecase_UpdateItem_ClampsToOne(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	uc := usecase.NewCartUsecase(newTxManagerStub(repos))

	cart := model.Cart{ID: 7, UserID: 1}
	item := model.CartItem{ID: 5, CartID: 7, ProductID: 3, Quantity: 4}
	product := model.Product{ID: 3, Name: "Mouse", Price: 50, Stock: 10, IsActive: true}

	repos.carts.On("LockByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.cartItems.On("IsOwnedByUser", mock.Anything, int64(5), int64(1)).Return(true, nil)
	repos.cartItems.On("FindByID", mock.Anything, int64(5)).Return(item, nil)
	repos.products.On("FindByID", mock.Anything, int64(3)).Return(product, nil)

	//0を渡しても1で更新される
	repos.cartItems.On("UpdateQuantity", mock.Anything, int64(5), int64(1)).Return(nil)
	repos.carts.On("Touch", mock.Anything, int64(7)).Return(nil)
	repos.cartItems.On("ListByCartID", mock.Anything, int64(7)).
		Return([]model.CartItem{{ID: 5, CartID: 7, ProductID: 3, Quantity: 1}}, nil)

	out, err := uc.UpdateItem(ctx, 1, 5, usecase.UpdateCartItemInput{Quantity: 0})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), out.Items[0].Quantity)

	repos.cartItems.AssertExpectations(t)
}

// 他人の明細は存在を教えずNotFound
func TestCartUsecase_UpdateItem_NotOwned(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	uc := usecase.NewCartUsecase(newTxManagerStub(repos))

	repos.carts.On("LockByUserID", mock.Anything, int64(1)).Return(model.Cart{ID: 7, UserID: 1}, nil)
	repos.cartItems.On("IsOwnedByUser", mock.Anything, int64(5), int64(1)).Return(false, nil)

	_, err := uc.UpdateItem(ctx, 1, 5, usecase.UpdateCartItemInput{Quantity: 2})
	assert.True(t, usecase.HasCode(err, usecase.CodeNotFound))

	repos.cartItems.AssertNotCalled(t, "UpdateQuantity", mock.Anything, mock.Anything, mock.Anything)
}

// 既に無い明細の削除はエラーにしない（冪等）
func TestCartUsecase_RemoveItem_IdempotentWhenMissing(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	uc := usecase.NewCartUsecase(newTxManagerStub(repos))

	cart := model.Cart{ID: 7, UserID: 1}

	repos.carts.On("GetOrCreateByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.carts.On("LockByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.cartItems.On("IsOwnedByUser", mock.Anything, int64(99), int64(1)).Return(false, nil)
	repos.cartItems.On("ListByCartID", mock.Anything, int64(7)).Return([]model.CartItem{}, nil)

	out, err := uc.RemoveItem(ctx, 1, 99)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), out.Total)

	repos.cartItems.AssertNotCalled(t, "DeleteByID", mock.Anything, mock.Anything)
}

// 非公開になった商品はレスポンスから除外される（価格は常に現在値）
func TestCartUsecase_GetCart_SkipsInactiveProducts(t *testing.T) {
	ctx := context.Background()

	repos := newTxReposStub()
	uc := usecase.NewCartUsecase(newTxManagerStub(repos))

	cart := model.Cart{ID: 7, UserID: 1}

	repos.carts.On("GetOrCreateByUserID", mock.Anything, int64(1)).Return(cart, nil)
	repos.cartItems.On("ListByCartID", mock.Anything, int64(7)).Return([]model.CartItem{
		{ID: 1, CartID: 7, ProductID: 3, Quantity: 2},
		{ID: 2, CartID: 7, ProductID: 4, Quantity: 1},
	}, nil)

	repos.products.On("FindByID", mock.Anything, int64(3)).
		Return(model.Product{ID: 3, Name: "Mouse", Price: 50, Stock: 10, IsActive: true}, nil)
	repos.products.On("FindByID", mock.Anything, int64(4)).
		Return(model.Product{ID: 4, Name: "Old", Price: 99, IsActive: false}, nil)

	out, err := uc.GetCart(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(out.Items))
	assert.Equal(t, int64(100), out.Total)
}
