package model

import "time"

// 決済まわりの操作の種類。
type AuditAction string

const (
	//決済リクエストを発行した。
	AuditActionIssuePaymentRequest AuditAction = "ISSUE_PAYMENT_REQUEST"
	//ゲートウェイ通知で注文ステータスを更新した。
	AuditActionGatewayCallback AuditAction = "GATEWAY_CALLBACK"
	//検証に失敗した通知を拒否した（改ざんの疑い）。
	AuditActionRejectCallback AuditAction = "REJECT_CALLBACK"
	//ユーザー操作で注文を取り消した。
	AuditActionCancelOrder AuditAction = "CANCEL_ORDER"
)

// 何に対する操作か
type AuditResourceType string

const (
	AuditResourceOrder   AuditResourceType = "order"
	AuditResourcePayment AuditResourceType = "payment"
)

// 監査ログ。決済リクエストの発行とゲートウェイ通知の結果を残す。
// 「誰が」「何を」「どの対象に」「どう変えたか」。
type AuditLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//操作主体のユーザーID。ゲートウェイ通知は0。
	ActorUserID int64 `gorm:"not null;index" json:"actor_user_id"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	ResourceID int64 `gorm:"not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	//JSON文字列で保存する。
	AfterJSON string `gorm:"type:text" json:"after_json"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
