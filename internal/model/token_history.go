package model

import "time"

// TokenHistory は発行済みトークンの台帳レコードを表す。
// 発行ごとに1レコード作成され、ログアウト時にIsValidがfalseになる（一方向）。
// 有効期限切れはIsValidに反映されず、検証時にのみ判定される。
type TokenHistory struct {
	ID        string
	UserID    string
	Token     string
	CreatedAt time.Time
	IsValid   bool
}
