// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力した表示名などのプレーンテキストから
// HTMLマークアップを除去する。bluemondayのStrictPolicyを使用し、
// すべてのタグを取り除いた上で文字参照を元の文字に戻す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はタグを除去したプレーンテキストを返す。
	// scriptとstyleは中身ごと除去する。前後の空白は取り除く。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// 文字参照で書かれたタグ（&lt;b&gt;など）も復元後にもう一度除去する。
func (s *textSanitizer) Sanitize(raw string) string {
	text := s.strip(raw)
	text = s.strip(text)
	return strings.TrimSpace(text)
}

func (s *textSanitizer) strip(raw string) string {
	return html.UnescapeString(s.policy.Sanitize(raw))
}
