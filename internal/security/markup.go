// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MarkupChecker はオペレーターが入力する表示用テキストにHTMLマークアップが
// 含まれていないかを判定する。値は書き換えずにそのまま保存し、
// エスケープは表示側で行う。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupChecker はテキスト中のマークアップ検出のインターフェース。
type MarkupChecker interface {
	// ContainsMarkup はタグやコメントなど、StrictPolicyで除去される要素が
	// 含まれていればtrueを返す。&や'、単独の<などの文字は対象外。
	ContainsMarkup(raw string) bool
}

// markupChecker はMarkupCheckerの実装。
// bluemondayのポリシーはゴルーチン安全。
type markupChecker struct {
	policy *bluemonday.Policy
}

// NewMarkupChecker はタグを一切許可しないStrictPolicyでMarkupCheckerを生成する。
func NewMarkupChecker() MarkupChecker {
	return &markupChecker{
		policy: bluemonday.StrictPolicy(),
	}
}

// ContainsMarkup はStrictPolicyを通した結果と元の文字列を、
// 文字参照を展開した状態で比較する。
func (c *markupChecker) ContainsMarkup(raw string) bool {
	if raw == "" {
		return false
	}
	return html.UnescapeString(c.policy.Sanitize(raw)) != html.UnescapeString(raw)
}
