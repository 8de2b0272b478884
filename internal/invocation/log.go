// Package invocation はコマンド実行イベントのメモリ内ログを提供する。
// 永続化はせず、プロセス再起動で失われる。
package invocation

import (
	"sync"
	"time"

	"github.com/hitoshi/botdash/internal/model"
)

const (
	// DefaultCapacity を超えたら DefaultRetain 件まで古いものから切り詰める。
	DefaultCapacity = 1000
	DefaultRetain   = 500
	// DefaultRecent は管理画面に返す件数。
	DefaultRecent = 200
)

// SizeObserver はログ件数の変化を受け取る。metrics.Collectorが満たす。
type SizeObserver interface {
	SetInvocationLogSize(n int)
}

// Log は上限付きのコマンド実行ログ。
type Log struct {
	mu       sync.Mutex
	records  []model.InvocationRecord
	capacity int
	retain   int
	observer SizeObserver
	now      func() time.Time
}

// NewLog は既定の上限でLogを生成する。observerはnilでもよい。
func NewLog(observer SizeObserver) *Log {
	return NewLogWithLimits(DefaultCapacity, DefaultRetain, observer)
}

// NewLogWithLimits は上限と切り詰め後の件数を指定してLogを生成する。
func NewLogWithLimits(capacity, retain int, observer SizeObserver) *Log {
	if retain > capacity {
		retain = capacity
	}
	return &Log{
		records:  make([]model.InvocationRecord, 0, capacity+1),
		capacity: capacity,
		retain:   retain,
		observer: observer,
		now:      time.Now,
	}
}

// Append はレコードにサーバー側の時刻を付けて末尾に追加する。
// 追加後に上限を超えた場合は最新retain件だけを残す。
func (l *Log) Append(rec model.InvocationRecord) model.InvocationRecord {
	rec.Timestamp = l.now().UTC()
	if rec.Options == nil {
		rec.Options = map[string]any{}
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	if len(l.records) > l.capacity {
		n := copy(l.records, l.records[len(l.records)-l.retain:])
		clear(l.records[n:])
		l.records = l.records[:n]
	}
	size := len(l.records)
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.SetInvocationLogSize(size)
	}
	return rec
}

// Recent は最新min(n, 件数)件を保存順（古い順）で返す。
func (l *Log) Recent(n int) []model.InvocationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > len(l.records) {
		n = len(l.records)
	}
	if n <= 0 {
		return []model.InvocationRecord{}
	}
	out := make([]model.InvocationRecord, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}

// Len は現在の件数を返す。
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
