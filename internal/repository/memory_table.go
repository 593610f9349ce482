package repository

import (
	"sync"
)

// Table はエンティティ型Tをコンパイル時に固定した汎用インメモリストア。
// IDによる検索、述語による先頭一致・存在判定、追加・更新・削除・全件取得を提供する。
// 行は値としてコピーして保持するため、呼び出し側の変更はストアに影響しない。
type Table[T any] struct {
	mu     sync.RWMutex
	rows   map[string]T
	order  []string
	idOf   func(T) string
	unique []func(T) string
}

// NewTable はTableを生成する。
// uniqueに渡したキー関数ごとに、他の行と同じキーを持つ追加・更新をErrDuplicateで拒否する。
// キー関数が空文字を返した場合は一意性を検査しない。
func NewTable[T any](idOf func(T) string, unique ...func(T) string) *Table[T] {
	return &Table[T]{
		rows:   make(map[string]T),
		idOf:   idOf,
		unique: unique,
	}
}

// FindByID は指定IDの行を返す。
func (t *Table[T]) FindByID(id string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	return row, ok
}

// First は挿入順で最初に述語を満たす行を返す。
func (t *Table[T]) First(match func(T) bool) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.order {
		if row := t.rows[id]; match(row) {
			return row, true
		}
	}
	var zero T
	return zero, false
}

// Any は述語を満たす行が存在するかを返す。
func (t *Table[T]) Any(match func(T) bool) bool {
	_, ok := t.First(match)
	return ok
}

// All は全行を挿入順で返す。
func (t *Table[T]) All() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make([]T, 0, len(t.order))
	for _, id := range t.order {
		rows = append(rows, t.rows[id])
	}
	return rows
}

// Add は行を追加する。IDまたは一意キーが重複する場合はErrDuplicateを返す。
func (t *Table[T]) Add(row T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.idOf(row)
	if _, exists := t.rows[id]; exists {
		return ErrDuplicate
	}
	if t.conflicts(id, row) {
		return ErrDuplicate
	}
	t.rows[id] = row
	t.order = append(t.order, id)
	return nil
}

// Update は同じIDの行を置き換える。存在しない場合はErrNotFoundを返す。
func (t *Table[T]) Update(row T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.idOf(row)
	if _, exists := t.rows[id]; !exists {
		return ErrNotFound
	}
	if t.conflicts(id, row) {
		return ErrDuplicate
	}
	t.rows[id] = row
	return nil
}

// Modify は指定IDの行をロック下で変更する。
// fnがfalseを返した場合は変更を破棄する。変更を適用した場合はtrueを返す。
func (t *Table[T]) Modify(id string, fn func(*T) bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, exists := t.rows[id]
	if !exists {
		return false, ErrNotFound
	}
	if !fn(&row) {
		return false, nil
	}
	t.rows[id] = row
	return true, nil
}

// ModifyWhere は述語を満たす全行にfnを適用し、変更した件数を返す。
func (t *Table[T]) ModifyWhere(match func(T) bool, fn func(*T) bool) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64
	for _, id := range t.order {
		row := t.rows[id]
		if !match(row) {
			continue
		}
		if fn(&row) {
			t.rows[id] = row
			n++
		}
	}
	return n
}

// Remove は指定IDの行を削除する。存在しない場合はErrNotFoundを返す。
func (t *Table[T]) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.rows[id]; !exists {
		return ErrNotFound
	}
	delete(t.rows, id)
	t.removeFromOrder(func(candidate string) bool { return candidate == id })
	return nil
}

// RemoveWhere は述語を満たす行をすべて削除し、件数を返す。
func (t *Table[T]) RemoveWhere(match func(T) bool) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64
	for id, row := range t.rows {
		if match(row) {
			delete(t.rows, id)
			n++
		}
	}
	t.removeFromOrder(func(candidate string) bool {
		_, exists := t.rows[candidate]
		return !exists
	})
	return n
}

// Len は行数を返す。
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table[T]) conflicts(id string, row T) bool {
	for _, key := range t.unique {
		k := key(row)
		if k == "" {
			continue
		}
		for otherID, other := range t.rows {
			if otherID != id && key(other) == k {
				return true
			}
		}
	}
	return false
}

func (t *Table[T]) removeFromOrder(drop func(string) bool) {
	kept := t.order[:0]
	for _, id := range t.order {
		if !drop(id) {
			kept = append(kept, id)
		}
	}
	t.order = kept
}
