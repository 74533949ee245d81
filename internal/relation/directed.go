package relation

import "context"

// DirectedSet 是带方向的成员关系集合（同一对成员最多持有一个方向）。
type DirectedSet interface {
	// Direction 返回 (subject, object) 当前方向，0 表示不在集合中。
	Direction(ctx context.Context, subject, object uint) (int, error)
	// Set 写入方向，覆盖已有方向。
	Set(ctx context.Context, subject, object uint, value int) error
	// Clear 移除成员，不存在时为 no-op。
	Clear(ctx context.Context, subject, object uint) error
}

// ToggleDirected 以方向 value 切换成员关系，返回操作后的方向。
//
// 当前方向与 value 相同则清除返回 0；方向不同（含无方向）则
// 覆盖为 value。两个方向互斥由单条记录结构保证。
func ToggleDirected(ctx context.Context, set DirectedSet, subject, object uint, value int) (int, error) {
	current, err := set.Direction(ctx, subject, object)
	if err != nil {
		return 0, err
	}
	if current == value {
		if err := set.Clear(ctx, subject, object); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err := set.Set(ctx, subject, object, value); err != nil {
		return 0, err
	}
	return value, nil
}
