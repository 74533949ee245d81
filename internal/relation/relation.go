// Package relation 实现成员集合上的幂等切换语义。
//
// 关注、书签、投票和发布点赞都是「用户 ↔ 对象」的成员关系，
// 重复操作收敛到同一终态，本包把这层切换逻辑从存储实现中抽出。
package relation

import "context"

// Set 是一个以 (subject, object) 为成员的二元关系集合。
type Set interface {
	// Contains 判断 (subject, object) 是否在集合中。
	Contains(ctx context.Context, subject, object uint) (bool, error)
	// Add 加入成员，已存在时为 no-op。
	Add(ctx context.Context, subject, object uint) error
	// Remove 移除成员，不存在时为 no-op。
	Remove(ctx context.Context, subject, object uint) error
	// Count 统计以 object 为对象的成员数。
	Count(ctx context.Context, object uint) (int64, error)
}

// Toggle 切换成员关系，返回操作后的成员状态。
//
// 成员存在则移除返回 false，不存在则加入返回 true，
// 因此同一对 (subject, object) 连续两次 Toggle 回到原状态。
func Toggle(ctx context.Context, set Set, subject, object uint) (bool, error) {
	present, err := set.Contains(ctx, subject, object)
	if err != nil {
		return false, err
	}
	if present {
		if err := set.Remove(ctx, subject, object); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := set.Add(ctx, subject, object); err != nil {
		return false, err
	}
	return true, nil
}
