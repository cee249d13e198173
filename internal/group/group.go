// Package group 维护 (object, filter) → 工件路径 的聚合，供重采样协作方消费。
//
// Aggregator 不是并发安全的：只由协调方在取回 worker 结果后调用 Record。
package group

import (
	"fmt"
	"sort"
	"strings"

	"spikepsf/pkg/contract"
)

// Aggregator: GroupAggregator。零值不可用，使用 New。
type Aggregator struct {
	entries map[contract.GroupKey][]string
	owner   map[string]contract.GroupKey
}

// New 创建空聚合器。
func New() *Aggregator {
	return &Aggregator{entries: map[contract.GroupKey][]string{}, owner: map[string]contract.GroupKey{}}
}

// Record 将 path 追加到 (object, filter) 组。
// 同一路径只能属于一个组；重复记录返回 ErrInvariantViolation。
func (a *Aggregator) Record(object, filter, path string) error {
	if strings.TrimSpace(object) == "" || strings.TrimSpace(filter) == "" || strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty object/filter/path", contract.ErrInvalidInput)
	}
	k := contract.GroupKey{Object: object, Filter: filter}
	if prev, ok := a.owner[path]; ok {
		return fmt.Errorf("%w: %s already recorded under (%s, %s)", contract.ErrInvariantViolation, path, prev.Object, prev.Filter)
	}
	a.owner[path] = k
	a.entries[k] = append(a.entries[k], path)
	return nil
}

// Groups 返回映射副本；调用方修改不影响聚合器。
func (a *Aggregator) Groups() map[contract.GroupKey][]string {
	out := make(map[contract.GroupKey][]string, len(a.entries))
	for k, v := range a.entries {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ForObject 返回某目标的 filter → 路径列表。
func (a *Aggregator) ForObject(object string) map[string][]string {
	out := map[string][]string{}
	for k, v := range a.entries {
		if k.Object == object {
			out[k.Filter] = append([]string(nil), v...)
		}
	}
	return out
}

// Keys 返回按 (object, filter) 字典序排列的键。
func (a *Aggregator) Keys() []contract.GroupKey {
	keys := make([]contract.GroupKey, 0, len(a.entries))
	for k := range a.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Object != keys[j].Object {
			return keys[i].Object < keys[j].Object
		}
		return keys[i].Filter < keys[j].Filter
	})
	return keys
}

// Len 返回组数。
func (a *Aggregator) Len() int { return len(a.entries) }

// Merge 以 Record 语义并入另一聚合器（按 other 的键序）。
func (a *Aggregator) Merge(other *Aggregator) error {
	if other == nil {
		return nil
	}
	for _, k := range other.Keys() {
		for _, p := range other.entries[k] {
			if err := a.Record(k.Object, k.Filter, p); err != nil {
				return err
			}
		}
	}
	return nil
}
