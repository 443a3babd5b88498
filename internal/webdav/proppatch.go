package webdav

import (
	"net/http"
	"sort"

	"github.com/samber/mo"
)

// PatchResult 处理函数的结果：
// Left(true) 全部成功 (200)，Left(false) 全部失败 (403)，Right 为逐个属性的状态码。
type PatchResult = mo.Either[bool, map[string]int]

// PatchOK 全部成功
func PatchOK() PatchResult {
	return mo.Left[bool, map[string]int](true)
}

// PatchFailed 全部失败
func PatchFailed() PatchResult {
	return mo.Left[bool, map[string]int](false)
}

// PatchStatuses 逐个属性的状态码，缺失的属性视为 500
func PatchStatuses(statuses map[string]int) PatchResult {
	return mo.Right[bool, map[string]int](statuses)
}

// PatchHandler 接收它认领的属性变更（nil 值表示删除）
type PatchHandler func(mutations map[string]any) PatchResult

type patchHandler struct {
	names []string
	fn    PatchHandler
}

// PropPatch 一次原子的属性修改。
// 任一属性失败时，其余成功的属性一律报告为 424。
type PropPatch struct {
	mutations map[string]any
	order     []string
	result    map[string]int
	handlers  []patchHandler
	failed    bool
	committed bool
}

// NewPropPatch 创建 PropPatch，nil 值表示删除属性
func NewPropPatch(mutations map[string]any) *PropPatch {
	order := make([]string, 0, len(mutations))
	for name := range mutations {
		order = append(order, name)
	}
	sort.Strings(order)
	return NewPropPatchOrdered(mutations, order)
}

// NewPropPatchOrdered 按给定顺序创建 PropPatch
func NewPropPatchOrdered(mutations map[string]any, order []string) *PropPatch {
	if mutations == nil {
		mutations = make(map[string]any)
	}
	return &PropPatch{
		mutations: mutations,
		order:     order,
		result:    make(map[string]int),
	}
}

// Handle 认领一组属性，fn 在 Commit 时调用；已有结果的属性不会被重复认领
func (pp *PropPatch) Handle(names []string, fn PatchHandler) {
	var used []string
	for _, name := range names {
		if _, ok := pp.mutations[name]; !ok {
			continue
		}
		if _, handled := pp.result[name]; handled {
			continue
		}
		pp.result[name] = http.StatusAccepted
		used = append(used, name)
	}
	if len(used) > 0 {
		pp.handlers = append(pp.handlers, patchHandler{names: used, fn: fn})
	}
}

// HandleRemaining 认领所有尚未被处理的属性
func (pp *PropPatch) HandleRemaining(fn PatchHandler) {
	pp.Handle(pp.GetRemainingMutations(), fn)
}

// SetResultCode 直接设置属性状态码，>= 400 时整个请求失败
func (pp *PropPatch) SetResultCode(name string, status int) {
	pp.result[name] = status
	if status >= 400 {
		pp.failed = true
	}
}

// SetRemainingResultCode 设置所有未处理属性的状态码
func (pp *PropPatch) SetRemainingResultCode(status int) {
	for _, name := range pp.GetRemainingMutations() {
		pp.SetResultCode(name, status)
	}
}

// GetRemainingMutations 尚未被认领的属性
func (pp *PropPatch) GetRemainingMutations() []string {
	var names []string
	for _, name := range pp.order {
		if _, handled := pp.result[name]; !handled {
			names = append(names, name)
		}
	}
	return names
}

// GetRemainingValues 尚未被认领的属性及其值
func (pp *PropPatch) GetRemainingValues() map[string]any {
	values := make(map[string]any)
	for _, name := range pp.GetRemainingMutations() {
		values[name] = pp.mutations[name]
	}
	return values
}

// GetMutations 返回全部变更
func (pp *PropPatch) GetMutations() map[string]any {
	return pp.mutations
}

// Order 属性在请求中的顺序
func (pp *PropPatch) Order() []string {
	return pp.order
}

// Commit 执行所有处理函数并应用原子性规则，只能调用一次
func (pp *PropPatch) Commit() bool {
	if pp.committed {
		panic("webdav: PropPatch committed twice")
	}
	pp.committed = true

	for _, name := range pp.order {
		if _, handled := pp.result[name]; !handled {
			pp.result[name] = http.StatusForbidden
			pp.failed = true
		}
	}

	for _, h := range pp.handlers {
		if pp.failed {
			break
		}
		pp.invoke(h)
	}

	if pp.failed {
		for name, status := range pp.result {
			if status >= 200 && status < 300 {
				pp.result[name] = http.StatusFailedDependency
			}
		}
	}
	return !pp.failed
}

func (pp *PropPatch) invoke(h patchHandler) {
	subset := make(map[string]any, len(h.names))
	for _, name := range h.names {
		subset[name] = pp.mutations[name]
	}

	res := h.fn(subset)
	if ok, isLeft := res.Left(); isLeft {
		status := http.StatusOK
		if !ok {
			status = http.StatusForbidden
		}
		for _, name := range h.names {
			pp.SetResultCode(name, status)
		}
		return
	}

	statuses := res.MustRight()
	for _, name := range h.names {
		status, ok := statuses[name]
		if !ok {
			status = http.StatusInternalServerError
		}
		pp.SetResultCode(name, status)
	}
}

// Result 每个属性的最终状态码
func (pp *PropPatch) Result() map[string]int {
	out := make(map[string]int, len(pp.result))
	for k, v := range pp.result {
		out[k] = v
	}
	return out
}

// Failed 是否已有属性失败
func (pp *PropPatch) Failed() bool {
	return pp.failed
}
