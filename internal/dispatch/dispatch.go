// Package dispatch 按名称选择 PSF 生成方法，并按数据化的规则校验仪器兼容性。
package dispatch

import (
	"fmt"
	"strings"

	"spikepsf/internal/diag"
	"spikepsf/internal/geometry"
	"spikepsf/pkg/contract"
)

const comp = "dispatch"

// Options: 调度器选项。
type Options struct {
	// Parallel: 运行是否并行（影响 ParallelAdvice）。
	Parallel bool
	Logger   *diag.Logger
}

// Selection: 选择结果与非致命告警。
type Selection struct {
	Handle   contract.BackendHandle
	Warnings []string
}

// Dispatcher: BackendDispatcher。
type Dispatcher struct {
	gens     map[string]contract.Generator
	byName   map[string]Rule
	parallel bool
	log      *diag.Logger
}

// New 以方法名 → 生成器构造调度器；gens 的键为小写规范名。
func New(gens map[string]contract.Generator, opts Options) *Dispatcher {
	d := &Dispatcher{gens: map[string]contract.Generator{}, byName: map[string]Rule{}, parallel: opts.Parallel, log: opts.Logger}
	for k, g := range gens {
		d.gens[strings.ToLower(k)] = g
	}
	for _, r := range rules {
		d.byName[r.Method] = r
		for _, a := range r.Aliases {
			d.byName[a] = r
		}
	}
	if d.log == nil {
		d.log = diag.Nop()
	}
	return d
}

// Canonical 将方法名（含别名，大小写不敏感）规范化；未知时返回 ErrUnknownMethod。
func (d *Dispatcher) Canonical(method string) (string, error) {
	r, ok := d.byName[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return "", fmt.Errorf("%w: %q (known: %s)", contract.ErrUnknownMethod, method, strings.Join(Names(), ", "))
	}
	return r.Method, nil
}

// Select 解析方法名并校验仪器约束。
// 硬约束违例返回 ErrIncompatibleBackend；推荐集未命中仅产生告警。
// method 为 user 时 user 必须给出（UserFunc 或 ArtifactGlob）。
func (d *Dispatcher) Select(method, instrument, camera string, user contract.UserBackend) (Selection, error) {
	name, err := d.Canonical(method)
	if err != nil {
		return Selection{}, err
	}
	rule := d.byName[name]
	inst, cam := canonicalInstCam(instrument, camera)
	ic := contract.InstCam(inst, cam)

	c := rule.Compat
	if contract.Match(c.Forbidden, inst, cam) {
		return Selection{}, fmt.Errorf("%w: %s cannot model %s: %s", contract.ErrIncompatibleBackend, name, ic, c.Advice)
	}
	if len(c.Required) > 0 && !contract.Match(c.Required, inst, cam) {
		return Selection{}, fmt.Errorf("%w: %s supports %s, not %s", contract.ErrIncompatibleBackend, name, strings.Join(c.Required, ", "), ic)
	}

	sel := Selection{Handle: contract.BackendHandle{Method: name, Kind: contract.KindBuiltin, Rules: c}}
	if len(c.Recommended) > 0 && !contract.Match(c.Recommended, inst, cam) {
		sel.Warnings = append(sel.Warnings, fmt.Sprintf("%s with %s: %s", name, ic, c.Advice))
	}
	if d.parallel && rule.ParallelAdvice != "" {
		sel.Warnings = append(sel.Warnings, rule.ParallelAdvice)
	}

	if name == MethodUser {
		if err := bindUser(&sel.Handle, user); err != nil {
			return Selection{}, err
		}
	} else {
		g, ok := d.gens[name]
		if !ok || g == nil {
			return Selection{}, fmt.Errorf("%w: no generator configured for %s", contract.ErrInvalidInput, name)
		}
		sel.Handle.Generator = g
	}

	for _, w := range sel.Warnings {
		d.log.Warn(comp, w, map[string]string{"method": name, "instcam": ic})
	}
	return sel, nil
}

// bindUser 一次性解析用户方法的联合类型。
func bindUser(h *contract.BackendHandle, user contract.UserBackend) error {
	switch u := user.(type) {
	case contract.UserFunc:
		if u.Generator == nil {
			return fmt.Errorf("%w: usermethod generator is nil", contract.ErrInvalidInput)
		}
		h.Kind = contract.KindUserFunc
		h.Generator = u.Generator
	case contract.ArtifactGlob:
		if strings.TrimSpace(u.Pattern) == "" {
			return fmt.Errorf("%w: usermethod glob is empty", contract.ErrInvalidInput)
		}
		h.Kind = contract.KindUserGlob
		h.Glob = u.Pattern
	default:
		return fmt.Errorf("%w: method user requires usermethod", contract.ErrInvalidInput)
	}
	return nil
}

// canonicalInstCam 经几何表别名规范化（如 WFPC1 → WFPC、NIRISS → NIRISS/IMAGING）。
func canonicalInstCam(instrument, camera string) (string, string) {
	if l, err := geometry.LayoutFor(instrument, camera); err == nil {
		return l.Instrument, l.Camera
	}
	return strings.ToUpper(strings.TrimSpace(instrument)), strings.ToUpper(strings.TrimSpace(camera))
}

// Names 返回规范方法名（表序）。
func Names() []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Method)
	}
	return out
}
