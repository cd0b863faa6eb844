package portfolio

import (
	"fmt"
	"math"
)

// CashCode 为配置中代表现金仓位的保留代码。
const CashCode = "cash"

// Weight 为单个资产的目标权重，单位为百分点（0-100）。
type Weight struct {
	Code   string  `json:"code"`
	Weight float64 `json:"weight"`
}

// Allocation 为有序的目标权重列表。
type Allocation []Weight

// Total 返回权重之和。
func (a Allocation) Total() float64 {
	total := 0.0
	for _, w := range a {
		total += w.Weight
	}
	return total
}

// Validate 校验权重之和四舍五入后为100，单项位于[0,100]且代码不重复。
func (a Allocation) Validate() error {
	seen := make(map[string]struct{}, len(a))
	for _, w := range a {
		if w.Code == "" {
			return fmt.Errorf("%w: 资产代码为空", ErrAllocation)
		}
		if _, dup := seen[w.Code]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateCode, w.Code)
		}
		seen[w.Code] = struct{}{}
		if w.Weight < 0 || w.Weight > 100 || math.IsNaN(w.Weight) {
			return fmt.Errorf("%w: %s 的权重 %v 超出范围", ErrAllocation, w.Code, w.Weight)
		}
	}
	// 0.1+0.2 这类浮点误差通过取整吸收
	if total := a.Total(); math.Round(total) != 100 {
		return fmt.Errorf("%w: total weight is %v", ErrAllocation, total)
	}
	return nil
}

// Clone 返回副本。
func (a Allocation) Clone() Allocation {
	return append(Allocation(nil), a...)
}

// WeightOf 返回指定代码的权重，不存在时返回0。
func (a Allocation) WeightOf(code string) float64 {
	for _, w := range a {
		if w.Code == code {
			return w.Weight
		}
	}
	return 0
}

// Contains 判断代码是否出现在权重列表中。
func (a Allocation) Contains(code string) bool {
	for _, w := range a {
		if w.Code == code {
			return true
		}
	}
	return false
}

// FloorWeights 将权重向下取整，余数累加到最后一项（通常为现金），使总和恰为100。
func FloorWeights(a Allocation) Allocation {
	if len(a) == 0 {
		return nil
	}
	out := make(Allocation, len(a))
	sum := 0.0
	for i, w := range a {
		out[i] = Weight{Code: w.Code, Weight: math.Floor(w.Weight)}
		sum += out[i].Weight
	}
	out[len(out)-1].Weight += 100 - sum
	return out
}
