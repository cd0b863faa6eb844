package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"portfolio-lab/internal/portfolio"
)

// Kind 标识再平衡策略。
type Kind string

const (
	KindFixed            Kind = "fixed"
	KindTopMomentum      Kind = "top_momentum"
	KindTopNEqual        Kind = "top_n_equal"
	KindRankWeighted     Kind = "rank_weighted"
	KindAbsoluteMomentum Kind = "absolute_momentum"
)

// ParseKind 解析配置中的策略名，空串视为 fixed。
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindFixed, nil
	case KindFixed, KindTopMomentum, KindTopNEqual, KindRankWeighted, KindAbsoluteMomentum:
		return k, nil
	default:
		return "", fmt.Errorf("backtest: 未知策略 %q", s)
	}
}

// Strategy 计算再平衡日的目标权重。实现仅限本包内的几种策略。
type Strategy interface {
	Kind() Kind
	// Allocate 返回 date 的目标权重，权重之和为100。
	Allocate(date time.Time, scorer Scorer) (portfolio.Allocation, error)

	lookback() int
	validate() error
}

// Fixed 每次再平衡沿用同一组权重。
type Fixed struct {
	Allocation portfolio.Allocation
}

func (s Fixed) Kind() Kind { return KindFixed }

func (s Fixed) Allocate(time.Time, Scorer) (portfolio.Allocation, error) {
	return s.Allocation.Clone(), nil
}

func (s Fixed) lookback() int { return 0 }

func (s Fixed) validate() error { return s.Allocation.Validate() }

// TopMomentum 将全部权重分配给动量得分最高的资产，得分相同取靠前者。
type TopMomentum struct {
	Universe []string
	Window   int
}

func (s TopMomentum) Kind() Kind { return KindTopMomentum }

func (s TopMomentum) Allocate(date time.Time, scorer Scorer) (portfolio.Allocation, error) {
	scores, err := scoreAll(scorer, s.Universe, date, s.Window)
	if err != nil {
		return nil, err
	}

	best := -1
	for i, score := range scores {
		if math.IsNaN(score) {
			continue
		}
		if best < 0 || score > scores[best] {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("backtest: %s 没有可用的动量得分", date.Format("2006-01-02"))
	}

	return universeAllocation(s.Universe, map[string]float64{s.Universe[best]: 100}), nil
}

func (s TopMomentum) lookback() int { return s.Window }

func (s TopMomentum) validate() error {
	return validateUniverse(s.Universe, nil, s.Window)
}

// TopNEqual 按动量降序选取 Equities 中前 N 个资产等权配置。
type TopNEqual struct {
	Universe []string
	Equities []string
	N        int
	Window   int
}

func (s TopNEqual) Kind() Kind { return KindTopNEqual }

func (s TopNEqual) Allocate(date time.Time, scorer Scorer) (portfolio.Allocation, error) {
	ranked, err := rank(scorer, s.Equities, date, s.Window)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, s.N)
	for _, code := range ranked[:s.N] {
		weights[code] = 100 / float64(s.N)
	}
	return universeAllocation(s.Universe, weights), nil
}

func (s TopNEqual) lookback() int { return s.Window }

func (s TopNEqual) validate() error {
	if err := validateUniverse(s.Universe, s.Equities, s.Window); err != nil {
		return err
	}
	if s.N <= 0 || s.N > len(s.Equities) {
		return fmt.Errorf("backtest: top_n 必须在 1..%d 之间, got %d", len(s.Equities), s.N)
	}
	return nil
}

// RankWeighted 按动量排名套用固定的递减权重表。
type RankWeighted struct {
	Universe []string
	Equities []string
	Weights  []float64 // 第 i 名的权重，超出表长的名次权重为0
	Window   int
}

func (s RankWeighted) Kind() Kind { return KindRankWeighted }

func (s RankWeighted) Allocate(date time.Time, scorer Scorer) (portfolio.Allocation, error) {
	ranked, err := rank(scorer, s.Equities, date, s.Window)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(s.Weights))
	for pos, code := range ranked {
		if pos < len(s.Weights) {
			weights[code] = s.Weights[pos]
		}
	}
	return universeAllocation(s.Universe, weights), nil
}

func (s RankWeighted) lookback() int { return s.Window }

func (s RankWeighted) validate() error {
	if err := validateUniverse(s.Universe, s.Equities, s.Window); err != nil {
		return err
	}
	if len(s.Weights) == 0 || len(s.Weights) > len(s.Equities) {
		return fmt.Errorf("backtest: 排名权重表长度必须在 1..%d 之间, got %d", len(s.Equities), len(s.Weights))
	}
	total := 0.0
	for i, w := range s.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("backtest: 第 %d 名权重非法: %v", i+1, w)
		}
		total += w
	}
	if math.Round(total) != 100 {
		return fmt.Errorf("%w: 排名权重之和为 %v", portfolio.ErrAllocation, total)
	}
	return nil
}

// AbsoluteMomentum 仅保留得分高于阈值的资产，每个存活者分得 floor(100/len(Equities))，
// 余下权重转入 Fallback（通常为债券）。
type AbsoluteMomentum struct {
	Universe  []string
	Equities  []string
	Window    int
	Threshold float64
	Fallback  string
}

func (s AbsoluteMomentum) Kind() Kind { return KindAbsoluteMomentum }

func (s AbsoluteMomentum) Allocate(date time.Time, scorer Scorer) (portfolio.Allocation, error) {
	scores, err := scoreAll(scorer, s.Equities, date, s.Window)
	if err != nil {
		return nil, err
	}

	share := math.Floor(100 / float64(len(s.Equities)))
	weights := make(map[string]float64, len(s.Equities)+1)
	allocated := 0.0
	for i, code := range s.Equities {
		if scores[i] > s.Threshold {
			weights[code] = share
			allocated += share
		}
	}
	weights[s.Fallback] = 100 - allocated
	return universeAllocation(s.Universe, weights), nil
}

func (s AbsoluteMomentum) lookback() int { return s.Window }

func (s AbsoluteMomentum) validate() error {
	if err := validateUniverse(s.Universe, s.Equities, s.Window); err != nil {
		return err
	}
	if len(s.Equities) == 0 {
		return errors.New("backtest: equities 不能为空")
	}
	if !contains(s.Universe, s.Fallback) {
		return fmt.Errorf("backtest: fallback %q 不在 universe 中", s.Fallback)
	}
	if contains(s.Equities, s.Fallback) {
		return fmt.Errorf("backtest: fallback %q 不能同时属于 equities", s.Fallback)
	}
	return nil
}

// StrategySpec 为构建策略所需的全部参数，由配置层填充。
type StrategySpec struct {
	Kind        Kind
	Allocation  portfolio.Allocation
	Universe    []string
	Equities    []string
	Window      int
	TopN        int
	Threshold   float64
	Fallback    string
	RankWeights []float64
}

// NewStrategy 根据 Kind 构建对应策略并校验参数。
func NewStrategy(spec StrategySpec) (Strategy, error) {
	var s Strategy
	switch spec.Kind {
	case KindFixed, "":
		s = Fixed{Allocation: spec.Allocation.Clone()}
	case KindTopMomentum:
		s = TopMomentum{Universe: spec.Universe, Window: spec.Window}
	case KindTopNEqual:
		s = TopNEqual{Universe: spec.Universe, Equities: spec.Equities, N: spec.TopN, Window: spec.Window}
	case KindRankWeighted:
		s = RankWeighted{Universe: spec.Universe, Equities: spec.Equities, Weights: spec.RankWeights, Window: spec.Window}
	case KindAbsoluteMomentum:
		s = AbsoluteMomentum{
			Universe:  spec.Universe,
			Equities:  spec.Equities,
			Window:    spec.Window,
			Threshold: spec.Threshold,
			Fallback:  spec.Fallback,
		}
	default:
		return nil, fmt.Errorf("backtest: 未知策略 %q", spec.Kind)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func scoreAll(scorer Scorer, codes []string, date time.Time, window int) ([]float64, error) {
	scores := make([]float64, len(codes))
	for i, code := range codes {
		score, err := scorer.MomentumScore(code, date, window)
		if err != nil {
			return nil, fmt.Errorf("backtest: %s 动量得分: %w", code, err)
		}
		scores[i] = score
	}
	return scores, nil
}

// rank 按得分降序排列，得分相同保持原顺序，NaN 排在最后。
func rank(scorer Scorer, codes []string, date time.Time, window int) ([]string, error) {
	scores, err := scoreAll(scorer, codes, date, window)
	if err != nil {
		return nil, err
	}
	order := make([]int, len(codes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return rankKey(scores[order[i]]) > rankKey(scores[order[j]])
	})
	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = codes[idx]
	}
	return out, nil
}

func rankKey(score float64) float64 {
	if math.IsNaN(score) {
		return math.Inf(-1)
	}
	return score
}

// universeAllocation 按 universe 顺序列出全部资产，末尾附加权重为0的现金项。
func universeAllocation(universe []string, weights map[string]float64) portfolio.Allocation {
	out := make(portfolio.Allocation, 0, len(universe)+1)
	for _, code := range universe {
		out = append(out, portfolio.Weight{Code: code, Weight: weights[code]})
	}
	return append(out, portfolio.Weight{Code: portfolio.CashCode, Weight: 0})
}

func validateUniverse(universe, equities []string, window int) error {
	if len(universe) == 0 {
		return errors.New("backtest: universe 不能为空")
	}
	if window <= 0 {
		return fmt.Errorf("backtest: 回看窗口必须为正, got %d", window)
	}
	seen := make(map[string]struct{}, len(universe))
	for _, code := range universe {
		if code == portfolio.CashCode {
			return fmt.Errorf("backtest: universe 不能包含保留代码 %q", portfolio.CashCode)
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("%w: %q", portfolio.ErrDuplicateCode, code)
		}
		seen[code] = struct{}{}
	}
	for _, code := range equities {
		if _, ok := seen[code]; !ok {
			return fmt.Errorf("backtest: equity %q 不在 universe 中", code)
		}
	}
	return nil
}

func contains(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
