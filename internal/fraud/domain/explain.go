package domain

import "context"

// Explanation 评分解释，严格位于确定性决策的下游
type Explanation struct {
	Score      float64     `json:"score"`
	Indicators []Indicator `json:"indicators"`
	Rationale  string      `json:"rationale"`
}

// ExplanationProvider 可插拔的解释生成器，评分正确性从不依赖其输出
type ExplanationProvider interface {
	Explain(ctx context.Context, assessment *Assessment) (*Explanation, error)
}

// StaticExplainer 缺省解释生成器，把触发指标拼成固定文案
type StaticExplainer struct{}

// Explain 生成解释
func (StaticExplainer) Explain(ctx context.Context, assessment *Assessment) (*Explanation, error) {
	rationale := "no risk indicators fired"
	if len(assessment.Indicators) > 0 {
		rationale = "indicators fired:"
		for _, ind := range assessment.Indicators {
			rationale += " [" + ind.Code + "] " + ind.Description + ";"
		}
	}
	return &Explanation{
		Score:      assessment.Score,
		Indicators: assessment.Indicators,
		Rationale:  rationale,
	}, nil
}
