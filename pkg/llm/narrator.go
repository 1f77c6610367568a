package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/model"
)

// 报告来源
const (
	SourceLocal         = "local"
	SourceDeepSeek      = "deepseek"
	SourceLocalFallback = "local-fallback"
)

const systemPrompt = "You are a risk analyst. Summarize probability and drivers succinctly."

// NarrativeInput 生成报告所需的分析结果
type NarrativeInput struct {
	Symbol       string // 为空表示组合
	TargetReturn float64
	HorizonYears float64
	Mu           float64
	Sigma        float64
	Probability  float64
}

// Narrator 分析报告生成器，调用失败时退回本地摘要
type Narrator struct {
	client      *LLMClient
	timeout     time.Duration
	maxAttempts int
	log         *logger.Logger
}

// NewNarrator 未配置 API Key 时只生成本地摘要
func NewNarrator(cfg config.LLM, log *logger.Logger) *Narrator {
	n := &Narrator{
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		log:         log,
	}
	if n.timeout <= 0 {
		n.timeout = 10 * time.Second
	}
	if n.maxAttempts <= 0 {
		n.maxAttempts = 3
	}
	if cfg.APIKey != "" {
		n.client = NewLLMClient(cfg.APIURL, cfg.APIKey, cfg.ModelName)
	}
	return n
}

// Enabled 是否配置了外部模型
func (n *Narrator) Enabled() bool {
	return n.client != nil
}

// Narrate 生成报告，不返回错误
func (n *Narrator) Narrate(ctx context.Context, in NarrativeInput) model.Report {
	summary := LocalSummary(in)
	if n.client == nil {
		return model.Report{Source: SourceLocal, Summary: summary}
	}

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: summary},
	}
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, n.timeout)
		content, err := n.client.Chat(callCtx, messages)
		cancel()
		if err == nil {
			if strings.TrimSpace(content) == "" {
				content = summary
			}
			return model.Report{Source: SourceDeepSeek, Summary: content}
		}
		n.log.Warn("生成分析报告失败",
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return model.Report{Source: SourceLocalFallback, Summary: summary}
}

// LocalSummary 本地确定性摘要
func LocalSummary(in NarrativeInput) string {
	ident := in.Symbol
	if ident == "" {
		ident = "portfolio"
	}
	return fmt.Sprintf("Analysis for %s: target_return=%.2f%%, horizon=%.2fy, mu=%.4f, sigma=%.4f, probability=%.2f%%.",
		ident, in.TargetReturn*100, in.HorizonYears, in.Mu, in.Sigma, in.Probability*100)
}
