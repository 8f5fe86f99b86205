package checks

import (
	"context"
	"fmt"

	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

// DefaultBots are the AI crawler user agents checked against robots.txt.
var DefaultBots = []string{
	"GPTBot",
	"ChatGPT-User",
	"Google-Extended",
	"ClaudeBot",
	"PerplexityBot",
	"Amazonbot",
	"OAI-SearchBot",
	"DeepSeek-AI",
	"Grok",
	"Meta-ExternalAgent",
	"cohere-ai",
	"AI2Bot",
	"ByteSpider",
}

// BotAccess is one entry of the robots pillar evidence.
type BotAccess struct {
	Bot     string `json:"bot"`
	Allowed bool   `json:"allowed"`
}

// Robots scores the share of AI bots robots.txt lets fetch "/". A missing
// robots.txt scores 0.
var Robots CheckFunc = func(ctx context.Context, in *Input, maxPoints float64) (report.PillarResult, error) {
	res := report.PillarResult{MaxPoints: maxPoints}

	rules, err := in.Robots.GetOrFetch(ctx, in.URL)
	if err != nil {
		return res, fmt.Errorf("robots.txt fetch failed: %s", whttp.Describe(err))
	}
	if !rules.Found {
		res.Detail = fmt.Sprintf("robots.txt returned HTTP %d", rules.StatusCode)
		res.Evidence = map[string]interface{}{"found": false}
		return res, nil
	}

	bots := in.Bots
	if len(bots) == 0 {
		bots = DefaultBots
	}
	access := make([]BotAccess, 0, len(bots))
	allowed := 0
	for _, bot := range bots {
		ok := rules.Allowed(bot, "/")
		if ok {
			allowed++
		}
		access = append(access, BotAccess{Bot: bot, Allowed: ok})
	}

	if allowed == len(bots) {
		res.Score = maxPoints
	} else {
		res.Score = maxPoints * float64(allowed) / float64(len(bots))
	}
	res.Detail = fmt.Sprintf("%d/%d AI bots allowed", allowed, len(bots))
	res.Evidence = map[string]interface{}{
		"found":   true,
		"allowed": allowed,
		"total":   len(bots),
		"bots":    access,
	}
	return res, nil
}
