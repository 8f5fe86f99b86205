package checks

import (
	"context"
	"fmt"

	"github.com/sw33tLie/airscope/pkg/report"
)

// WordTier is a (minimum words, base points) step of the content score.
type WordTier struct {
	MinWords int
	Points   float64
}

var ContentWordTiers = []WordTier{
	{1500, 25},
	{800, 20},
	{400, 15},
	{150, 8},
}

const (
	ContentHeadingBonus = 7
	ContentListBonus    = 5
	ContentCodeBonus    = 3
)

// Content scores word count and document structure.
var Content CheckFunc = func(ctx context.Context, in *Input, maxPoints float64) (report.PillarResult, error) {
	res := report.PillarResult{MaxPoints: maxPoints}
	if in.Page == nil {
		res.Detail = "No content extracted"
		return res, nil
	}

	c := in.Content
	score := 0.0
	for _, tier := range ContentWordTiers {
		if c.WordCount >= tier.MinWords {
			score = tier.Points
			break
		}
	}

	detail := fmt.Sprintf("%d words", c.WordCount)
	if c.HasHeadings {
		score += ContentHeadingBonus
		detail += ", has headings"
	}
	if c.HasLists {
		score += ContentListBonus
		detail += ", has lists"
	}
	if c.HasCodeBlocks {
		score += ContentCodeBonus
		detail += ", has code blocks"
	}

	res.Score = capAt(score, maxPoints)
	res.Detail = detail
	res.Evidence = map[string]interface{}{
		"word_count":      c.WordCount,
		"has_headings":    c.HasHeadings,
		"has_lists":       c.HasLists,
		"has_code_blocks": c.HasCodeBlocks,
	}
	return res, nil
}
