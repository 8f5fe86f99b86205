package checks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/whttp"
	"github.com/tidwall/gjson"
)

const (
	AgentsMDPoints       = 5.0
	MarkdownAcceptPoints = 5.0
	MCPPoints            = 4.0
	MCPInvalidPoints     = 1.0
	SemanticHTMLPoints   = 3.0
	X402Points           = 2.0
	NLWebPoints          = 1.0
)

var (
	AgentsMDPaths = []string{"/agents.md", "/AGENTS.md", "/.well-known/agents.md"}

	ariaLandmarkRoles = map[string]bool{
		"banner":        true,
		"main":          true,
		"navigation":    true,
		"contentinfo":   true,
		"complementary": true,
		"search":        true,
		"region":        true,
		"form":          true,
	}

	paymentHeaders = []string{"x-payment", "x-payment-required", "x-402-receipt", "pay", "payment-address"}

	nlwebTypes   = map[string]bool{"NLWebEndpoint": true, "NLWebService": true}
	nlwebActions = map[string]bool{"NLSearchAction": true, "NLQueryAction": true}
)

// SubCheck is one component of the agent readiness pillar.
type SubCheck struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Max    float64 `json:"max"`
	Detail string  `json:"detail"`
}

// AgentReadiness sums the agent-facing sub-checks, capped at maxPoints.
var AgentReadiness CheckFunc = func(ctx context.Context, in *Input, maxPoints float64) (report.PillarResult, error) {
	subs := []SubCheck{
		agentsMD(ctx, in),
		markdownAccept(ctx, in),
		mcpEndpoint(ctx, in),
		semanticHTML(in.HTML()),
		x402(ctx, in),
		nlweb(ctx, in),
	}

	total := 0.0
	var found []string
	for _, s := range subs {
		total += s.Score
		if s.Score > 0 {
			found = append(found, s.Name)
		}
	}

	res := report.PillarResult{
		Score:     capAt(total, maxPoints),
		MaxPoints: maxPoints,
		Evidence:  map[string]interface{}{"checks": subs},
	}
	if len(found) == 0 {
		res.Detail = "No agent readiness signals detected"
	} else {
		res.Detail = fmt.Sprintf("%d/%d agent signals: %s", len(found), len(subs), strings.Join(found, ", "))
	}
	return res, nil
}

func agentsMD(ctx context.Context, in *Input) SubCheck {
	s := SubCheck{Name: "agents_md", Max: AgentsMDPoints, Detail: "No AGENTS.md found"}
	for _, p := range AgentsMDPaths {
		res, err := probe(ctx, in, http.MethodGet, p)
		if err != nil || res.StatusCode != http.StatusOK {
			continue
		}
		if !strings.Contains(res.ContentType(), "text") {
			continue
		}
		s.Score = AgentsMDPoints
		s.Detail = "AGENTS.md found at " + in.Origin() + p
		return s
	}
	return s
}

func markdownAccept(ctx context.Context, in *Input) SubCheck {
	s := SubCheck{Name: "markdown_accept", Max: MarkdownAcceptPoints}
	res, err := in.Fetcher.Fetch(ctx, &whttp.Request{
		URL:     in.URL,
		Headers: []whttp.Header{{Name: "Accept", Value: "text/markdown"}},
	})
	if err != nil {
		s.Detail = "Failed to probe Accept: text/markdown: " + whttp.Describe(err)
		return s
	}
	ct := res.ContentType()
	if strings.Contains(ct, "text/markdown") || strings.Contains(ct, "text/x-markdown") {
		s.Score = MarkdownAcceptPoints
		s.Detail = "Server supports Accept: text/markdown (Content-Type: " + ct + ")"
		return s
	}
	s.Detail = "Server does not support Accept: text/markdown"
	return s
}

func mcpEndpoint(ctx context.Context, in *Input) SubCheck {
	s := SubCheck{Name: "mcp_endpoint", Max: MCPPoints}
	res, err := probe(ctx, in, http.MethodGet, "/.well-known/mcp.json")
	if err != nil {
		s.Detail = "Failed to probe MCP endpoint: " + whttp.Describe(err)
		return s
	}
	if res.StatusCode != http.StatusOK {
		s.Detail = fmt.Sprintf("MCP endpoint returned HTTP %d", res.StatusCode)
		return s
	}
	if !gjson.Valid(res.Body) {
		s.Score = MCPInvalidPoints
		s.Detail = "MCP endpoint found but contains invalid JSON"
		return s
	}
	s.Score = MCPPoints
	if tools := gjson.Get(res.Body, "tools"); tools.IsArray() {
		s.Detail = fmt.Sprintf("MCP endpoint found with %d tool(s)", len(tools.Array()))
	} else {
		s.Detail = "MCP endpoint found"
	}
	return s
}

func semanticHTML(html string) SubCheck {
	s := SubCheck{Name: "semantic_html", Max: SemanticHTMLPoints, Detail: "No semantic HTML elements found"}
	if html == "" {
		s.Detail = "No HTML to analyze"
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return s
	}

	hasMainOrArticle := doc.Find("main, article").Length() > 0
	hasHeaderAndNav := doc.Find("header").Length() > 0 && doc.Find("nav").Length() > 0
	landmarks := 0
	doc.Find("[role]").Each(func(_ int, sel *goquery.Selection) {
		role, _ := sel.Attr("role")
		if ariaLandmarkRoles[strings.ToLower(strings.TrimSpace(role))] {
			landmarks++
		}
	})

	var parts []string
	if hasMainOrArticle {
		s.Score++
		parts = append(parts, "main/article present")
	}
	if hasHeaderAndNav {
		s.Score++
		parts = append(parts, "header+nav present")
	}
	if landmarks >= 2 {
		s.Score++
	}
	if landmarks > 0 {
		parts = append(parts, fmt.Sprintf("%d ARIA landmark(s)", landmarks))
	}
	if len(parts) > 0 {
		s.Detail = strings.Join(parts, "; ")
	}
	return s
}

func x402(ctx context.Context, in *Input) SubCheck {
	s := SubCheck{Name: "x402", Max: X402Points, Detail: "No x402 payment signaling detected"}
	res, err := in.Fetcher.Fetch(ctx, &whttp.Request{URL: in.URL, Method: http.MethodHead})
	if err != nil {
		s.Detail = "Failed to check x402: " + whttp.Describe(err)
		return s
	}

	var parts []string
	if res.StatusCode == http.StatusPaymentRequired {
		s.Score++
		parts = append(parts, "HTTP 402 status")
	}
	var detected []string
	for _, h := range paymentHeaders {
		if _, ok := res.Header[http.CanonicalHeaderKey(h)]; ok {
			detected = append(detected, h)
		}
	}
	if len(detected) > 0 {
		s.Score++
		parts = append(parts, "headers: "+strings.Join(detected, ", "))
	}
	if len(parts) > 0 {
		s.Detail = "x402 detected: " + strings.Join(parts, "; ")
	}
	return s
}

func nlweb(ctx context.Context, in *Input) SubCheck {
	s := SubCheck{Name: "nlweb", Max: NLWebPoints, Detail: "No NLWeb support detected"}
	var parts []string
	if res, err := probe(ctx, in, http.MethodGet, "/.well-known/nlweb"); err == nil && res.StatusCode == http.StatusOK {
		s.Score += 0.5
		parts = append(parts, "/.well-known/nlweb found")
	}
	if hasNLWebSchema(in.HTML()) {
		s.Score += 0.5
		parts = append(parts, "NLWeb schema extensions found")
	}
	if len(parts) > 0 {
		s.Detail = "NLWeb: " + strings.Join(parts, "; ")
	}
	return s
}

func hasNLWebSchema(html string) bool {
	for _, item := range JSONLDItems(html) {
		for _, t := range typesOf(item) {
			if nlwebTypes[t] {
				return true
			}
		}
		actions := item.Get("potentialAction")
		list := []gjson.Result{actions}
		if actions.IsArray() {
			list = actions.Array()
		}
		for _, a := range list {
			if !a.IsObject() {
				continue
			}
			for _, t := range typesOf(a) {
				if nlwebActions[t] {
					return true
				}
			}
		}
	}
	return false
}
