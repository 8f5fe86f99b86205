package checks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

var (
	LlmsTxtPaths     = []string{"/llms.txt", "/.well-known/llms.txt"}
	LlmsFullTxtPaths = []string{"/llms-full.txt", "/.well-known/llms-full.txt"}
)

// findFile returns the URL of the first path answering 200 with a
// non-blank body, and the number of probes that failed outright.
func findFile(ctx context.Context, in *Input, paths []string) (found string, failed int, lastErr error) {
	for _, p := range paths {
		res, err := probe(ctx, in, http.MethodGet, p)
		if err != nil {
			failed++
			lastErr = err
			continue
		}
		if res.StatusCode == http.StatusOK && strings.TrimSpace(res.Body) != "" {
			return in.Origin() + p, failed, nil
		}
	}
	return "", failed, lastErr
}

// LlmsTxt awards full points when llms.txt or llms-full.txt is served.
var LlmsTxt CheckFunc = func(ctx context.Context, in *Input, maxPoints float64) (report.PillarResult, error) {
	res := report.PillarResult{MaxPoints: maxPoints}

	llmsURL, failedA, errA := findFile(ctx, in, LlmsTxtPaths)
	fullURL, failedB, errB := findFile(ctx, in, LlmsFullTxtPaths)

	if llmsURL == "" && fullURL == "" && failedA+failedB == len(LlmsTxtPaths)+len(LlmsFullTxtPaths) {
		err := errA
		if err == nil {
			err = errB
		}
		return res, fmt.Errorf("llms.txt probe failed: %s", whttp.Describe(err))
	}

	var parts []string
	if llmsURL != "" {
		parts = append(parts, "llms.txt at "+llmsURL)
	}
	if fullURL != "" {
		parts = append(parts, "llms-full.txt at "+fullURL)
	}
	res.Evidence = map[string]interface{}{
		"found":           llmsURL != "",
		"url":             llmsURL,
		"llms_full_found": fullURL != "",
		"llms_full_url":   fullURL,
	}
	if len(parts) == 0 {
		res.Detail = "llms.txt not found"
		return res, nil
	}
	res.Score = maxPoints
	res.Detail = "Found: " + strings.Join(parts, ", ")
	return res, nil
}
