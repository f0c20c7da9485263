package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wellnest/internal/util"
	"wellnest/pkg/ai"
	"wellnest/pkg/domain"
)

const analysisInstruction = "Analyze the emotions and sentiment of this journal entry. " +
	"Respond in this JSON format: " +
	`{"overallSentiment":"<Positive|Neutral|Negative>",` +
	`"emotions":[{"emotion":"string","score":int}],` +
	`"summary":"string","affirmation":"string"}. ` +
	"Entry: "

func analysisPrompt(text string) string {
	return analysisInstruction + text
}

// Analyze asks the model for a sentiment analysis of text. The text is
// checked before any outbound call is made.
func (a *App) Analyze(ctx context.Context, userID, text string) (domain.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Analysis{}, ErrTextRequired
	}
	if a.generator == nil {
		return domain.Analysis{}, ErrAnalysisDisabled
	}
	logger := util.LoggerFromContext(ctx)

	gen, err := a.generator.GenerateText(ctx, "", analysisPrompt(text))
	if err != nil {
		var apiErr *ai.APIError
		switch {
		case errors.As(err, &apiErr):
			logger.Error("analysis upstream error", "upstream", "gemini", "status", apiErr.Status)
			return domain.Analysis{}, &UpstreamError{Service: "gemini", Status: apiErr.Status, Body: apiErr.Body}
		case errors.Is(err, ai.ErrEmptyResponse), gen.Raw != nil:
			return domain.Analysis{}, &ParseError{Raw: gen.Raw, Err: err}
		case ctx.Err() != nil:
			return domain.Analysis{}, fmt.Errorf("analyze: %w", ctx.Err())
		default:
			logger.Error("analysis upstream unreachable", "upstream", "gemini", "err", err)
			return domain.Analysis{}, &UpstreamError{Service: "gemini", Body: []byte(err.Error())}
		}
	}

	analysis, err := decodeAnalysis(gen.Text)
	if err != nil {
		return domain.Analysis{}, &ParseError{Raw: gen.Raw, Err: err}
	}
	if !analysis.OverallSentiment.Known() {
		logger.Warn("analysis sentiment outside known labels", "user_id", userID, "sentiment", string(analysis.OverallSentiment))
	}
	return analysis, nil
}

func decodeAnalysis(text string) (domain.Analysis, error) {
	obj, ok := ai.ExtractJSONObject(text)
	if !ok {
		return domain.Analysis{}, errors.New("no JSON object in model reply")
	}
	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(obj), &analysis); err != nil {
		return domain.Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return analysis, nil
}
