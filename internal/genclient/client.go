package genclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mangaflow/internal/providers"
	"mangaflow/internal/schema"
	"mangaflow/internal/util"
)

// Source supplies providers in failover order. *providers.Manager satisfies
// it; tests substitute scripted providers.
type Source interface {
	TextProviderByIndex(i int) (providers.TextProvider, providers.ProviderRef)
	TextCount() int
	PreferredTextOrder() []int
	VisionProviderByIndex(i int) (providers.VisionProvider, providers.ProviderRef)
	VisionCount() int
	PreferredVisionOrder() []int
}

type Request struct {
	Operation    string
	Prompt       string
	SystemPrompt string
	Temperature  float32
	Images       []providers.EncodedImage

	// Budget caps the submitted prompt in runes, correction attempts
	// included; the tail survives when the prompt runs over. Zero falls
	// back to the client default.
	Budget int

	// New allocates a fresh decode target per attempt.
	New func() schema.Artifact
	// Check adds request-specific rules on top of the artifact's own
	// validation, such as configured scale bounds or page-count preservation.
	Check func(schema.Artifact) []schema.Violation
}

type Result struct {
	Artifact schema.Artifact
	Raw      string
	Provider providers.ProviderInfo
	Attempts int
}

// Client turns free-form model output into validated artifacts. Each failed
// attempt feeds the invalid output and its violations back into a correction
// prompt; providers rotate on transport errors.
type Client struct {
	source       Source
	maxAttempts  int
	promptBudget int
	log          *zap.SugaredLogger
}

// New builds a client. promptBudget is the default rune cap applied to every
// submitted prompt; zero disables the default cap (requests may still set
// their own).
func New(source Source, maxAttempts, promptBudget int, log *zap.SugaredLogger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{source: source, maxAttempts: maxAttempts, promptBudget: promptBudget, log: log}
}

func (c *Client) budgetFor(req Request) int {
	if req.Budget > 0 {
		return req.Budget
	}
	return c.promptBudget
}

func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if req.New == nil {
		return Result{}, fmt.Errorf("genclient: request for %s has no decode target", req.Operation)
	}
	var (
		lastRaw        string
		lastViolations []schema.Violation
		lastKind       FailureKind
		lastErr        error
	)
	budget := c.budgetFor(req)
	prompt := util.TruncateTail(req.Prompt, budget)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, info, err := c.call(ctx, req, prompt)
		if err != nil {
			class := providers.ClassifyError(err)
			c.log.Warnw("generation call failed", "operation", req.Operation, "attempt", attempt, "provider", info.Name, "class", class, "error", err)
			lastErr = err
			if class == providers.ErrorTimeout {
				lastKind = FailTimeout
			} else {
				lastKind = FailEmptyResult
			}
			continue
		}
		raw := ExtractJSON(text)
		if raw == "" {
			lastKind = FailEmptyResult
			lastRaw = text
			lastViolations = []schema.Violation{{Rule: "json", Message: "no JSON value found in response"}}
			prompt = util.TruncateTail(correctionPrompt(req.Prompt, text, lastViolations), budget)
			c.log.Warnw("generation returned no JSON", "operation", req.Operation, "attempt", attempt, "provider", info.Name)
			continue
		}
		dst := req.New()
		vs := schema.Decode([]byte(raw), dst)
		if len(vs) == 0 && req.Check != nil {
			vs = req.Check(dst)
		}
		if len(vs) == 0 {
			return Result{Artifact: dst, Raw: raw, Provider: info, Attempts: attempt}, nil
		}
		lastKind = FailSchemaViolation
		lastRaw = raw
		lastViolations = vs
		prompt = util.TruncateTail(correctionPrompt(req.Prompt, raw, vs), budget)
		c.log.Warnw("generation failed validation", "operation", req.Operation, "attempt", attempt, "provider", info.Name, "violations", schema.FormatViolations(vs))
	}
	if lastKind == "" {
		lastKind = FailEmptyResult
	}
	return Result{Raw: lastRaw, Attempts: c.maxAttempts}, &GenerationError{
		Kind:       lastKind,
		Operation:  req.Operation,
		Attempts:   c.maxAttempts,
		Violations: lastViolations,
		Cause:      lastErr,
	}
}

// GenerateText is the unstructured path used for prose. Empty responses count
// as failed attempts.
func (c *Client) GenerateText(ctx context.Context, req Request) (string, providers.ProviderInfo, error) {
	var (
		lastErr  error
		lastInfo providers.ProviderInfo
	)
	prompt := util.TruncateTail(req.Prompt, c.budgetFor(req))
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, info, err := c.call(ctx, req, prompt)
		lastInfo = info
		if err != nil {
			lastErr = err
			c.log.Warnw("prose call failed", "operation", req.Operation, "attempt", attempt, "provider", info.Name, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			lastErr = fmt.Errorf("empty response")
			continue
		}
		return text, info, nil
	}
	kind := FailEmptyResult
	if providers.ClassifyError(lastErr) == providers.ErrorTimeout {
		kind = FailTimeout
	}
	return "", lastInfo, &GenerationError{Kind: kind, Operation: req.Operation, Attempts: c.maxAttempts, Cause: lastErr}
}

// call fans out across providers in preferred order and returns the first
// usable response.
func (c *Client) call(ctx context.Context, req Request, prompt string) (string, providers.ProviderInfo, error) {
	if len(req.Images) > 0 {
		return c.callVision(ctx, req, prompt)
	}
	order := c.source.PreferredTextOrder()
	var (
		lastErr  error
		lastInfo providers.ProviderInfo
	)
	for _, i := range order {
		p, ref := c.source.TextProviderByIndex(i)
		resp, info, err := p.Generate(ctx, providers.GenerateRequest{
			Operation:    req.Operation,
			Prompt:       prompt,
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Temperature,
		})
		if err == nil {
			return resp.Text, info, nil
		}
		lastErr, lastInfo = err, info
		if ctx.Err() != nil {
			break
		}
		c.log.Debugw("text provider failed, trying next", "provider", ref.Name, "error", err)
	}
	return "", lastInfo, lastErr
}

func (c *Client) callVision(ctx context.Context, req Request, prompt string) (string, providers.ProviderInfo, error) {
	order := c.source.PreferredVisionOrder()
	var (
		lastErr  error
		lastInfo providers.ProviderInfo
	)
	for _, i := range order {
		p, ref := c.source.VisionProviderByIndex(i)
		resp, info, err := p.Describe(ctx, providers.VisionRequest{
			Operation: req.Operation,
			Prompt:    prompt,
			Images:    req.Images,
		})
		if err == nil {
			return resp.Text, info, nil
		}
		lastErr, lastInfo = err, info
		if ctx.Err() != nil {
			break
		}
		c.log.Debugw("vision provider failed, trying next", "provider", ref.Name, "error", err)
	}
	return "", lastInfo, lastErr
}

func correctionPrompt(original, invalid string, vs []schema.Violation) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\nYour previous response was invalid.\n\nPrevious response:\n")
	b.WriteString(invalid)
	b.WriteString("\n\nProblems:\n")
	for _, v := range vs {
		b.WriteString("- ")
		b.WriteString(v.String())
		b.WriteString("\n")
	}
	b.WriteString("\nReturn only corrected JSON that fixes every problem above. Do not change fields that were already valid.")
	return b.String()
}
