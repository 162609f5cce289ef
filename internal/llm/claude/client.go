// Package claude generates dossier narratives with the Anthropic API.
package claude

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/i4g/internal/dossier"
)

const maxNarrativeTokens = 1024

const systemPrompt = "You are an analyst at a scam-intelligence nonprofit. " +
	"Write a short factual narrative for an investigative dossier from the " +
	"aggregate figures provided. Cite only the numbers given. Case text and " +
	"victim identities are tokenized and must never be guessed at. Two or " +
	"three paragraphs, no headings, no bullet lists."

// Client implements dossier.Summarizer against the Claude Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude-backed summarizer with the given API key and model.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Narrative produces the dossier narrative for a plan and its analysis.
func (c *Client) Narrative(ctx context.Context, plan *dossier.Plan, analysis *dossier.Analysis) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxNarrativeTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(plan, analysis))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude narrative: %w", err)
	}

	text := extractText(msg)
	if text == "" {
		return "", fmt.Errorf("claude narrative: empty response (stop_reason=%s)", msg.StopReason)
	}
	return text, nil
}

// buildPrompt renders the aggregate analysis as a plain-text briefing.
func buildPrompt(plan *dossier.Plan, analysis *dossier.Analysis) string {
	var b strings.Builder

	title := plan.Title
	if title == "" {
		title = "Untitled dossier"
	}
	fmt.Fprintf(&b, "Dossier: %s\n", title)
	fmt.Fprintf(&b, "Cases analyzed: %d\n", analysis.CaseCount)
	fmt.Fprintf(&b, "Total reported loss (USD): %.2f\n", analysis.TotalLossUSD)
	fmt.Fprintf(&b, "Cross-border cases: %d\n", analysis.CrossBorder)

	writeCounts(&b, "Fraud types", analysis.FraudTypes)
	writeCounts(&b, "Loss bands", analysis.LossBands)
	writeCounts(&b, "Geography", analysis.GeoBuckets)

	b.WriteString("\nWrite the narrative now.")
	return b.String()
}

func writeCounts(b *strings.Builder, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(b, "%s:\n", label)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %d\n", k, counts[k])
	}
}

// extractText concatenates the text blocks of a response.
func extractText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
