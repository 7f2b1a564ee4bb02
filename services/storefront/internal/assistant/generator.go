package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bananastore/pkg/ai"
	"bananastore/pkg/domain"
)

const systemPromptTemplate = `You are %s, a helpful sales assistant for %q, a website selling discounted streaming accounts and digital goods.

Here is our current live product inventory:
%s

Your goal is to recommend the best plan for the user based on their preferences.

Rules:
1. Be concise and friendly.
2. Highlight price savings.
3. ONLY recommend products that are in stock (Stock > 0). If a requested item is out of stock, suggest an alternative.
4. Keep response under 100 words.`

// GeneratorResponder answers through an LLM primed with the inventory.
type GeneratorResponder struct {
	gen       ai.TextGenerator
	botName   string
	storeName string
}

func NewGeneratorResponder(gen ai.TextGenerator, botName, storeName string) *GeneratorResponder {
	return &GeneratorResponder{gen: gen, botName: botName, storeName: storeName}
}

func (g *GeneratorResponder) Reply(ctx context.Context, message string, products []domain.Product) (string, error) {
	return g.gen.GenerateText(ctx, SystemPrompt(g.botName, g.storeName, products), message)
}

// SystemPrompt renders the sales-assistant instructions for products.
func SystemPrompt(botName, storeName string, products []domain.Product) string {
	lines := make([]string, 0, len(products))
	for _, p := range products {
		lines = append(lines, fmt.Sprintf("- %s (%s): $%s (Stock: %d). Features: %s. Description: %s",
			p.Name, p.Duration, formatPrice(p.Price), p.Stock, strings.Join(p.Features, ", "), p.Description))
	}
	return fmt.Sprintf(systemPromptTemplate, botName, storeName, strings.Join(lines, "\n"))
}

func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).String()
}
