package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"quote-agent/internal/domain"
)

type extractionResponse struct {
	Items []domain.ItemRequest `json:"items"`
}

func buildExtractionMessages(policy, merged string, history []domain.Turn) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: policy},
	}

	// History arrives newest first; the model wants chronological order.
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: t.Role, Content: content})
	}

	messages = append(messages, domain.ChatMessage{Role: "user", Content: merged})
	return messages
}

// defaultExtractionPolicy is the built-in system prompt, used when no
// pinned prompt is stored in SSM.
func defaultExtractionPolicy() string {
	return strings.Join([]string{
		"Role:",
		"You extract purchase requests for a building-materials price assistant.",
		"",
		"Task:",
		"Read the latest user message (it may span multiple lines; each line can be a fragment of one request) and list every product the user asks about.",
		"",
		"Rules:",
		"1) category is a short lowercase catalog key, e.g. \"cimento\", \"caixa_dagua\", \"tinta\".",
		"2) specification carries the variation when the user states one (type, size, brand); empty string otherwise.",
		"3) quantity defaults to 1 when not stated.",
		"4) Only list products that are clearly mentioned; greetings and menu digits produce an empty list.",
		"5) Use the prior conversation only to resolve references like \"o mesmo de ontem\".",
		"",
		"Output Contract:",
		"Return JSON only with key items: array of {raw_mention, category, specification, quantity}.",
	}, "\n")
}

// parseExtraction decodes the model output strictly: unknown fields and
// trailing JSON values are rejected rather than silently accepted.
func parseExtraction(raw string) ([]domain.ItemRequest, error) {
	var out extractionResponse
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode extraction: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("openai: decode extraction: multiple JSON values")
		}
		return nil, fmt.Errorf("openai: decode extraction trailing data: %w", err)
	}

	items := make([]domain.ItemRequest, 0, len(out.Items))
	for _, it := range out.Items {
		it.Category = strings.ToLower(strings.TrimSpace(it.Category))
		it.Specification = strings.TrimSpace(it.Specification)
		if it.Category == "" {
			continue
		}
		if it.Quantity <= 0 {
			it.Quantity = 1
		}
		items = append(items, it)
	}
	return items, nil
}
