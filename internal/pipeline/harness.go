package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"qaflow/internal/llmclient"
	"qaflow/internal/util/jsonutil"
)

// Harness wraps every step execution: it renders the prompt within the
// character budget, calls the completion provider, and validates the
// response against the step's expected format. Transient provider errors are
// retried inside the provider middleware, not here.
type Harness struct {
	provider         llmclient.Provider
	promptBudget     int
	reformatAttempts int
}

func NewHarness(provider llmclient.Provider, promptBudget, reformatAttempts int) *Harness {
	if promptBudget <= 0 {
		promptBudget = 24000
	}
	if reformatAttempts < 0 {
		reformatAttempts = 0
	}
	return &Harness{
		provider:         provider,
		promptBudget:     promptBudget,
		reformatAttempts: reformatAttempts,
	}
}

// Execute runs one step and returns the artifact content plus its media
// type. It never persists anything.
func (h *Harness) Execute(ctx context.Context, def Definition, c *StepContext) (string, string, error) {
	if def.Transform != nil {
		out, err := def.Transform(c)
		if err != nil {
			return "", "", err
		}
		return out, def.Format.MediaType(), nil
	}
	if def.Build == nil {
		return "", "", fmt.Errorf("step %s: neither Build nor Transform is defined", def.Name)
	}
	if h.provider == nil {
		return "", "", fmt.Errorf("step %s: no completion provider configured", def.Name)
	}

	prompt, err := def.Build(c)
	if err != nil {
		return "", "", err
	}
	rendered := renderPrompt(prompt, h.promptBudget)

	var lastErr error
	for attempt := 0; attempt <= h.reformatAttempts; attempt++ {
		if attempt > 0 {
			log.Printf("step %s: reformatting response (attempt %d/%d)", def.Name, attempt, h.reformatAttempts)
			rendered = rendered + "\n\n" + reformatSuffix(def.Format)
		}
		raw, err := h.provider.Complete(ctx, rendered, c.Params)
		if err != nil {
			return "", "", err
		}
		out, err := validateResponse(def.Format, raw)
		if err == nil {
			return out, def.Format.MediaType(), nil
		}
		lastErr = err
	}
	return "", "", &FormatError{Step: def.Name, Err: lastErr}
}

// renderPrompt assembles the instruction and sections, dropping or trimming
// the least-recent sections first when the budget is exceeded.
func renderPrompt(p Prompt, budget int) string {
	instruction := strings.TrimSpace(p.Instruction)
	room := budget - len(instruction)

	overflow := -room
	for _, s := range p.Sections {
		overflow += sectionLen(s)
	}

	var b strings.Builder
	b.WriteString(instruction)
	for _, s := range p.Sections {
		if overflow <= 0 {
			writeSection(&b, s)
			continue
		}
		n := sectionLen(s)
		if n <= overflow {
			// Whole section dropped; later (more recent) ones survive.
			overflow -= n
			continue
		}
		cut := overflow
		if cut > len(s.Body) {
			cut = len(s.Body)
		}
		trimmed := s
		trimmed.Body = "[...truncated...]\n" + s.Body[cut:]
		writeSection(&b, trimmed)
		overflow = 0
	}
	return b.String()
}

func sectionLen(s Section) int {
	return len(s.Title) + len(s.Body) + 8
}

func writeSection(b *strings.Builder, s Section) {
	b.WriteString("\n\n## ")
	b.WriteString(s.Title)
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(s.Body))
}

func validateResponse(f Format, raw string) (string, error) {
	switch f {
	case FormatJSON:
		payload, err := jsonutil.ExtractJSON(raw)
		if err != nil {
			return "", err
		}
		return string(payload), nil
	case FormatCode:
		code := jsonutil.ExtractCode(raw)
		if strings.TrimSpace(code) == "" {
			return "", fmt.Errorf("empty code block")
		}
		return code, nil
	default:
		text := strings.TrimSpace(raw)
		if text == "" {
			return "", fmt.Errorf("empty response")
		}
		return text, nil
	}
}

func reformatSuffix(f Format) string {
	switch f {
	case FormatJSON:
		return "Your previous answer was not valid JSON. Reply again with ONLY the JSON document, no prose and no markdown fences."
	case FormatCode:
		return "Your previous answer contained no code. Reply again with ONLY the code inside a single fenced code block."
	default:
		return "Your previous answer was empty. Reply again with the requested content as plain text."
	}
}
