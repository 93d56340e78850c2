package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"qaflow/internal/llmclient"
	"qaflow/internal/tester"
)

func promptStep(build func(c *StepContext) (Prompt, error), f Format) Definition {
	return Definition{Name: "test_step", Kind: KindResponse, Format: f, Build: build}
}

func staticPrompt(p Prompt) func(c *StepContext) (Prompt, error) {
	return func(*StepContext) (Prompt, error) { return p, nil }
}

func TestHarnessTransformBypassesProvider(t *testing.T) {
	fake := &llmclient.FakeProvider{}
	h := NewHarness(fake, 0, 0)
	def := Definition{
		Name:   "local_step",
		Kind:   KindResponse,
		Format: FormatText,
		Transform: func(*StepContext) (string, error) {
			return "computed locally", nil
		},
	}

	out, mediaType, err := h.Execute(context.Background(), def, NewStepContext("run-1", 1, llmclient.Params{}, nil))
	tester.NoErr(t, err)
	tester.Eq(t, out, "computed locally")
	tester.Eq(t, mediaType, "text/plain")
	tester.Eq(t, fake.Calls(), 0)
}

func TestHarnessValidatesJSONResponse(t *testing.T) {
	fake := &llmclient.FakeProvider{
		Reply: func(string, llmclient.Params) (string, error) {
			return "Sure, here it is:\n```json\n{\"cases\": []}\n```", nil
		},
	}
	h := NewHarness(fake, 0, 0)
	def := promptStep(staticPrompt(Prompt{Instruction: "emit JSON"}), FormatJSON)

	out, mediaType, err := h.Execute(context.Background(), def, NewStepContext("run-1", 1, llmclient.Params{}, nil))
	tester.NoErr(t, err)
	tester.Eq(t, out, `{"cases": []}`)
	tester.Eq(t, mediaType, "application/json")
}

func TestHarnessReformatsInvalidJSONThenSucceeds(t *testing.T) {
	fake := &llmclient.FakeProvider{}
	fake.Reply = func(prompt string, _ llmclient.Params) (string, error) {
		if fake.Calls() == 1 {
			return "I would describe the testcases as follows...", nil
		}
		tester.True(t, strings.Contains(prompt, "not valid JSON"), "retry prompt carries the reformat hint")
		return `{"ok": true}`, nil
	}
	h := NewHarness(fake, 0, 2)
	def := promptStep(staticPrompt(Prompt{Instruction: "emit JSON"}), FormatJSON)

	out, _, err := h.Execute(context.Background(), def, NewStepContext("run-1", 1, llmclient.Params{}, nil))
	tester.NoErr(t, err)
	tester.Eq(t, out, `{"ok": true}`)
	tester.Eq(t, fake.Calls(), 2)
}

func TestHarnessFormatErrorAfterReformatAttempts(t *testing.T) {
	fake := &llmclient.FakeProvider{
		Reply: func(string, llmclient.Params) (string, error) {
			return "still just prose", nil
		},
	}
	h := NewHarness(fake, 0, 2)
	def := promptStep(staticPrompt(Prompt{Instruction: "emit JSON"}), FormatJSON)

	_, _, err := h.Execute(context.Background(), def, NewStepContext("run-1", 1, llmclient.Params{}, nil))
	var fe *FormatError
	tester.True(t, errors.As(err, &fe))
	tester.Eq(t, fe.Step, "test_step")
	// Initial call plus two reformat attempts.
	tester.Eq(t, fake.Calls(), 3)
}

func TestHarnessPropagatesProviderErrors(t *testing.T) {
	fake := &llmclient.FakeProvider{
		Reply: func(string, llmclient.Params) (string, error) {
			return "", &llmclient.RateLimitError{Err: errors.New("throttled")}
		},
	}
	h := NewHarness(fake, 0, 2)
	def := promptStep(staticPrompt(Prompt{Instruction: "emit JSON"}), FormatJSON)

	_, _, err := h.Execute(context.Background(), def, NewStepContext("run-1", 1, llmclient.Params{}, nil))
	tester.True(t, llmclient.Retryable(err), "provider errors pass through untouched")
	tester.Eq(t, fake.Calls(), 1, "format reformatting never retries provider failures")
}

func TestHarnessSkipSignalPassesThrough(t *testing.T) {
	h := NewHarness(&llmclient.FakeProvider{}, 0, 0)
	def := promptStep(func(*StepContext) (Prompt, error) {
		return Prompt{}, ErrSkipStep
	}, FormatText)

	_, _, err := h.Execute(context.Background(), def, NewStepContext("run-1", 1, llmclient.Params{}, nil))
	tester.IsErr(t, err, ErrSkipStep)
}

func TestRenderPromptKeepsEverythingWithinBudget(t *testing.T) {
	p := Prompt{
		Instruction: "INSTRUCTION",
		Sections: []Section{
			{Title: "OLD", Body: "old content"},
			{Title: "NEW", Body: "new content"},
		},
	}
	out := renderPrompt(p, 10000)
	tester.True(t, strings.Contains(out, "old content"))
	tester.True(t, strings.Contains(out, "new content"))
	tester.True(t, strings.HasPrefix(out, "INSTRUCTION"))
}

func TestRenderPromptDropsLeastRecentSectionsFirst(t *testing.T) {
	oldBody := strings.Repeat("a", 400)
	newBody := strings.Repeat("b", 100)
	p := Prompt{
		Instruction: "INSTRUCTION",
		Sections: []Section{
			{Title: "OLD", Body: oldBody},
			{Title: "NEW", Body: newBody},
		},
	}
	// Room for the instruction and the recent section only.
	out := renderPrompt(p, len("INSTRUCTION")+sectionLen(Section{Title: "NEW", Body: newBody}))
	tester.False(t, strings.Contains(out, "aaaa"), "oldest section dropped")
	tester.True(t, strings.Contains(out, newBody), "most recent section kept")
}

func TestRenderPromptTrimsPartiallyOverflowingSection(t *testing.T) {
	body := strings.Repeat("x", 300)
	p := Prompt{
		Instruction: "INSTRUCTION",
		Sections:    []Section{{Title: "CTX", Body: body}},
	}
	out := renderPrompt(p, len("INSTRUCTION")+150)
	tester.True(t, strings.Contains(out, "[...truncated...]"))
	tester.True(t, len(out) < len("INSTRUCTION")+sectionLen(Section{Title: "CTX", Body: body}))
}

func TestRenderPromptNeverTruncatesInstruction(t *testing.T) {
	instruction := strings.Repeat("i", 500)
	p := Prompt{
		Instruction: instruction,
		Sections:    []Section{{Title: "CTX", Body: strings.Repeat("x", 100)}},
	}
	out := renderPrompt(p, 50)
	tester.True(t, strings.HasPrefix(out, instruction))
}
