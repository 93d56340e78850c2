package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Definition list for one process. Loaded once at startup and treated as
// read-only configuration; runs never mutate it.
type Pipeline struct {
	steps []Definition
	index map[string]int
}

// New validates the ordering: step names are unique and every prerequisite
// refers to an earlier step (or the synthetic input step).
func New(steps []Definition) (*Pipeline, error) {
	index := make(map[string]int, len(steps))
	for i, def := range steps {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, fmt.Errorf("pipeline: step %d has no name", i)
		}
		if name == StepInput {
			return nil, fmt.Errorf("pipeline: step name %q is reserved", StepInput)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate step name %q", name)
		}
		if def.Build == nil && def.Transform == nil {
			return nil, fmt.Errorf("pipeline: step %q defines neither Build nor Transform", name)
		}
		for _, req := range def.Requires {
			if req == StepInput {
				continue
			}
			pos, known := index[req]
			if !known || pos >= i {
				return nil, fmt.Errorf("pipeline: step %q requires %q which is not an earlier step", name, req)
			}
		}
		index[name] = i
	}
	if len(steps) == 0 {
		return nil, errors.New("pipeline: no steps defined")
	}
	return &Pipeline{steps: steps, index: index}, nil
}

func (p *Pipeline) Len() int { return len(p.steps) }

// Step returns the definition at position i (0-based over pipeline steps,
// excluding the synthetic input step).
func (p *Pipeline) Step(i int) (Definition, bool) {
	if i < 0 || i >= len(p.steps) {
		return Definition{}, false
	}
	return p.steps[i], true
}

func (p *Pipeline) Names() []string {
	out := make([]string, len(p.steps))
	for i, def := range p.steps {
		out[i] = def.Name
	}
	return out
}

// Default returns the nine-step QA pipeline: masking, scenario generation,
// test generation, autotest generation, code-quality check, review,
// execution analysis, summarization, bug reporting.
func Default() *Pipeline {
	p, err := New([]Definition{
		maskPIIStep(),
		generateScenariosStep(),
		generateTestcasesStep(),
		generateAutotestsStep(),
		codeQualityCheckStep(),
		aiCodeReviewStep(),
		runAutotestsStep(),
		generateQASummaryStep(),
		generateBugReportStep(),
	})
	if err != nil {
		// The default pipeline is static; a validation failure here is a
		// programming error.
		panic(err)
	}
	return p
}

func maskPIIStep() Definition {
	return Definition{
		Name:     "mask_pii",
		Requires: []string{StepInput},
		Kind:     KindResponse,
		Format:   FormatText,
		Transform: func(c *StepContext) (string, error) {
			doc, err := c.Input()
			if err != nil {
				return "", err
			}
			return MaskPII(doc), nil
		},
	}
}

func generateScenariosStep() Definition {
	return Definition{
		Name:     "generate_scenarios",
		Requires: []string{"mask_pii"},
		Kind:     KindResponse,
		Format:   FormatText,
		Build: func(c *StepContext) (Prompt, error) {
			checklist, err := c.Artifact("mask_pii", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			return Prompt{
				Instruction: scenariosInstruction,
				Sections:    []Section{{Title: "CHECKLIST", Body: checklist}},
			}, nil
		},
	}
}

func generateTestcasesStep() Definition {
	return Definition{
		Name:     "generate_testcases",
		Requires: []string{"generate_scenarios"},
		Kind:     KindResponse,
		Format:   FormatJSON,
		Build: func(c *StepContext) (Prompt, error) {
			scenarios, err := c.Artifact("generate_scenarios", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			return Prompt{
				Instruction: testcasesInstruction,
				Sections:    []Section{{Title: "SCENARIOS", Body: scenarios}},
			}, nil
		},
	}
}

func generateAutotestsStep() Definition {
	return Definition{
		Name:     "generate_autotests",
		Requires: []string{"generate_testcases"},
		Kind:     KindResponse,
		Format:   FormatCode,
		Build: func(c *StepContext) (Prompt, error) {
			testcases, err := c.Artifact("generate_testcases", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			return Prompt{
				Instruction: autotestsInstruction,
				Sections:    []Section{{Title: "TESTCASES", Body: testcases}},
			}, nil
		},
	}
}

func codeQualityCheckStep() Definition {
	return Definition{
		Name:     "code_quality_check",
		Requires: []string{"generate_autotests"},
		Kind:     KindReport,
		Format:   FormatJSON,
		Build: func(c *StepContext) (Prompt, error) {
			code, err := c.Artifact("generate_autotests", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			return Prompt{
				Instruction: codeQualityInstruction,
				Sections:    []Section{{Title: "CODE", Body: code}},
			}, nil
		},
	}
}

func aiCodeReviewStep() Definition {
	return Definition{
		Name:     "ai_code_review",
		Requires: []string{"generate_autotests"},
		Kind:     KindReport,
		Format:   FormatJSON,
		Build: func(c *StepContext) (Prompt, error) {
			code, err := c.Artifact("generate_autotests", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			return Prompt{
				Instruction: codeReviewInstruction,
				Sections:    []Section{{Title: "CODE", Body: code}},
			}, nil
		},
	}
}

func runAutotestsStep() Definition {
	return Definition{
		Name:     "run_autotests",
		Requires: []string{"generate_testcases", "generate_autotests"},
		Kind:     KindReport,
		Format:   FormatJSON,
		Build: func(c *StepContext) (Prompt, error) {
			testcases, err := c.Artifact("generate_testcases", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			code, err := c.Artifact("generate_autotests", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			return Prompt{
				Instruction: runAutotestsInstruction,
				Sections: []Section{
					{Title: "TESTCASES", Body: testcases},
					{Title: "AUTOTESTS", Body: code},
				},
			}, nil
		},
	}
}

func generateQASummaryStep() Definition {
	return Definition{
		Name:     "generate_qa_summary",
		Requires: []string{"run_autotests"},
		Kind:     KindReport,
		Format:   FormatText,
		Build: func(c *StepContext) (Prompt, error) {
			results, err := c.Artifact("run_autotests", KindReport)
			if err != nil || strings.TrimSpace(results) == "" {
				// No execution results to summarize.
				return Prompt{}, ErrSkipStep
			}
			return Prompt{
				Instruction: qaSummaryInstruction,
				Sections:    []Section{{Title: "TEST RESULTS", Body: results}},
			}, nil
		},
	}
}

func generateBugReportStep() Definition {
	return Definition{
		Name:     "generate_bug_report",
		Requires: []string{"generate_testcases", "generate_autotests"},
		Kind:     KindReport,
		Format:   FormatJSON,
		Build: func(c *StepContext) (Prompt, error) {
			testcases, err := c.Artifact("generate_testcases", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			code, err := c.Artifact("generate_autotests", KindResponse)
			if err != nil {
				return Prompt{}, err
			}
			return Prompt{
				Instruction: bugReportInstruction,
				Sections: []Section{
					{Title: "TESTCASES", Body: testcases},
					{Title: "AUTOTESTS", Body: code},
				},
			}, nil
		},
	}
}
