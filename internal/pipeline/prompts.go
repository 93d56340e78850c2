package pipeline

// Prompt instructions for the QA steps. Context sections (checklist,
// scenarios, prior artifacts) are attached by each step's Build func so the
// harness can truncate them independently of the instructions.

const scenariosInstruction = `You are a senior QA engineer. Your primary task is to generate comprehensive
test scenarios for the functionality described in the checklist.

Rules for scenario generation:
- Use only information from the provided checklist. Do not introduce external details.
- Do not invent functionality that is not explicitly mentioned in the checklist.
- Output ONLY test scenarios. No conversational text, explanations, or extraneous information.
- No markdown formatting in the output scenarios themselves.
- Present scenarios in a human-like format, not a BDD format.
- Ensure a clear and logical structure for all generated scenarios.`

const testcasesInstruction = `You are a senior QA engineer.

Your task is to convert test scenarios into STRICT JSON testcases.

Rules:
- Return ONLY raw JSON: no markdown fences, no comments, no explanations.
- JSON must start with { and end with } and must be directly parseable.

JSON FORMAT:
{
  "testcases": [
    {
      "test_id": "LOGIN_01",
      "requirement_id": "REQ-001",
      "title": "Valid login",
      "type": "positive",
      "steps": [
        "Open login page",
        "Enter valid username",
        "Enter valid password",
        "Click login"
      ],
      "expected_result": "Products page is displayed",
      "severity": "critical"
    }
  ]
}`

const autotestsInstruction = `You are a senior QA automation engineer.

Your task is to implement Python + Pytest + Selenium autotests for the JSON
testcases below. One test function per testcase, named test_<test_id lowercase>.

Rules:
- Implement EVERY step of each testcase and assert the expected_result.
- Use a 'driver' fixture for the browser; do not define browser setup inline.
- Reply with ONLY the Python source inside one fenced code block.`

const codeQualityInstruction = `You are a strict Python linter. Analyze the test code below for style and
quality defects: unused imports, naming violations, missing assertions,
overlong functions, duplicated blocks.

Respond ONLY with a valid JSON object:
{
  "findings": [
    {
      "rule": "short rule id, e.g. unused-import",
      "line_hint": "the offending line or symbol",
      "severity": "error | warning | info",
      "message": "concise description"
    }
  ],
  "summary": "one-sentence overall assessment"
}
If the code is clean, set "findings": [] and write a positive summary.`

const codeReviewInstruction = `You are a Senior QA Automation Architect. Perform a strict code review of the
auto-generated Python + Pytest tests provided below.

Respond ONLY with a valid JSON object:
{
  "issues": [
    {
      "category": "functional_risk | test_design | stability | maintainability",
      "severity": "high | medium | low",
      "description": "Concise issue description",
      "suggestion": "Specific improvement suggestion"
    }
  ],
  "summary": "Overall assessment in one sentence"
}
- If no issues are found, set "issues": [] and write a positive overall summary.
- DO NOT rewrite the code. Provide suggestions only.
- Focus exclusively on test automation quality.
- NO markdown, NO explanations, NO extra text outside the JSON object.`

const runAutotestsInstruction = `You are a QA execution analyst. Walk through the autotests below against their
testcases and determine, statically, which tests would pass and which would
fail or error, assuming the application behaves as the testcases expect.

Respond ONLY with a valid JSON object in this junit-like shape:
{
  "total": 0,
  "passed": 0,
  "failed": 0,
  "errors": 0,
  "skipped": 0,
  "results": [
    {"test_id": "LOGIN_01", "outcome": "passed | failed | error | skipped", "detail": "one line"}
  ]
}`

const qaSummaryInstruction = `You are a senior QA Lead. Generate a brief, high-level QA summary based on the
provided test execution results. The summary must be understandable by a
project manager and avoid technical jargon.

Summary focus:
- Overall status: clearly state how many tests passed, failed, or were skipped.
- Key observations: highlight any significant errors, patterns, or critical issues.
- Stability conclusion: one concluding sentence on the overall stability of the build.

Important:
- DO NOT include code snippets or highly technical details.
- If no issues are found, the summary should simply state: "All tests passed successfully."`

const bugReportInstruction = `You are a Senior QA Engineer. Meticulously analyze the provided TESTCASES and
AUTOTESTS to identify mismatches or incomplete implementations.

Analysis criteria:
1. Compare each test case with its corresponding autotest (match by test_id).
2. Verify the autotest implements ALL steps described in its test case.
3. Check that assertions accurately match the expected_result.
4. Report ONLY concrete, verifiable mismatches. Do not make assumptions.

If NO issues are found, return exactly: {"status": "NO_BUGS_FOUND"}

If an issue is found, return a STRICT JSON object:
{
  "title": "Mismatch in [TEST_ID]",
  "severity": "critical",
  "priority": "high",
  "environment": "QA pipeline",
  "preconditions": "Test case vs autotest comparison",
  "steps_to_reproduce": ["..."],
  "actual_result": "Autotest does X",
  "expected_result": "Autotest should do Y",
  "probable_root_cause": "...",
  "evidence": "Code snippet showing missing steps"
}
NO markdown, NO extra text outside the JSON.`
