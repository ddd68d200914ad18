package agent

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/role"
)

const authorPromptTemplate = `You are the test author in an adversarial verification loop.

Requirement:
%s
%s%s
Instructions:
1. Write a thorough test suite for the requirement in this directory: %s
2. Cover every behavior the requirement names, including edge cases.
3. Do NOT write any implementation code. Tests only.
4. Each test must check behavior the requirement actually demands.
5. When finished, write the file %s containing:
   - the single word DONE on the first line
   - one test file path per following line
   If the requirement is untestable as written, instead write a single
   line: BLOCKED: <short reason>

Do not ask for clarification. Make reasonable decisions based on the requirement.
`

const implementerPromptTemplate = `You are the implementer in an adversarial verification loop.

Make the following test files pass:
%s
%s
Instructions:
1. Read the test files listed above. They are the complete definition
   of what to build. There is no other specification.
2. Write the implementation in this directory: %s
3. Implement the general behavior the tests describe. Do not hardcode
   expected outputs, do not special-case test inputs, do not detect
   whether you are running under a test harness.
4. When finished, write the file %s containing:
   - the single word DONE on the first line
   - one implementation file path per following line
   If the tests are contradictory or impossible, instead write a single
   line: BLOCKED: <short reason>

Do not ask for clarification. Make reasonable decisions based on the tests.
`

// BuildPrompt renders the role-specific prompt. The reviewer never
// gets a prompt; it runs in process.
func BuildPrompt(view role.View) (prompt string, iteration int, err error) {
	switch v := view.(type) {
	case role.AuthorView:
		return buildAuthorPrompt(v), v.Iteration, nil
	case role.ImplementerView:
		return buildImplementerPrompt(v), v.Iteration, nil
	default:
		return "", 0, fmt.Errorf("no subprocess prompt for role %s", view.For())
	}
}

func buildAuthorPrompt(v role.AuthorView) string {
	var feedback string
	if v.Feedback != "" {
		feedback = fmt.Sprintf("\nReviewer feedback on your previous tests:\n%s\n", v.Feedback)
	}

	var survivors string
	if len(v.Survivors) > 0 {
		var b strings.Builder
		b.WriteString("\nThese mutations of the implementation survived your tests.\n")
		b.WriteString("Each one is a behavior change no test caught; add tests that would catch them:\n")
		for _, s := range v.Survivors {
			fmt.Fprintf(&b, "  - %s:%d [%s] %s\n", s.File, s.Line, s.Rule, s.Description)
		}
		survivors = b.String()
	}

	return fmt.Sprintf(authorPromptTemplate, v.Requirement, feedback, survivors, v.TestsDir, v.SignalPath)
}

func buildImplementerPrompt(v role.ImplementerView) string {
	var tests strings.Builder
	for _, p := range v.StrippedTestPaths {
		fmt.Fprintf(&tests, "  - %s\n", p)
	}

	var feedback string
	if v.Feedback != "" {
		feedback = fmt.Sprintf("\nReviewer feedback on your previous implementation:\n%s\n", v.Feedback)
	}

	return fmt.Sprintf(implementerPromptTemplate, tests.String(), feedback, v.ImplDir, v.SignalPath)
}
