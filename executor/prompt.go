package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jaseci-llmdocs/jacbench/suite"
)

const promptTemplate = `You are a Jac programming language expert. Write valid Jac code for each test case based on the documentation.

# Documentation
%s

# Test Cases
%s

# Task
Return a JSON object mapping each test ID to Jac code. Use \n for newlines and \" for quotes in the code strings.
`

type promptTest struct {
	ID       string   `json:"id"`
	Level    int      `json:"level"`
	Category string   `json:"category"`
	Task     string   `json:"task"`
	Points   int      `json:"points"`
	Hints    []string `json:"hints,omitempty"`
}

// BuildPrompt renders the full prompt for one batch: the documentation
// variant followed by the test case descriptions. Required and forbidden
// patterns are withheld from the model.
func BuildPrompt(doc string, cases []suite.TestCase) string {
	tests := make([]promptTest, len(cases))
	for i, c := range cases {
		tests[i] = promptTest{
			ID:       c.ID,
			Level:    c.Level,
			Category: c.Category,
			Task:     c.Task,
			Points:   c.Points,
			Hints:    c.Hints,
		}
	}
	b, _ := json.MarshalIndent(map[string]any{"tests": tests}, "", "  ")
	return fmt.Sprintf(promptTemplate, doc, string(b))
}

// ParseResponses decodes the model's JSON response map, tolerating a
// markdown code fence around the object.
func ParseResponses(text string) (map[string]string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, err
	}
	return m, nil
}
