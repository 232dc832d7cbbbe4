package ai

import (
	"fmt"
	"unicode/utf8"
)

// Default input caps applied before a prompt is sent.
const (
	DefaultSummaryMaxChars = 10000
	DefaultDiffMaxChars    = 40000
)

// Options holds provider-independent prompt settings.
type Options struct {
	Dimension       int
	SummaryMaxChars int
	DiffMaxChars    int
}

func (o Options) withDefaults() Options {
	if o.SummaryMaxChars <= 0 {
		o.SummaryMaxChars = DefaultSummaryMaxChars
	}
	if o.DiffMaxChars <= 0 {
		o.DiffMaxChars = DefaultDiffMaxChars
	}
	return o
}

const summarySystemPrompt = `You are a senior software engineer who specialises in onboarding junior engineers onto unfamiliar codebases.`

const diffSystemPrompt = `You are an expert programmer summarising a git diff for a commit log.`

func summaryUserPrompt(filePath, code string, maxChars int) string {
	return fmt.Sprintf(`You are onboarding a junior engineer and explaining the purpose of the %s file.
Here is the code:
---
%s
---
Summarise what this file does in no more than 100 words.`, filePath, truncate(code, maxChars))
}

func diffUserPrompt(diff string, maxChars int) string {
	return fmt.Sprintf(`Reminders about the git diff format:
For every file there are a few metadata lines, for example:
`+"```"+`
diff --git a/lib/index.js b/lib/index.js
index aadf691..bfef603 100644
--- a/lib/index.js
+++ b/lib/index.js
`+"```"+`
This means lib/index.js was modified in this commit. This is only an example.
Then there is a specifier of the lines that were modified.
A line starting with "+" was added.
A line starting with "-" was deleted.
A line starting with neither is context and is not part of the change.

Write one short bullet per meaningful change and cite the file paths in square brackets, for example:
* Raised the number of returned recordings from 10 to 100 [packages/server/recordings_api.ts]
* Fixed a typo in the GitHub action name [.github/workflows/commit-summary.yml]
* Lowered numeric tolerance for test files.
Most commits need fewer bullets than this. Do not copy the examples.

Summarise the following diff:

%s`, truncate(diff, maxChars))
}

// truncate cuts s to at most maxChars runes.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
