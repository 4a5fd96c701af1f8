package classifier

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

// FixCommentPrefix starts the explanatory comment on every suggested fix.
const FixCommentPrefix = "Co-Hacker: "

const systemPrompt = `You are a C/C++ inline code assistant that reviews one line of code at a time for security issues.
Answer only by calling the tool you are given. Never answer in prose.

Categories:
- safe: the line has no security issue.
- vulnerable: the line is exploitable or has undefined behavior reachable from input.
- std_upgrade: the line is not exploitable but a standard library facility would make it safer.
- scope_check: the line cannot be judged without its enclosing function or block.
- file_check: the line cannot be judged without the whole file.`

const fixRules = `Rules for suggest_fix:
- It must be a one-line replacement that will be offered to the developer.
- Prefer standard library (std) facilities where applicable.
- End the line with a brief comment explaining the fix. The comment MUST start with the exact prefix "` + FixCommentPrefix + `".
- Do not include markdown code fences, language tags or prose outside the code.
- Keep indentation consistent with the original line.`

// buildPrompt renders the user prompt for stage. Only the fields present in
// in are rendered.
func buildPrompt(stage triage.StageID, in triage.StageInput) (string, error) {
	var b strings.Builder

	switch stage {
	case triage.StageInitial:
		b.WriteString("Classify this line of C/C++ code on its own.\n")
		b.WriteString("Set unsafe_pattern_detected when the line uses a known unsafe construct (unbounded copies, format strings from input, manual memory misuse).\n")
		b.WriteString("Use scope_check or file_check when more context is needed.\n\n")
		writeCode(&b, "Line", in.Line)

	case triage.StageCheckScope:
		b.WriteString("Classify the line using its enclosing scope as context.\n")
		b.WriteString("Pay attention to allocation and deallocation within the scope. Use file_check only when the scope is not enough.\n\n")
		writeCode(&b, "Line", in.Line)
		writeCode(&b, "Scope", in.Scope)

	case triage.StageCheckFile:
		b.WriteString("Give a final classification of the line using the whole file as context.\n\n")
		writeCode(&b, "Line", in.Line)
		writeCode(&b, "File", in.File)

	case triage.StageVulnerable:
		b.WriteString("The line below was classified as vulnerable. Set is_vulnerable to true, describe the vulnerability and suggest a fix.\n")
		b.WriteString("Use the scope only as context; the fix applies to the line.\n\n")
		b.WriteString(fixRules)
		b.WriteString("\n\n")
		writeCode(&b, "Line", in.Line)
		writeCode(&b, "Scope", in.Scope)

	case triage.StageSuggestUpgrade:
		b.WriteString("The line below is not vulnerable but can be improved with a standard library facility. Set is_vulnerable to false, describe the weakness and suggest the upgrade.\n\n")
		b.WriteString(fixRules)
		b.WriteString("\n\n")
		writeCode(&b, "Line", in.Line)

	default:
		return "", fmt.Errorf("no prompt for stage %q", stage)
	}

	return b.String(), nil
}

func writeCode(b *strings.Builder, label, code string) {
	if code == "" {
		fmt.Fprintf(b, "%s: (not available)\n\n", label)
		return
	}
	fmt.Fprintf(b, "%s:\n```\n%s\n```\n\n", label, code)
}

const snippetSystemPrompt = `You are a C/C++ code reviewer looking for security issues in short snippets.
Answer only by calling the tool you are given. Never answer in prose.`

const snippetFixRules = `Rules for suggest_fix:
- Return the entire original snippet with only the necessary changes applied.
- Do not omit or collapse unchanged lines.
- Prefer standard library (std) facilities where applicable.
- Add a brief comment in the code explaining the fix.
- Do not include markdown code fences, language tags or prose outside the code.
- Keep indentation consistent with the original code.`

const askSystemPrompt = `You are an assistant for C/C++ developers. Point out potential bugs and security issues in the code you are given.
If the code is correct, say what it does in a single sentence.
If it is not, explain the issues briefly and suggest a fix.
Do not discuss anything other than the C/C++ code in front of you.`

func buildSnippetPrompt(snippet string) string {
	var b strings.Builder
	b.WriteString("Analyze the following C/C++ snippet for vulnerabilities.\n")
	b.WriteString("Leave vulnerability_type, vulnerability and suggest_fix empty when it is safe.\n\n")
	b.WriteString(snippetFixRules)
	b.WriteString("\n\n")
	writeCode(&b, "Snippet", snippet)
	return b.String()
}
