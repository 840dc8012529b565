package prompt

// Built-in template names.
const (
	CorrectFiles = "correct-files.md"
	System       = "system.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	CorrectFiles: correctFilesTemplate,
	System:       systemTemplate,
}

const systemTemplate = `You repair generated source files so that they pass automated validation.
Reply with complete file contents only, one block per file, each introduced by a line
"=== FILE: <path> ===" and nothing else. Do not add files that were not given to you.
Keep every part of a file that is not implicated by an issue unchanged.
`

const correctFilesTemplate = `# Correct generated code for contract {{contract_name}}

The following validation issues remain after automatic fixes:

{{feedback}}
{{#if instructions}}
## Generation instructions
{{instructions}}
{{/if}}
{{#if acceptance_criteria}}
## Acceptance criteria
{{acceptance_criteria}}
{{/if}}

## Files to correct
{{files}}

Return every file listed above, corrected, in the "=== FILE: <path> ===" format.
`
