package mcpserver

// RecipeFormatURI identifies the recipe format resource.
const RecipeFormatURI = "airules://recipe-format"

// RecipeFormatContract describes the recipe file format that LLM consumers
// should follow when authoring local recipes.
const RecipeFormatContract = `# Recipe Format

A recipe is a named technology-stack template. Each recipe lives in its own
file; the file name without extension is the recipe key.

## Files

- Extensions: ` + "`" + `.yaml` + "`" + `, ` + "`" + `.yml` + "`" + ` or ` + "`" + `.json` + "`" + ` (case-insensitive).
- Local recipes go in ` + "`" + `~/.airules/recipes/` + "`" + `. A local recipe replaces a
  remote or bundled recipe with the same key.
- Other files in the directory are ignored.

## Structure

` + "```" + `yaml
name: React SPA                # REQUIRED - display name
description: Vite + React 18   # OPTIONAL
category: frontend             # OPTIONAL - frontend, backend, fullstack, mobile,
                               #   desktop, data, devops, ai or other
tags: [react, typescript]      # OPTIONAL - list of strings
techStack:                     # OPTIONAL - role to technology, order is kept
  framework: React
  language: TypeScript
  bundler: Vite
rules: |                       # OPTIONAL - free text rules for the assistant
  Prefer function components.
` + "```" + `

## Rules

1. ` + "`" + `name` + "`" + ` must be non-empty. Files without it are skipped.
2. ` + "`" + `techStack` + "`" + ` values are single scalars. Nested maps and lists are rejected.
3. Unknown categories are accepted but do not show up in category filters
   of other tools.
4. Search is a case-insensitive substring match over name, description,
   category, tech stack and tags.
`
