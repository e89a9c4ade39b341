package manuscript

import (
	"fmt"
	"strings"
)

const agentSystemPrompt = "You are a professional literary agent and publishing expert."

const validatorSystemPrompt = "You are a meticulous publishing researcher who verifies publication dates of books."

// RecencySentinel is the validator's all-clear reply.
const RecencySentinel = "All titles are within the 5-year range"

func recencyClause(cutoff int) string {
	return fmt.Sprintf(`
IMPORTANT: Every comparable title must be published %[1]d or later. Do not list any book published before %[1]d, even if it is a classic of the genre. Each title must show its publication year, and that year must be %[1]d or later.
`, cutoff)
}

func chunkPrompt(text string, index, total int, recent bool, cutoff int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze the following manuscript excerpt (part %d of %d) and identify comparable published books.\n", index+1, total)
	sb.WriteString(`
Use exactly this format:

Primary Comparable Titles
- Title by Author (Year) - why it is comparable

Thematic Comparables
- Title by Author (Year) - shared themes

Genre Comparables
- Title by Author (Year) - shared genre conventions

Voice/Style Comparables
- Title by Author (Year) - similar voice or prose style

Trope Comparables
- Title by Author (Year) - shared tropes

Also note for this excerpt:
- Genres and subgenres
- Tone
- Target audience
- Commercial strengths and weaknesses
`)
	if recent {
		sb.WriteString(recencyClause(cutoff))
	}
	sb.WriteString("\nText to analyze:\n")
	sb.WriteString(text)
	return sb.String()
}

func validatorPrompt(analysis string, cutoff int) string {
	return fmt.Sprintf(`Check the publication year of every comparable title in the analysis below. Every title must be published %[1]d or later.

For each title published before %[1]d, suggest a comparable replacement published %[1]d or later and answer with exactly two lines per title:
REPLACE: Old Title by Old Author (Year)
WITH: New Title by New Author (Year)

If every title is published %[1]d or later, answer with exactly: %[2]s.

Analysis:
%[3]s`, cutoff, RecencySentinel, analysis)
}

func compilePrompt(analysesJSON string, recent bool, cutoff int) string {
	var sb strings.Builder
	sb.WriteString(`Below are analyses of consecutive sections of a single manuscript, given as a JSON array in manuscript order. Merge them into one final report using exactly this format:

Commercial Viability Score (1-10)
- Overall Score: [number]/10
- Strengths: List key commercial strengths
- Weaknesses: List potential market challenges
- Critical Analysis: Brutally honest assessment of commercial potential

Primary Genres
- List each genre

Subgenres
- List each subgenre

Tropes
- List prominent tropes

Tone
- List tonal elements

Target Audience
- Describe the primary audience
- List any secondary audiences

Themes
- List major themes

Unique Hooks/Selling Points
- List unique elements that make this story stand out

Similar Published Books
Primary Comparable Titles
- Title by Author (Year) - Estimated Sales: [number] copies (if available). Brief explanation of similarities
Thematic Comparables
- Title by Author (Year) - brief explanation
Genre Comparables
- Title by Author (Year) - brief explanation
Voice/Style Comparables
- Title by Author (Year) - brief explanation
Trope Comparables
- Title by Author (Year) - brief explanation

Rules:
- Each comparable title may appear only once across all categories.
- Never list books from the manuscript's own series or by the manuscript's author.
- Prefer titles cited by several section analyses.
`)
	if recent {
		sb.WriteString(recencyClause(cutoff))
	}
	sb.WriteString("\nSection analyses:\n")
	sb.WriteString(analysesJSON)
	return sb.String()
}
