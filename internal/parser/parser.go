// Package parser turns free-form model output into a validated
// narrative-plus-choices structure. Model output format is best-effort, never
// a guaranteed schema, so everything here degrades gracefully: the only hard
// failure is an empty narrative.
package parser

import (
	"fmt"
	"strings"

	"fable-server/internal/models"
)

// Markers the system prompt asks the model to emit. Their absence is handled,
// not trusted.
const (
	choicesMarker = "choices:"
	imageMarker   = "image:"
	endMarker     = "the end"
)

// StoryContext is what the fallback synthesizer knows about the story. It is
// used to produce choices that reference the actual characters and setting
// instead of generic boilerplate.
type StoryContext struct {
	CharacterNames []string
	Setting        string
	Theme          string
	MaxReached     bool // the story hit its configured maximum segment count
	ForceEnding    bool // explicit user request to end the story
}

// Result is the validated parse output. Choice texts are non-empty, trimmed
// and case-insensitively distinct; an ending result has none.
type Result struct {
	Narrative   string
	Choices     []string
	ImagePrompt string
	IsEnding    bool
}

// Parse extracts narrative, choices and the image prompt from raw model text.
// Returns models.ErrParseFailure only when the narrative itself is empty
// after trimming; anything else degrades to synthesized choices.
//
// Ending precedence: an explicit user end request overrides the model, a
// model end signal overrides remaining segments, and the maximum segment
// count forces an ending even when the model keeps offering choices.
func Parse(rawText string, sctx StoryContext) (Result, error) {
	lines := strings.Split(rawText, "\n")

	var narrativeLines []string
	var choiceLines []string
	imagePrompt := ""
	modelSignaledEnd := false
	inChoices := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		switch {
		case strings.HasPrefix(lower, imageMarker):
			imagePrompt = strings.TrimSpace(trimmed[len(imageMarker):])
		case lower == endMarker || lower == endMarker+"." || lower == endMarker+"!":
			modelSignaledEnd = true
			inChoices = false
		case strings.HasPrefix(lower, choicesMarker):
			inChoices = true
			// Some models put the first choice on the marker line itself.
			if rest := strings.TrimSpace(trimmed[len(choicesMarker):]); rest != "" {
				choiceLines = append(choiceLines, rest)
			}
		case inChoices:
			if trimmed != "" {
				choiceLines = append(choiceLines, trimmed)
			}
		default:
			if trimmed != "" || len(narrativeLines) > 0 {
				narrativeLines = append(narrativeLines, line)
			}
		}
	}

	narrative := strings.TrimSpace(strings.Join(narrativeLines, "\n"))
	if narrative == "" {
		return Result{}, fmt.Errorf("%w: raw length %d", models.ErrParseFailure, len(rawText))
	}

	// Without an explicit marker, a trailing enumerated block is still a
	// choice list: peel it off the narrative.
	if len(choiceLines) == 0 {
		narrative, choiceLines = splitTrailingEnumeration(narrative)
	}

	choices := cleanChoices(choiceLines)

	isEnding := sctx.ForceEnding || modelSignaledEnd || sctx.MaxReached
	if isEnding {
		return Result{
			Narrative:   narrative,
			Choices:     nil,
			ImagePrompt: imagePrompt,
			IsEnding:    true,
		}, nil
	}

	if len(choices) < 2 {
		choices = synthesizeChoices(narrative, sctx, choices)
	}
	// A non-ending segment must carry at least two choices. If synthesis
	// could not anchor any to the story or the narrative, the text has no
	// usable scene words and the output is rejected as a whole.
	if len(choices) < 2 {
		return Result{}, fmt.Errorf("%w: could not derive choices from narrative", models.ErrParseFailure)
	}
	if len(choices) > 4 {
		choices = choices[:4]
	}

	return Result{
		Narrative:   narrative,
		Choices:     choices,
		ImagePrompt: imagePrompt,
		IsEnding:    false,
	}, nil
}

// splitTrailingEnumeration detects a run of two or more enumerated lines at
// the end of the narrative and splits it out as the choice block.
func splitTrailingEnumeration(narrative string) (string, []string) {
	lines := strings.Split(narrative, "\n")
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if stripEnumeration(trimmed) == trimmed {
			break
		}
		start = i
	}
	if len(lines)-start < 2 {
		return narrative, nil
	}
	var choiceLines []string
	for _, l := range lines[start:] {
		if t := strings.TrimSpace(l); t != "" {
			choiceLines = append(choiceLines, t)
		}
	}
	return strings.TrimSpace(strings.Join(lines[:start], "\n")), choiceLines
}

// stripEnumeration removes a leading "1.", "2)", "-", "*" style prefix.
// Returns the input unchanged when no prefix is present.
func stripEnumeration(line string) string {
	s := strings.TrimSpace(line)
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "*") {
		return strings.TrimSpace(s[1:])
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i > 2 || i >= len(s) {
		return s
	}
	if s[i] == '.' || s[i] == ')' || s[i] == ':' {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// cleanChoices trims, strips enumeration and deduplicates case-insensitively,
// preserving order.
func cleanChoices(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, r := range raw {
		text := strings.TrimSpace(stripEnumeration(r))
		text = strings.Trim(text, `"`)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, text)
	}
	return out
}

// synthesizeChoices tops up the choice list to three entries using words the
// story already owns: character names, the setting, the theme, and salient
// nouns of the narrative itself. Generic boilerplate ("Continue the
// adventure") is deliberately never produced here: it breaks immersion and is
// trivially detectable.
func synthesizeChoices(narrative string, sctx StoryContext, existing []string) []string {
	choices := append([]string(nil), existing...)
	seen := make(map[string]bool, len(choices))
	for _, c := range choices {
		seen[strings.ToLower(c)] = true
	}

	add := func(text string) {
		key := strings.ToLower(strings.TrimSpace(text))
		if key == "" || seen[key] || len(choices) >= 3 {
			return
		}
		seen[key] = true
		choices = append(choices, strings.TrimSpace(text))
	}

	name := firstMentioned(narrative, sctx.CharacterNames)
	if name == "" && len(sctx.CharacterNames) > 0 {
		name = strings.TrimSpace(sctx.CharacterNames[0])
	}
	setting := strings.TrimSpace(sctx.Setting)
	theme := strings.TrimSpace(sctx.Theme)

	if name != "" {
		add(fmt.Sprintf("Ask %s what to do next", name))
	}
	if setting != "" {
		add(fmt.Sprintf("Explore deeper into %s", setting))
	}
	if name != "" && setting != "" {
		add(fmt.Sprintf("Follow %s through %s", name, setting))
	}
	if theme != "" {
		add(fmt.Sprintf("Remember what %s means and act on it", theme))
	}
	if name != "" {
		add(fmt.Sprintf("Stay close to %s and keep watch", name))
	}
	if setting != "" {
		add(fmt.Sprintf("Search %s for a hidden path", setting))
	}

	// Last resort when the story context itself is empty: lean on a salient
	// word from the narrative so the choice still belongs to this story.
	if len(choices) < 2 {
		if word := salientWord(narrative); word != "" {
			add(fmt.Sprintf("Take a closer look at the %s", strings.ToLower(word)))
			add(fmt.Sprintf("Walk away from the %s and look around", strings.ToLower(word)))
		}
	}

	return choices
}

// firstMentioned returns the first character name that actually appears in
// the narrative, so synthesized choices reference someone on the page.
func firstMentioned(narrative string, names []string) string {
	lower := strings.ToLower(narrative)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return n
		}
	}
	return ""
}

// salientWord picks the longest capitalized or long word from the narrative
// tail, skipping sentence starts where capitalization carries no signal.
func salientWord(narrative string) string {
	words := strings.Fields(narrative)
	best := ""
	for i, w := range words {
		w = strings.Trim(w, `.,!?'";:`)
		if w == "" {
			continue
		}
		if len(w) >= 5 {
			isCapital := w[0] >= 'A' && w[0] <= 'Z'
			sentenceStart := i == 0 || strings.HasSuffix(words[i-1], ".") || strings.HasSuffix(words[i-1], "!") || strings.HasSuffix(words[i-1], "?")
			if isCapital && !sentenceStart {
				return w
			}
		}
		if len(w) > len(best) {
			best = w
		}
	}
	return best
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
