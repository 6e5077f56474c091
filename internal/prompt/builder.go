package prompt

import (
	"fmt"
	"strings"

	"fable-server/internal/models"
)

// Kind selects the prompt variant to build.
type Kind string

const (
	KindOpening      Kind = "opening"
	KindContinuation Kind = "continuation"
	KindEnding       Kind = "ending"
)

// PromptSet is the provider-ready output of the builder: a system instruction,
// the user turn, and a separate shorter prompt for the image model. Degraded
// is set when required story fields were missing and generic placeholders were
// substituted so generation can still proceed. Theme and Setting are the
// effective scene words after that substitution, so downstream consumers work
// with the same scene the model was prompted with.
type PromptSet struct {
	System      string
	User        string
	ImagePrompt string
	Theme       string
	Setting     string
	Degraded    bool
}

// BuildRequest carries the story state the builder works from. Prior and
// SelectedChoiceText are nil/empty for an opening prompt.
type BuildRequest struct {
	Story              *models.Story
	Prior              *models.Segment
	SelectedChoiceText string
	Kind               Kind
}

// How much of the prior narrative is quoted verbatim in a continuation prompt
// before it is compacted to its trailing sentences.
const priorNarrativeLimit = 800

// vocabularyInstruction maps an age bracket to the writing-style constraint
// embedded in the system prompt.
func vocabularyInstruction(bracket models.AgeBracket) string {
	switch bracket {
	case models.AgeBracket3to4:
		return "Use very short, simple sentences and everyday words a toddler knows. Repeat key words."
	case models.AgeBracket4to6:
		return "Use short sentences and simple vocabulary. A gentle rhythm helps."
	case models.AgeBracket7to9:
		return "Use clear sentences with some variety. Occasional new words are fine if the context explains them."
	case models.AgeBracket10to12:
		return "Use richer vocabulary and varied sentence structure, but keep the tone warm and age-appropriate."
	default:
		return "Use short sentences and simple vocabulary."
	}
}

// genreFlavor returns an extra instruction line for known genres.
// Unknown genres fall back to a neutral storytelling line.
func genreFlavor(genre string) string {
	switch strings.ToLower(strings.TrimSpace(genre)) {
	case "fantasy":
		return "Lean into wonder and gentle magic. Nothing frightening."
	case "adventure":
		return "Keep the pace lively with small discoveries along the way."
	case "animals":
		return "The animal characters talk and have big personalities."
	case "space", "sci-fi", "science fiction":
		return "Make space feel friendly and full of curious sights."
	case "mystery":
		return "Sprinkle small, solvable clues. Keep it cozy, never scary."
	case "fairy tale", "fairytale":
		return "Use classic fairy-tale cadence: once-upon-a-time warmth."
	default:
		return "Tell a warm, imaginative story."
	}
}

// Build constructs the provider prompt set from story state. It is pure and
// never fails: missing story fields degrade to placeholders instead.
func Build(req BuildRequest) PromptSet {
	story := req.Story
	degraded := false

	theme := strings.TrimSpace(story.Theme)
	if theme == "" {
		theme = "friendship"
		degraded = true
	}
	setting := strings.TrimSpace(story.Setting)
	if setting == "" {
		setting = "a sunny meadow"
		degraded = true
	}
	genre := strings.TrimSpace(story.Genre)
	if genre == "" {
		genre = "adventure"
		degraded = true
	}

	wordTarget := story.WordsPerSegment
	if wordTarget <= 0 {
		wordTarget = story.AgeBracket.WordTarget()
	}

	var system strings.Builder
	system.WriteString("You are a children's story writer creating an interactive, choice-driven story for ages ")
	system.WriteString(string(story.AgeBracket))
	system.WriteString(".\n")
	system.WriteString(vocabularyInstruction(story.AgeBracket))
	system.WriteString("\n")
	system.WriteString(genreFlavor(genre))
	system.WriteString("\n")
	fmt.Fprintf(&system, "Write one story segment of about %d words.\n", wordTarget)

	if req.Kind == KindEnding {
		system.WriteString("This is the FINAL segment: bring the story to a satisfying, happy ending. Do not offer any choices.\n")
		system.WriteString("After the story text, write a line starting with IMAGE: followed by a one-sentence visual description of the final scene.\n")
	} else {
		system.WriteString("After the story text, write a line containing only CHOICES: and then 3 numbered choices (1., 2., 3.), each a short action the reader can pick.\n")
		system.WriteString("Then write a line starting with IMAGE: followed by a one-sentence visual description of the scene, without any dialogue.\n")
		system.WriteString("If the story reaches a natural conclusion instead, write THE END on its own line and no choices.\n")
	}

	var user strings.Builder
	switch req.Kind {
	case KindContinuation, KindEnding:
		if req.Prior != nil {
			fmt.Fprintf(&user, "The story so far (latest part):\n%s\n\n", compactNarrative(req.Prior.Narrative))
		}
		if req.SelectedChoiceText != "" {
			fmt.Fprintf(&user, "The reader chose: %q\n\n", req.SelectedChoiceText)
		}
		if req.Kind == KindEnding {
			user.WriteString("Now write the ending of the story.")
		} else {
			user.WriteString("Continue the story from that choice.")
		}
	default:
		fmt.Fprintf(&user, "Start a %s story about %s, set in %s.\n", genre, theme, setting)
		if names := characterLines(story.Characters); names != "" {
			user.WriteString("Characters:\n")
			user.WriteString(names)
		} else {
			user.WriteString("Invent one friendly main character and name them.\n")
			degraded = true
		}
	}

	return PromptSet{
		System:      system.String(),
		User:        user.String(),
		ImagePrompt: fallbackImagePrompt(story, setting, theme),
		Theme:       theme,
		Setting:     setting,
		Degraded:    degraded,
	}
}

// fallbackImagePrompt is the scene description used for the image model when
// the parsed output carries no IMAGE: line. It is built from the same scene
// state, with no dialogue or choice text.
func fallbackImagePrompt(story *models.Story, setting, theme string) string {
	var b strings.Builder
	b.WriteString("A scene in ")
	b.WriteString(setting)
	if len(story.Characters) > 0 && strings.TrimSpace(story.Characters[0].Name) != "" {
		fmt.Fprintf(&b, " featuring %s", story.Characters[0].Name)
	}
	fmt.Fprintf(&b, ", a story about %s", theme)
	return b.String()
}

// compactNarrative keeps continuation prompts bounded: short narratives pass
// through verbatim, long ones are trimmed to their trailing sentences.
func compactNarrative(narrative string) string {
	n := strings.TrimSpace(narrative)
	if len(n) <= priorNarrativeLimit {
		return n
	}
	cut := n[len(n)-priorNarrativeLimit:]
	if idx := strings.IndexAny(cut, ".!?"); idx >= 0 && idx+1 < len(cut) {
		cut = strings.TrimSpace(cut[idx+1:])
	}
	return "..." + cut
}

func characterLines(chars []models.Character) string {
	var b strings.Builder
	for _, c := range chars {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(name)
		if c.Role != "" {
			fmt.Fprintf(&b, " (%s)", c.Role)
		}
		if len(c.Traits) > 0 {
			fmt.Fprintf(&b, ": %s", strings.Join(c.Traits, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
