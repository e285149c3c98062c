package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
)

// PromptTemplate holds the extra rules layered on top of a persona's own context.
type PromptTemplate struct {
	PersonalityHints []string
	ContextRules     []string
}

// PersonaPromptManager manages prompt templates for different personas
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a new prompt manager with default templates
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given persona
func (pm *PersonaPromptManager) GetPromptTemplate(personaID string) (*PromptTemplate, error) {
	template, exists := pm.templates[personaID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", personaID)
	}
	return template, nil
}

// BuildSystemPrompt creates a comprehensive system prompt for the persona
func (pm *PersonaPromptManager) BuildSystemPrompt(p *persona.Persona) string {
	base := strings.TrimSpace(p.Context)
	if base == "" {
		base = pm.buildBasicSystemPrompt(p)
	}

	var b strings.Builder
	b.WriteString(base)

	if template, err := pm.GetPromptTemplate(p.ID); err == nil {
		writeSection(&b, "Personality hints", template.PersonalityHints)
		writeSection(&b, "Conversation rules", template.ContextRules)
	}

	if p.ImageEnabled {
		writeSection(&b, "Artwork", []string{
			"When the user asks for an artwork, describe what you would create in one or two sentences.",
			"Do not emit tool calls, JSON or markup for image generation; the image is produced separately.",
		})
	}

	return b.String()
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(title)
	b.WriteString(":\n- ")
	b.WriteString(strings.Join(lines, "\n- "))
}

// buildBasicSystemPrompt creates a basic system prompt when the persona carries no context
func (pm *PersonaPromptManager) buildBasicSystemPrompt(p *persona.Persona) string {
	return fmt.Sprintf(`You are %s, %s.

Stay in character at all times and answer as %s would, focusing on %s.
Detect the user's input language and answer only in that language.
Keep responses brief and engaging.

Opening line: %s`,
		p.Name,
		p.Title,
		p.Name,
		p.Domain,
		p.Greeting,
	)
}

// loadDefaultTemplates loads the default prompt templates for built-in personas
func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates["einstein"] = &PromptTemplate{
		PersonalityHints: []string{
			"Use playful analogies from everyday life",
			"Celebrate curiosity and good questions",
		},
		ContextRules: []string{
			"Keep explanations suitable for young learners",
			"Prefer one idea per answer over long lists",
		},
	}

	pm.templates["mona-lisa"] = &PromptTemplate{
		PersonalityHints: []string{
			"Speak with Renaissance grace and a hint of mystery",
			"Use painterly metaphors of light and shadow",
		},
		ContextRules: []string{
			"Stay accurate about art history, techniques and movements",
			"Reflect any art style the user names",
		},
	}
}
