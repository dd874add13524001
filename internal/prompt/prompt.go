// Package prompt assembles the instruction text handed to the conversational agent.
package prompt

import "strings"

// LanguageSpanish selects the Spanish template. Any other value gets English.
const LanguageSpanish = "es"

// Options are the inputs to Build.
type Options struct {
	Objective string
	Context   string
	Fields    []string
	Language  string

	// Override, when non-empty, is returned verbatim.
	Override string
}

type template struct {
	intro      string
	objective  string
	guidelines []string
	context    string
	extract    string
}

var english = template{
	intro:     "You are a professional phone assistant making a call on behalf of a user.",
	objective: "OBJECTIVE",
	guidelines: []string{
		"GUIDELINES:",
		"- Be polite and professional",
		"- Speak naturally, with appropriate pauses",
		"- Listen carefully and respond appropriately",
		"- Stay focused on the objective",
		"- If you encounter a phone menu (IVR), navigate it to reach a human",
		"- Extract any relevant information mentioned",
	},
	context: "CONTEXT",
	extract: "INFORMATION TO EXTRACT",
}

var spanish = template{
	intro:     "Eres un asistente telefónico profesional haciendo una llamada en nombre de un usuario.",
	objective: "OBJETIVO",
	guidelines: []string{
		"GUÍAS:",
		"- Sé cortés y profesional",
		"- Habla naturalmente, con pausas apropiadas",
		"- Escucha atentamente y responde apropiadamente",
		"- Mantente enfocado en el objetivo",
		"- Si encuentras un menú telefónico (IVR), navégalo para llegar a un humano",
		"- Extrae cualquier información relevante mencionada",
	},
	context: "CONTEXTO",
	extract: "INFORMACIÓN A EXTRAER",
}

// Build returns the agent instructions for opts. It is pure: equal options give equal text.
func Build(opts Options) string {
	if opts.Override != "" {
		return opts.Override
	}

	t := english
	if opts.Language == LanguageSpanish {
		t = spanish
	}

	var b strings.Builder
	b.WriteString(t.intro)
	b.WriteString("\n\n")
	b.WriteString(t.objective)
	b.WriteString(": ")
	b.WriteString(opts.Objective)
	b.WriteString("\n\n")
	for _, line := range t.guidelines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if opts.Context != "" {
		b.WriteString("\n")
		b.WriteString(t.context)
		b.WriteString(": ")
		b.WriteString(opts.Context)
	}

	if len(opts.Fields) > 0 {
		b.WriteString("\n\n")
		b.WriteString(t.extract)
		b.WriteString(":\n")
		for _, f := range opts.Fields {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return b.String()
}
