package llm

import "strings"

const openAISystemPrompt = "You are a medical scribe assistant. Summarize transcripts into SOAP format."

const promptHeader = `You are a clinical documentation specialist. Generate a complete and medically accurate SOAP note based on the transcript below.

### Instructions:
- Produce a structured, concise, and clinically coherent SOAP note.
- Follow the exact SOAP format:
  **S – Subjective**: Patient-reported symptoms, history, and concerns.
  **O – Objective**: Exam findings, vitals, tests, observable/measurable details.
  **A – Assessment**: Diagnoses, differential diagnoses, and clinical reasoning.
  **P – Plan**: Treatment, medications, labs/imaging, follow-up instructions.
- Do NOT hallucinate. Use only information present in the transcript.
- If a reference note is provided, treat it ONLY as stylistic guidance.
- Maintain a professional, medical tone.
- Keep paragraphs short and clear.
`

// BuildPrompt renders the generation instructions around the transcript.
// The reference, when present, is included as a style sample only.
func BuildPrompt(transcript string, reference *string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n### Transcript:\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	if reference != nil && strings.TrimSpace(*reference) != "" {
		b.WriteString("\n### Reference note (style only, do not copy facts):\n")
		b.WriteString(*reference)
		b.WriteString("\n")
	}
	b.WriteString("\nNow produce the final SOAP note.\n")
	return b.String()
}
