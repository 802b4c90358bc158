package llm

// Stage names, also used as the usage record stage.
const (
	StageRelevance = "relevance"
	StageClassify  = "classify"
	StageSummarise = "summarise"
)

// PromptSpec is a versioned prompt template. The content is appended after
// the template under a CONTENT: marker.
type PromptSpec struct {
	Name     string
	Version  string
	Template string
}

// Render builds the full prompt for text.
func (p PromptSpec) Render(text string) string {
	return p.Template + "\n\nCONTENT:\n" + text
}

var RelevancePrompt = PromptSpec{
	Name:    StageRelevance,
	Version: "v1",
	Template: `You screen news for a daily digest read by people working in the Lloyd's of London insurance market.
Decide whether the article below is relevant to the Lloyd's market: syndicates, managing agents, brokers,
the London specialty and reinsurance market, Lloyd's governance and regulation, or market modernisation.

Return JSON only, no markdown, with exactly these fields:
{"relevant": true or false, "confidence": number between 0 and 1, "reason": "one short sentence"}`,
}

var ClassifyPrompt = PromptSpec{
	Name:    StageClassify,
	Version: "v1",
	Template: `Assign one topic label to the article below for a Lloyd's market news digest.
Prefer one of: Market Structure, Placement & Modernisation, Specialty Lines, Reinsurance,
Brokers & Distribution, Regulation & Governance, Claims & Catastrophes, Technology & Data, People & Appointments.

Return JSON only, no markdown: {"label": "topic label"}`,
}

var SummarisePrompt = PromptSpec{
	Name:    StageSummarise,
	Version: "v1",
	Template: `Summarise the article below for Lloyd's market professionals in two to four short factual bullets.
Do not speculate and do not repeat the headline.

Return JSON only, no markdown: {"bullets": ["first point", "second point"]}`,
}
