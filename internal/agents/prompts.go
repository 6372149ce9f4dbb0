package agents

import (
	"strings"
	"text/template"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const labelsBlock = `Labels:
{{range .Labels}}- {{.Name}}: {{.Definition}}
{{end}}`

var (
	unifiedSystemTmpl = template.Must(template.New("unified").Parse(
		`You review predictions made by a text classifier.
` + labelsBlock + `
Decide whether the predicted label fits the text. If it does not, suggest the correct label from the list.
Answer with one JSON object and nothing else:
{"verdict": "Agree" | "Disagree" | "Uncertain", "reasoning": "<why>", "suggested_label": "<label or null>", "explanation": "<one or two sentences for a human reviewer>"}`))

	evaluatorSystemTmpl = template.Must(template.New("evaluator").Parse(
		`You evaluate whether a classifier's predicted label is correct.
` + labelsBlock + `
Answer with one JSON object and nothing else:
{"verdict": "Agree" | "Disagree" | "Uncertain", "reasoning": "<why>"}`))

	proposerSystemTmpl = template.Must(template.New("proposer").Parse(
		`A reviewer judged a classifier's predicted label to be wrong or doubtful. Propose the best label.
` + labelsBlock + `
Answer with one JSON object and nothing else:
{"suggested_label": "<label from the list>", "reasoning": "<why>"}`))

	reasonerSystemTmpl = template.Must(template.New("reasoner").Parse(
		`You write short explanations of label review decisions for human auditors.
Answer with one JSON object and nothing else:
{"explanation": "<one or two sentences>"}`))

	sampleTmpl = template.Must(template.New("sample").Parse(
		`Text: {{.Sample.Text}}
Predicted label: {{.Sample.PredictedLabel}}
Classifier confidence: {{printf "%.2f" .Sample.Confidence}}
{{- if .Verdict}}
Reviewer verdict: {{.Verdict}}
Reviewer reasoning: {{.Reasoning}}
{{- end}}
{{- if .Suggested}}
Suggested label: {{.Suggested}}
{{- end}}`))
)

type systemData struct {
	Labels []Label
}

type sampleData struct {
	Sample    models.Sample
	Verdict   models.Verdict
	Reasoning string
	Suggested string
}

func render(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

type systemTemplate struct {
	name string
	tmpl *template.Template
}

var (
	unifiedSystem   = &systemTemplate{name: "unified", tmpl: unifiedSystemTmpl}
	evaluatorSystem = &systemTemplate{name: "evaluator", tmpl: evaluatorSystemTmpl}
	proposerSystem  = &systemTemplate{name: "proposer", tmpl: proposerSystemTmpl}
	reasonerSystem  = &systemTemplate{name: "reasoner", tmpl: reasonerSystemTmpl}
)

func (s *systemTemplate) render(catalog *LabelCatalog) (string, error) {
	labels := DefaultLabels
	if catalog != nil {
		labels = catalog.labels
	}
	return render(s.tmpl, systemData{Labels: labels})
}
