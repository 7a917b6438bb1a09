package llm

import (
	"bytes"
	"text/template"

	"telegram-pig-bot/config"
)

// TemplateProcessor renders the caption prompt
type TemplateProcessor struct {
	captionTemplate *template.Template
	language        string
}

// NewTemplateProcessor parses the configured caption prompt
func NewTemplateProcessor(cfg config.LLMConfig) (*TemplateProcessor, error) {
	captionTmpl, err := template.New("caption").Parse(cfg.CaptionPrompt)
	if err != nil {
		return nil, err
	}

	return &TemplateProcessor{
		captionTemplate: captionTmpl,
		language:        cfg.Language,
	}, nil
}

// ProcessCaptionTemplate renders the caption prompt for an image title
func (p *TemplateProcessor) ProcessCaptionTemplate(title string) (string, error) {
	var buf bytes.Buffer
	err := p.captionTemplate.Execute(&buf, struct {
		Title    string
		Language string
	}{
		Title:    title,
		Language: p.language,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
