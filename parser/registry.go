package parser

import (
	"fmt"

	"github.com/brunobiangulo/goreason/llm"
)

type LlamaParseConfig struct {
	APIKey  string
	BaseURL string
}

type Registry struct {
	parsers    map[string]Parser
	llamaParse *LlamaParseConfig
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	// Register built-in parsers
	pdf := &PDFParser{}
	docx := &DOCXParser{}
	xlsx := &XLSXParser{}
	pptx := &PPTXParser{}
	txt := &TextParser{}

	for _, p := range []Parser{pdf, docx, xlsx, pptx, txt} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// EnableOCR wires a vision-capable LLM provider into the PDF parser's
// third fallback stage (spec.md §4.1's "OCR on a per-page image"). Without
// it, that stage reports capability-missing rather than failing ingestion.
func (r *Registry) EnableOCR(v llm.VisionProvider) {
	if p, ok := r.parsers["pdf"].(*PDFParser); ok {
		p.vision = v
		return
	}
	r.parsers["pdf"] = &PDFParser{vision: v}
}

func (r *Registry) SetLlamaParse(cfg LlamaParseConfig) {
	r.llamaParse = &cfg
	lp := &LlamaParseParser{cfg: cfg}
	// Register legacy formats
	for _, f := range lp.SupportedFormats() {
		r.parsers[f] = lp
	}
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}
