package persona

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Persona struct {
	Name      string    `yaml:"name"`
	Prompt    Prompt    `yaml:"prompt"`
	Fallbacks Fallbacks `yaml:"fallbacks"`
	Mention   Mention   `yaml:"mention"`
	Ambient   Ambient   `yaml:"ambient"`
	Commands  Commands  `yaml:"commands"`

	systemTmpl     *template.Template
	roastTmpl      *template.Template
	complimentTmpl *template.Template
	wordChainTmpl  *template.Template
	helpTmpl       *template.Template
	unknownTmpl    *template.Template
}

type Prompt struct {
	System     string `yaml:"system"`
	User       string `yaml:"user"`
	EmptyHints string `yaml:"empty_hints"`
	HintCount  int    `yaml:"hint_count"`
}

type Fallbacks struct {
	ServiceError string `yaml:"service_error"`
	EmptyOutput  string `yaml:"empty_output"`
	Failure      string `yaml:"failure"`
}

type Mention struct {
	Ack   string   `yaml:"ack"`
	Media []string `yaml:"media"`
}

type Ambient struct {
	Context string `yaml:"context"`
}

type TargetedCommand struct {
	Context string `yaml:"context"`
	Suffix  string `yaml:"suffix"`
}

type Commands struct {
	Roast         TargetedCommand `yaml:"roast"`
	Compliment    TargetedCommand `yaml:"compliment"`
	DefaultTarget string          `yaml:"default_target"`
	WordChain     string          `yaml:"wordchain"`
	Help          string          `yaml:"help"`
	Unknown       string          `yaml:"unknown"`
}

// PromptData feeds the system prompt template.
type PromptData struct {
	Context string
	Hints   string
}

// WordChainData feeds commands.wordchain.
type WordChainData struct {
	FirstWord  string
	NextLetter string
}

// Default returns the built-in persona.
func Default() *Persona {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("persona: built-in default is invalid: %v", err))
	}
	return p
}

// Load reads a persona file. Fields the file leaves empty keep their
// built-in values.
func Load(path string) (*Persona, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	p, err := parseOver(defaultYAML, raw)
	if err != nil {
		return nil, fmt.Errorf("persona file %s: %w", path, err)
	}
	return p, nil
}

func Parse(raw []byte) (*Persona, error) {
	return parseOver(nil, raw)
}

func parseOver(base, raw []byte) (*Persona, error) {
	var p Persona
	if len(base) > 0 {
		if err := yaml.Unmarshal(base, &p); err != nil {
			return nil, err
		}
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Persona) compile() error {
	if strings.TrimSpace(p.Prompt.System) == "" {
		return fmt.Errorf("prompt.system is required")
	}
	if strings.TrimSpace(p.Prompt.User) == "" {
		return fmt.Errorf("prompt.user is required")
	}
	if p.Prompt.HintCount <= 0 {
		p.Prompt.HintCount = 3
	}
	if strings.TrimSpace(p.Fallbacks.ServiceError) == "" || strings.TrimSpace(p.Fallbacks.EmptyOutput) == "" || strings.TrimSpace(p.Fallbacks.Failure) == "" {
		return fmt.Errorf("fallbacks.service_error, fallbacks.empty_output and fallbacks.failure are required")
	}
	if len(p.Mention.Media) == 0 {
		return fmt.Errorf("mention.media must list at least one link")
	}
	var err error
	if p.systemTmpl, err = parseTemplate("system", p.Prompt.System); err != nil {
		return err
	}
	if p.roastTmpl, err = parseTemplate("roast", p.Commands.Roast.Context); err != nil {
		return err
	}
	if p.complimentTmpl, err = parseTemplate("compliment", p.Commands.Compliment.Context); err != nil {
		return err
	}
	if p.wordChainTmpl, err = parseTemplate("wordchain", p.Commands.WordChain); err != nil {
		return err
	}
	if p.helpTmpl, err = parseTemplate("help", p.Commands.Help); err != nil {
		return err
	}
	if p.unknownTmpl, err = parseTemplate("unknown", p.Commands.Unknown); err != nil {
		return err
	}
	return nil
}

func (p *Persona) SystemPrompt(data PromptData) (string, error) {
	return render(p.systemTmpl, data)
}

func (p *Persona) RoastContext(target string) (string, error) {
	return render(p.roastTmpl, struct{ Target string }{Target: target})
}

func (p *Persona) ComplimentContext(target string) (string, error) {
	return render(p.complimentTmpl, struct{ Target string }{Target: target})
}

func (p *Persona) WordChainText(data WordChainData) (string, error) {
	return render(p.wordChainTmpl, data)
}

// HelpText renders the command menu for the configured command prefix.
func (p *Persona) HelpText(prefix string) (string, error) {
	return render(p.helpTmpl, struct{ Prefix string }{Prefix: prefix})
}

func (p *Persona) UnknownText(prefix string) (string, error) {
	return render(p.unknownTmpl, struct{ Prefix string }{Prefix: prefix})
}

func parseTemplate(name, source string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return t, nil
}

func render(t *template.Template, data any) (string, error) {
	if t == nil {
		return "", fmt.Errorf("persona template is not compiled")
	}
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
