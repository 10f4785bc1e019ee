package strategy

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"

	"github.com/harun/balatrollm/pkg/game"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed builtin
var builtinFS embed.FS

const (
	fileManifest  = "manifest.json"
	fileStrategy  = "STRATEGY.md.tmpl"
	fileGamestate = "GAMESTATE.md.tmpl"
	fileMemory    = "MEMORY.md.tmpl"
	fileTools     = "TOOLS.json"
)

var requiredFiles = []string{fileManifest, fileStrategy, fileGamestate, fileMemory, fileTools}

// Memory is the session context rendered into the memory section.
type Memory struct {
	History     []game.HistoryEntry
	LastInvalid string
	LastFailed  string
}

// Strategy is a loaded bundle. It is immutable and safe for concurrent use.
type Strategy struct {
	Manifest Manifest

	templates *template.Template
	tools     map[game.Phase][]llm.Tool
	schemas   map[game.Phase]map[string]*gojsonschema.Schema
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		return string(b), err
	},
	"upper": strings.ToUpper,
	"join":  strings.Join,
	"add":   func(a, b int) int { return a + b },
}

// Load reads the bundle in dir of fsys.
func Load(fsys fs.FS, dir string) (*Strategy, error) {
	for _, name := range requiredFiles {
		if _, err := fs.Stat(fsys, path.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("strategy %s: missing %s: %w", dir, name, err)
		}
	}

	raw, err := fs.ReadFile(fsys, path.Join(dir, fileManifest))
	if err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(manifest.Name).Funcs(funcs).ParseFS(fsys,
		path.Join(dir, fileStrategy),
		path.Join(dir, fileGamestate),
		path.Join(dir, fileMemory),
	)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", manifest.Name, err)
	}

	raw, err = fs.ReadFile(fsys, path.Join(dir, fileTools))
	if err != nil {
		return nil, err
	}
	var byPhase map[string][]wireTool
	if err := json.Unmarshal(raw, &byPhase); err != nil {
		return nil, fmt.Errorf("strategy %s: failed to parse %s: %w", manifest.Name, fileTools, err)
	}

	s := &Strategy{
		Manifest:  *manifest,
		templates: tmpl,
		tools:     make(map[game.Phase][]llm.Tool),
		schemas:   make(map[game.Phase]map[string]*gojsonschema.Schema),
	}
	for phaseName, defs := range byPhase {
		phase := game.ParsePhase(phaseName)
		if phase == game.PhaseUnknown {
			return nil, fmt.Errorf("strategy %s: unknown phase %q in %s", manifest.Name, phaseName, fileTools)
		}
		s.schemas[phase] = make(map[string]*gojsonschema.Schema)
		for _, def := range defs {
			tool := llm.Tool{
				Name:        def.Function.Name,
				Description: def.Function.Description,
				Parameters:  def.Function.Parameters,
			}
			if tool.Name == "" {
				return nil, fmt.Errorf("strategy %s: unnamed tool in phase %s", manifest.Name, phaseName)
			}
			if tool.Parameters == nil {
				tool.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Parameters))
			if err != nil {
				return nil, fmt.Errorf("strategy %s: tool %s schema: %w", manifest.Name, tool.Name, err)
			}
			s.tools[phase] = append(s.tools[phase], tool)
			s.schemas[phase][tool.Name] = schema
		}
	}

	return s, nil
}

// Builtin loads a strategy shipped with the binary.
func Builtin(name string) (*Strategy, error) {
	dir := path.Join("builtin", name)
	if _, err := fs.Stat(builtinFS, dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return Load(builtinFS, dir)
}

// BuiltinNames lists the strategies shipped with the binary.
func BuiltinNames() []string {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// Name returns the manifest name.
func (s *Strategy) Name() string {
	return s.Manifest.Name
}

// Tools returns the tools offered in phase.
func (s *Strategy) Tools(phase game.Phase) []llm.Tool {
	return s.tools[phase]
}

// Render builds the prompt for one decision. It has no side effects.
func (s *Strategy) Render(phase game.Phase, gs *game.Gamestate, mem Memory) (string, error) {
	data := map[string]any{
		"Phase":       phase.String(),
		"G":           gs.Fields(),
		"History":     mem.History,
		"LastInvalid": mem.LastInvalid,
		"LastFailed":  mem.LastFailed,
	}

	sections := make([]string, 0, 3)
	for _, name := range []string{fileStrategy, fileGamestate, fileMemory} {
		var buf bytes.Buffer
		if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
			return "", fmt.Errorf("render %s: %w", name, err)
		}
		sections = append(sections, strings.TrimSpace(buf.String()))
	}
	return strings.Join(sections, "\n\n"), nil
}

// Validate checks action names a tool of phase and its arguments match the tool schema.
func (s *Strategy) Validate(phase game.Phase, action game.Action) error {
	schemas, ok := s.schemas[phase]
	if !ok || len(schemas) == 0 {
		return fmt.Errorf("%w: %s", ErrNoTools, phase)
	}
	schema, ok := schemas[action.Name]
	if !ok {
		return fmt.Errorf("%w: %q is not available in %s", ErrInvalidAction, action.Name, phase)
	}

	args := action.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %s arguments: %v", ErrInvalidAction, action.Name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrInvalidAction, action.Name, strings.Join(msgs, "; "))
	}
	return nil
}
