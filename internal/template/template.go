// Package template turns reusable workflow definitions into runnable
// workflows by substituting {param} placeholders.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/aristath/taskflow/internal/scheduler"
)

var (
	ErrMissingParams          = errors.New("missing required parameters")
	ErrUnresolvedPlaceholder  = errors.New("unresolved placeholder")
	ErrMalformedPlaceholder   = errors.New("malformed placeholder")
	ErrInvalidTemplate        = errors.New("invalid template")
	ErrTemplateNotFound       = errors.New("template not found")
	ErrTemplateAlreadyDefined = errors.New("template already registered")
)

// Category groups templates for discovery.
type Category string

const (
	CategoryDevelopment   Category = "development"
	CategoryReview        Category = "review"
	CategoryTesting       Category = "testing"
	CategoryDocumentation Category = "documentation"
	CategorySecurity      Category = "security"
	CategoryCustom        Category = "custom"
)

// TaskTemplate describes one task. Key identifies it within the template
// and is what DependsOn refers to.
type TaskTemplate struct {
	Key            string            `yaml:"key" json:"key"`
	Name           string            `yaml:"name" json:"name"`
	Description    string            `yaml:"description" json:"description"`
	ExpectedOutput string            `yaml:"expected_output,omitempty" json:"expected_output,omitempty"`
	Role           scheduler.Role    `yaml:"role" json:"role"`
	Priority       string            `yaml:"priority,omitempty" json:"priority,omitempty"` // low, medium, high, critical or a number
	DependsOn      []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Resources      []string          `yaml:"resources,omitempty" json:"resources,omitempty"`
	Metadata       map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Template is a reusable workflow definition.
type Template struct {
	Name        string            `yaml:"name" json:"name"`   // Registry key, e.g. "quick-implementation"
	Title       string            `yaml:"title" json:"title"` // Workflow name; may contain placeholders
	Description string            `yaml:"description" json:"description"`
	Category    Category          `yaml:"category" json:"category"`
	Config      scheduler.Config  `yaml:"config" json:"config"`
	Required    []string          `yaml:"required_params,omitempty" json:"required_params,omitempty"`
	Optional    map[string]string `yaml:"optional_params,omitempty" json:"optional_params,omitempty"`
	Tags        []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Version     string            `yaml:"version" json:"version"`
	Tasks       []TaskTemplate    `yaml:"tasks" json:"tasks"`
}

// Validate checks the template's structure. Placeholders are checked at
// instantiation, when the parameters are known.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if err := t.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidTemplate, t.Name, err)
	}

	keys := make(map[string]bool, len(t.Tasks))
	for i, task := range t.Tasks {
		if task.Key == "" {
			return fmt.Errorf("%w: %s: task %d has no key", ErrInvalidTemplate, t.Name, i)
		}
		if keys[task.Key] {
			return fmt.Errorf("%w: %s: duplicate task key %q", ErrInvalidTemplate, t.Name, task.Key)
		}
		keys[task.Key] = true
		if task.Role == "" {
			return fmt.Errorf("%w: %s: task %q has no role", ErrInvalidTemplate, t.Name, task.Key)
		}
		if _, err := scheduler.ParsePriority(task.Priority); err != nil {
			return fmt.Errorf("%w: %s: task %q: %w", ErrInvalidTemplate, t.Name, task.Key, err)
		}
	}
	for _, task := range t.Tasks {
		for _, dep := range task.DependsOn {
			if !keys[dep] {
				return fmt.Errorf("%w: %s: task %q depends on unknown key %q", ErrInvalidTemplate, t.Name, task.Key, dep)
			}
		}
	}
	return nil
}

// MissingParams returns the required parameters absent from params and the
// optional defaults, sorted.
func (t *Template) MissingParams(params map[string]string) []string {
	var missing []string
	for _, name := range t.Required {
		if _, ok := params[name]; ok {
			continue
		}
		if _, ok := t.Optional[name]; ok {
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}

// Instantiate builds a workflow from the template. Optional defaults are
// overridden by params. Every placeholder must resolve.
func (t *Template) Instantiate(params map[string]string) (*scheduler.Workflow, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if missing := t.MissingParams(params); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingParams, strings.Join(missing, ", "))
	}

	all := make(map[string]string, len(t.Optional)+len(params))
	for k, v := range t.Optional {
		all[k] = v
	}
	for k, v := range params {
		all[k] = v
	}

	title := t.Title
	if title == "" {
		title = t.Name
	}
	name, err := Substitute(title, all)
	if err != nil {
		return nil, fmt.Errorf("template %s title: %w", t.Name, err)
	}
	description, err := Substitute(t.Description, all)
	if err != nil {
		return nil, fmt.Errorf("template %s description: %w", t.Name, err)
	}

	wf, err := scheduler.NewWorkflow(name, description, t.Config)
	if err != nil {
		return nil, err
	}
	wf.SetMetadata("template_name", t.Name)
	if t.Version != "" {
		wf.SetMetadata("template_version", t.Version)
	}

	// IDs are assigned up front so dependencies may point at later tasks.
	ids := make(map[string]string, len(t.Tasks))
	for _, tt := range t.Tasks {
		ids[tt.Key] = uuid.NewString()
	}

	for _, tt := range t.Tasks {
		task, err := tt.instantiate(all)
		if err != nil {
			return nil, fmt.Errorf("template %s task %s: %w", t.Name, tt.Key, err)
		}
		task.ID = ids[tt.Key]
		for _, dep := range tt.DependsOn {
			task.ContextTaskIDs = append(task.ContextTaskIDs, ids[dep])
		}
		if err := wf.AddTask(task); err != nil {
			return nil, fmt.Errorf("template %s task %s: %w", t.Name, tt.Key, err)
		}
	}
	return wf, nil
}

func (tt TaskTemplate) instantiate(params map[string]string) (*scheduler.Task, error) {
	name, err := Substitute(tt.Name, params)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	description, err := Substitute(tt.Description, params)
	if err != nil {
		return nil, fmt.Errorf("description: %w", err)
	}
	expected, err := Substitute(tt.ExpectedOutput, params)
	if err != nil {
		return nil, fmt.Errorf("expected output: %w", err)
	}
	priority, err := scheduler.ParsePriority(tt.Priority)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{"template_key": tt.Key}
	for k, v := range tt.Metadata {
		metadata[k] = v
	}
	return &scheduler.Task{
		Name:           name,
		Description:    description,
		ExpectedOutput: expected,
		Role:           tt.Role,
		Priority:       priority,
		Resources:      append([]string(nil), tt.Resources...),
		Metadata:       metadata,
	}, nil
}

// Substitute replaces {name} placeholders with params. "{{" and "}}" produce
// literal braces. An unknown name or an unmatched brace is an error.
func Substitute(s string, params map[string]string) (string, error) {
	if !strings.ContainsAny(s, "{}") {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", ErrMalformedPlaceholder, i)
			}
			name := s[i+1 : i+1+end]
			if !isIdent(name) {
				return "", fmt.Errorf("%w: {%s}", ErrMalformedPlaceholder, name)
			}
			value, ok := params[name]
			if !ok {
				return "", fmt.Errorf("%w: {%s}", ErrUnresolvedPlaceholder, name)
			}
			b.WriteString(value)
			i += end + 1
		case c == '}':
			return "", fmt.Errorf("%w: unmatched '}' at offset %d", ErrMalformedPlaceholder, i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
