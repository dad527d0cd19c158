// Package agents loads the personas a call can be answered by.
package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"yuzu/callagent/internal/tools"
)

const DefaultID = "default"

const defaultPrompt = "You are a friendly phone assistant. Answer in one to three short spoken sentences. " +
	"Never use lists, markdown or emoji. If you need information you do not have, use a tool or say you will check."

type Agent struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	SystemPrompt    string   `yaml:"system_prompt"`
	Greeting        string   `yaml:"greeting"`
	KnowledgeBaseID string   `yaml:"knowledge_base_id"`
	VoiceID         string   `yaml:"voice_id"`
	Tools           []string `yaml:"tools"`
}

// ToolDef declares a webhook-backed tool.
type ToolDef struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	Parameters     map[string]any `yaml:"parameters"`
	Webhook        string         `yaml:"webhook"`
	TimeoutSeconds int            `yaml:"timeout_seconds"`
	PerMinute      int            `yaml:"per_minute"`
}

type catalogFile struct {
	Default string    `yaml:"default"`
	Agents  []Agent   `yaml:"agents"`
	Tools   []ToolDef `yaml:"tools"`
}

type Catalog struct {
	defaultID string
	agents    map[string]Agent
	tools     []ToolDef
}

// Builtin is the catalog used when no file is configured.
func Builtin() *Catalog {
	return &Catalog{
		defaultID: DefaultID,
		agents: map[string]Agent{
			DefaultID: {ID: DefaultID, Name: "Assistant", SystemPrompt: defaultPrompt, Greeting: "Hi, thanks for calling. How can I help?", Tools: []string{tools.CurrentTime}},
		},
	}
}

// Load reads a YAML catalog. An empty path or a missing file yields Builtin.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Builtin(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	c := &Catalog{agents: make(map[string]Agent), tools: f.Tools}
	for _, a := range f.Agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent without id")
		}
		if a.SystemPrompt == "" {
			a.SystemPrompt = defaultPrompt
		}
		c.agents[a.ID] = a
	}
	c.defaultID = f.Default
	if c.defaultID == "" {
		c.defaultID = DefaultID
	}
	if _, ok := c.agents[c.defaultID]; !ok {
		a := Builtin().agents[DefaultID]
		a.ID = c.defaultID
		c.agents[c.defaultID] = a
	}
	for _, t := range f.Tools {
		if t.Name == "" || t.Webhook == "" {
			return nil, fmt.Errorf("tool %q needs a name and a webhook", t.Name)
		}
	}
	return c, nil
}

// Get returns the agent, falling back to the default for unknown ids.
func (c *Catalog) Get(id string) Agent {
	if a, ok := c.agents[id]; ok {
		return a
	}
	return c.agents[c.defaultID]
}

func (c *Catalog) Len() int { return len(c.agents) }

// RegisterTools adds the catalog's webhook tools to reg.
func (c *Catalog) RegisterTools(reg *tools.Registry, httpc *http.Client) error {
	for _, t := range c.tools {
		var params json.RawMessage
		if len(t.Parameters) > 0 {
			b, err := json.Marshal(t.Parameters)
			if err != nil {
				return fmt.Errorf("tool %s parameters: %w", t.Name, err)
			}
			params = b
		}
		spec := tools.Spec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			Timeout:     time.Duration(t.TimeoutSeconds) * time.Second,
			PerMinute:   t.PerMinute,
		}
		if err := reg.RegisterWebhook(spec, t.Webhook, httpc); err != nil {
			return err
		}
	}
	return nil
}
