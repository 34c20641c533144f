package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// ImageToolName is the single tool name declared to the completion service.
const ImageToolName = "generate_image"

var imageSizes = []string{"256x256", "512x512", "1024x1024"}

const defaultImageSize = "1024x1024"

// Registry is the fixed allowlist of tools the orchestrator may execute.
type Registry struct {
	order []string
	tools map[string]tool.InvokableTool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

func (r *Registry) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}
	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool %s already registered", info.Name)
	}
	r.order = append(r.order, info.Name)
	r.tools[info.Name] = t
	return nil
}

// Lookup returns the allowlisted tool for the name, if any.
func (r *Registry) Lookup(name string) (tool.InvokableTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Len() int { return len(r.order) }

// Infos returns the declared tool schemas in registration order.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		info, err := r.tools[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info for %s: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ExpandFunc turns a raw image request into a grounded visual description.
// It returns an error when the request is out of scope for the knowledge base.
type ExpandFunc func(ctx context.Context, prompt string) (string, error)

// ImageToolConfig wires the image tool's collaborators.
type ImageToolConfig struct {
	Client *ImageClient
	// Expand optionally gates and enriches prompts against the knowledge
	// base before generation. Nil disables the gate.
	Expand ExpandFunc
}

type imageToolParams struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

// ImageToolResult is the structured payload returned to the model.
type ImageToolResult struct {
	Prompt              string     `json:"prompt"`
	ExpandedDescription string     `json:"expanded_description"`
	Size                string     `json:"size"`
	Images              []ImageRef `json:"images"`
}

type ImageRef struct {
	URL string `json:"url"`
}

type imageTool struct {
	cfg ImageToolConfig
}

// NewImageTool builds the generate_image tool.
func NewImageTool(cfg ImageToolConfig) (tool.InvokableTool, error) {
	if cfg.Client == nil {
		return nil, errors.New("image client is required")
	}
	t := &imageTool{cfg: cfg}
	info := &schema.ToolInfo{
		Name: ImageToolName,
		Desc: "Generate an image only if related to the knowledge base stories; returns image URLs.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"prompt": {
				Desc:     "User's image request text.",
				Type:     schema.String,
				Required: true,
			},
			"size": {
				Desc: "Image resolution, defaults to 1024x1024.",
				Type: schema.String,
				Enum: imageSizes,
			},
		}),
	}
	return utils.NewTool(info, t.run), nil
}

func (t *imageTool) run(ctx context.Context, params *imageToolParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	size := params.Size
	if !validImageSize(size) {
		size = defaultImageSize
	}

	expanded := params.Prompt
	if t.cfg.Expand != nil {
		var err error
		expanded, err = t.cfg.Expand(ctx, params.Prompt)
		if err != nil {
			return "", err
		}
	}

	url, err := t.cfg.Client.GenerateWithRetry(ctx, expanded, size)
	if err != nil {
		log.Printf("image generation failed: %v", err)
		return "", err
	}

	result := ImageToolResult{
		Prompt:              params.Prompt,
		ExpandedDescription: expanded,
		Size:                size,
		Images:              []ImageRef{{URL: url}},
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal image result: %w", err)
	}
	return string(out), nil
}

func validImageSize(size string) bool {
	for _, s := range imageSizes {
		if s == size {
			return true
		}
	}
	return false
}
