package config

// ModelType is the role a registered model plays.
type ModelType string

const (
	ModelEmbedder ModelType = "embedder"
	ModelChat     ModelType = "chat"
	ModelRerank   ModelType = "rerank"
)

// ModelConfig registers one named model. A model with an Endpoint is called remotely;
// otherwise Path (for embedders) points at a local ONNX file.
type ModelConfig struct {
	Name       string    `yaml:"name"`
	Type       ModelType `yaml:"type"`
	Endpoint   string    `yaml:"endpoint"`
	APIKey     string    `yaml:"api_key"`
	Model      string    `yaml:"model"`
	Path       string    `yaml:"path"`
	Dimensions int       `yaml:"dimensions"`
}

// Remote reports whether the model is served by an HTTP endpoint.
func (m *ModelConfig) Remote() bool {
	return m.Endpoint != ""
}

// ModelName returns the provider-side model id, defaulting to the registry name.
func (m *ModelConfig) ModelName() string {
	if m.Model != "" {
		return m.Model
	}
	return m.Name
}

// Registry looks up models by type and name.
type Registry struct {
	models []ModelConfig
}

// NewRegistry returns a registry over the given model list.
func NewRegistry(models []ModelConfig) *Registry {
	return &Registry{models: models}
}

// Lookup returns the model of type t registered under name.
func (r *Registry) Lookup(t ModelType, name string) (*ModelConfig, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	for i := range r.models {
		m := &r.models[i]
		if m.Type == t && m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Names returns the names of all models of type t.
func (r *Registry) Names(t ModelType) []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, m := range r.models {
		if m.Type == t {
			out = append(out, m.Name)
		}
	}
	return out
}
