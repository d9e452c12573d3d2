package types

// Tool is one concrete backend tool as declared by a plugin manifest.
type Tool struct {
	ID           string   `json:"id"`
	InputTypes   []string `json:"input_types"`
	OutputTypes  []string `json:"output_types"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Manifest is the plugin manifest returned by the backend.
type Manifest struct {
	PluginID string `json:"plugin_id"`
	Tools    []Tool `json:"tools"`
}
