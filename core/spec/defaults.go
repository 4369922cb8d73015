package spec

import _ "embed"

//go:embed default_pipeline.yaml
var defaultPipelineYAML []byte

// DefaultPipeline returns the built-in Android/iOS/Desktop/Web pipeline
func DefaultPipeline() (*Pipeline, error) {
	return ParsePipeline(defaultPipelineYAML)
}
