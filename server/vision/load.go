package vision

import (
	"fmt"
	"plugin"
	"strings"

	"github.com/cyclopcam/logs"
)

// LoadModel resolves a model reference onto an Inferencer.
//
// An http(s) URL connects to a remote inference service. A .so path loads a
// Go plugin that exports
//
//	func NewInferencer() (vision.Inferencer, error)
//
// which lets an accelerator-specific backend live outside this binary.
func LoadModel(logger logs.Log, ref string) (Inferencer, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return NewRemoteInferencer(logger, ref)
	}
	if strings.HasSuffix(ref, ".so") {
		return loadPluginModel(ref)
	}
	return nil, fmt.Errorf("Don't know how to load model '%v' (expected an inference service URL or a plugin .so)", ref)
}

func loadPluginModel(path string) (Inferencer, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to load model plugin %v: %w", path, err)
	}
	sym, err := p.Lookup("NewInferencer")
	if err != nil {
		return nil, fmt.Errorf("Model plugin %v: %w", path, err)
	}
	create, ok := sym.(func() (Inferencer, error))
	if !ok {
		return nil, fmt.Errorf("Model plugin %v: NewInferencer has the wrong signature", path)
	}
	return create()
}
