// Package runconfig materializes per-run training configuration files from a
// shared base YAML configuration.
//
// The base file is opaque apart from the keys a run overrides:
//
//	train_args.server_lr          learning rate
//	train_args.server_optim       server-side optimization flag
//	train_args.server_optimizer   optimizer name
//	data_args.dataset             dataset name
//	common_args.alpha_dirichlet   Dirichlet concentration (beta)
//	device_args.gpu_id            device index
//	tracking_args.run_name        run identifier
package runconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/logging"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/space"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

var logger = logging.Get("runconfig")

// Materializer writes one configuration file per run.
type Materializer struct {
	basePath string
	outDir   string
}

// New returns a Materializer reading basePath and writing into outDir.
func New(basePath, outDir string) *Materializer {
	return &Materializer{basePath: basePath, outDir: outDir}
}

// BasePath returns the path of the shared base configuration.
func (m *Materializer) BasePath() string {
	return m.basePath
}

// PathFor returns the file a descriptor's configuration is written to.
func (m *Materializer) PathFor(d space.Descriptor) string {
	return filepath.Join(m.outDir, d.RunID()+".yaml")
}

// Materialize loads the base configuration, overrides the run's fields and
// writes the result to PathFor(d). The caller owns the file and must Remove it.
// All failures are *types.ConfigIOError.
func (m *Materializer) Materialize(d space.Descriptor) (string, error) {
	doc, err := m.loadBase()
	if err != nil {
		return "", err
	}

	for _, o := range overrides(d) {
		if err := set(doc, o.section, o.key, o.value); err != nil {
			return "", &types.ConfigIOError{Path: m.basePath, Op: "mutate", Err: err}
		}
	}

	path := m.PathFor(d)
	if err := write(path, doc); err != nil {
		return "", &types.ConfigIOError{Path: path, Op: "write", Err: err}
	}

	logger.Debug("materialized run config", "run", d.RunID(), "path", path)
	return path, nil
}

// Remove deletes a materialized file. A missing file is not an error.
func (m *Materializer) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing run config: %w", err)
	}
	return nil
}

// loadBase decodes the base file into a fresh node tree; every run gets its
// own copy. Key order, comments and non-string keys pass through unchanged.
func (m *Materializer) loadBase() (*yaml.Node, error) {
	data, err := os.ReadFile(m.basePath)
	if err != nil {
		return nil, &types.ConfigIOError{Path: m.basePath, Op: "read", Err: err}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &types.ConfigIOError{Path: m.basePath, Op: "decode", Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &types.ConfigIOError{Path: m.basePath, Op: "decode", Err: errors.New("empty document")}
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, &types.ConfigIOError{Path: m.basePath, Op: "decode", Err: errors.New("top level is not a mapping")}
	}
	return &doc, nil
}

type override struct {
	section string
	key     string
	value   *yaml.Node
}

func overrides(d space.Descriptor) []override {
	return []override{
		{"train_args", "server_lr", floatNode(d.LearningRate)},
		{"train_args", "server_optim", scalar("!!bool", strconv.FormatBool(d.ServerOptim))},
		{"train_args", "server_optimizer", scalar("!!str", d.Optimizer)},
		{"data_args", "dataset", scalar("!!str", d.Dataset)},
		{"common_args", "alpha_dirichlet", floatNode(d.Beta)},
		{"device_args", "gpu_id", scalar("!!int", strconv.Itoa(d.DeviceID))},
		{"tracking_args", "run_name", scalar("!!str", d.RunID())},
	}
}

// set overrides section.key in the document. The section must already exist
// as a mapping; the key is appended when absent.
func set(doc *yaml.Node, section, key string, value *yaml.Node) error {
	root := doc.Content[0]
	i := lookup(root, section)
	if i < 0 {
		return fmt.Errorf("missing section %q", section)
	}

	sec := root.Content[i+1]
	if sec.Kind == yaml.AliasNode && sec.Alias != nil {
		// Edit a private copy so the anchored original is left alone.
		cp := *sec.Alias
		cp.Anchor = ""
		cp.Content = slices.Clone(sec.Alias.Content)
		sec = &cp
		root.Content[i+1] = sec
	}
	if sec.Kind != yaml.MappingNode {
		return fmt.Errorf("section %q is %s, not a mapping", section, sec.Tag)
	}

	if j := lookup(sec, key); j >= 0 {
		sec.Content[j+1] = value
		return nil
	}
	sec.Content = append(sec.Content, scalar("!!str", key), value)
	return nil
}

// lookup returns the index of key's key node in mapping, or -1.
func lookup(mapping *yaml.Node, key string) int {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		k := mapping.Content[i]
		if k.Kind == yaml.ScalarNode && k.Value == key {
			return i
		}
	}
	return -1
}

func scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

// floatNode keeps integral floats such as beta=1.0 typed as floats in the output.
func floatNode(f float64) *yaml.Node {
	return scalar("!!float", types.FormatFloat(f))
}

func write(path string, doc *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
