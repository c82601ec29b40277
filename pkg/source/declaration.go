package source

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/matzehuels/libcdn/pkg/cdn"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
)

// declarationFile mirrors the YAML layout of a resource declaration.
type declarationFile struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Docs        string             `yaml:"docs"`
	Resources   []resourceMapping  `yaml:"resources"`
	Entrypoints map[string]*string `yaml:"entrypoints"`
}

// resourceMapping accepts either a bare glob or a {src, dest} mapping.
type resourceMapping struct {
	Src  string `yaml:"src"`
	Dest string `yaml:"dest"`
}

func (m *resourceMapping) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&m.Src)
	}
	type plain resourceMapping
	return node.Decode((*plain)(m))
}

// ParseDeclaration parses and validates a resource declaration document.
// Null entry point descriptions become empty strings.
func ParseDeclaration(data []byte) (*cdn.Declaration, error) {
	var f declarationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, liberrors.Wrap(liberrors.ErrCodeInvalidDeclaration, err, "parse %s", cdn.DeclarationFile)
	}
	if len(f.Resources) == 0 {
		return nil, liberrors.New(liberrors.ErrCodeInvalidDeclaration, "%s declares no resources", cdn.DeclarationFile)
	}

	decl := &cdn.Declaration{
		Name:        f.Name,
		Description: f.Description,
		Docs:        f.Docs,
		Mappings:    make([]cdn.Mapping, 0, len(f.Resources)),
		Entrypoints: make(map[string]string, len(f.Entrypoints)),
	}

	for i, r := range f.Resources {
		if err := validateMapping(r); err != nil {
			return nil, liberrors.Wrap(liberrors.ErrCodeInvalidDeclaration, err, "resource %d", i)
		}
		decl.Mappings = append(decl.Mappings, cdn.Mapping{Src: r.Src, Dest: r.Dest})
	}
	for path, desc := range f.Entrypoints {
		if err := liberrors.ValidatePath(path); err != nil {
			return nil, liberrors.Wrap(liberrors.ErrCodeInvalidDeclaration, err, "entrypoint %q", path)
		}
		if desc != nil {
			decl.Entrypoints[path] = *desc
		} else {
			decl.Entrypoints[path] = ""
		}
	}
	return decl, nil
}

func validateMapping(r resourceMapping) error {
	if r.Src == "" {
		return fmt.Errorf("src is required")
	}
	if err := liberrors.ValidatePath(r.Src); err != nil {
		return err
	}
	if !doublestar.ValidatePattern(r.Src) {
		return fmt.Errorf("invalid glob %q", r.Src)
	}
	if r.Dest != "" {
		if err := liberrors.ValidatePath(r.Dest); err != nil {
			return err
		}
	}
	return nil
}
