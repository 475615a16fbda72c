package services

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

// ProjectFormat is a serialization of a project document.
type ProjectFormat string

const (
	FormatJSON ProjectFormat = "json"
	FormatYAML ProjectFormat = "yaml"
	FormatTOML ProjectFormat = "toml"
)

// FormatFromPath picks the project format from a file extension. The
// native ".cutroom" extension is JSON.
func FormatFromPath(path string) (ProjectFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".cutroom":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", apperr.Validationf("unsupported project file %q (want .json, .yaml or .toml)", path)
	}
}

// EncodeProject serializes a project.
func EncodeProject(project *models.Project, format ProjectFormat) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(project, "", "  ")
	case FormatYAML:
		data, err = yaml.Marshal(project)
	case FormatTOML:
		data, err = toml.Marshal(project)
	default:
		return nil, apperr.Validationf("unknown project format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project: %w", err)
	}
	return data, nil
}

// DecodeProject parses a project document.
func DecodeProject(data []byte, format ProjectFormat) (*models.Project, error) {
	var (
		project models.Project
		err     error
	)
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &project)
	case FormatYAML:
		err = yaml.Unmarshal(data, &project)
	case FormatTOML:
		err = toml.Unmarshal(data, &project)
	default:
		return nil, apperr.Validationf("unknown project format %q", format)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "failed to parse %s project", format)
	}
	return &project, nil
}
