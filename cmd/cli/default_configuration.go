package cli

import (
	"embed"
	"path"
)

const embeddedConfigurationFileNameConstant = "default_config.yaml"

//go:embed default_config.yaml
var embeddedConfigurationFiles embed.FS

// EmbeddedDefaultConfiguration returns a copy of the built-in defaults and their
// configuration type. The defaults sit beneath any user file and the environment.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	content, readError := embeddedConfigurationFiles.ReadFile(embeddedConfigurationFileNameConstant)
	if readError != nil {
		return nil, configurationTypeConstant
	}
	return content, path.Ext(embeddedConfigurationFileNameConstant)[1:]
}
