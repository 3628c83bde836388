package config

import (
	"reflect"
	"sync"
)

// EnvMapping binds an environment variable to a koanf path.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// GenerateEnvMappings derives mappings from the env struct tags on Config.
func GenerateEnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		cachedMappings = extractMappings(reflect.TypeOf(Config{}), "")
	})
	return cachedMappings
}

func extractMappings(t reflect.Type, prefix string) []EnvMapping {
	var mappings []EnvMapping
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("koanf")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		if envVar := field.Tag.Get("env"); envVar != "" && envVar != "-" {
			mappings = append(mappings, EnvMapping{EnvVar: envVar, ConfigPath: path})
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			mappings = append(mappings, extractMappings(field.Type, path)...)
		}
	}
	return mappings
}

func GenerateEnvToConfigMap() map[string]string {
	mappings := GenerateEnvMappings()
	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		out[m.EnvVar] = m.ConfigPath
	}
	return out
}
