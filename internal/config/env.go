package config

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/viper"
)

const (
	envProviderPrefix  = "MCP_"
	envProviderEnabled = "_SERVER_ENABLED"
)

// applyEnvProviders overlays tool providers declared through
// MCP_<NAME>_SERVER_ENABLED, _COMMAND, _ARGS and _DESCRIPTION variables.
// Only entries with ENABLED=true are applied.
func applyEnvProviders(v *viper.Viper, environ []string) error {
	values := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		values[key] = value
	}

	for key, value := range values {
		if !strings.HasPrefix(key, envProviderPrefix) || !strings.HasSuffix(key, envProviderEnabled) {
			continue
		}
		upper := strings.TrimSuffix(strings.TrimPrefix(key, envProviderPrefix), envProviderEnabled)
		if upper == "" || !strings.EqualFold(strings.TrimSpace(value), "true") {
			continue
		}
		name := strings.ToLower(upper)
		base := "providers." + name + "."
		prefix := envProviderPrefix + upper + "_SERVER_"

		command := strings.TrimSpace(values[prefix+"COMMAND"])
		if command == "" {
			return fmt.Errorf("%sCOMMAND is required when %s=true", prefix, key)
		}
		args, err := shlex.Split(values[prefix+"ARGS"])
		if err != nil {
			return fmt.Errorf("parse %sARGS: %w", prefix, err)
		}

		v.Set(base+"enabled", true)
		v.Set(base+"transport", TransportStdio)
		v.Set(base+"command", command)
		v.Set(base+"args", args)
		if desc := strings.TrimSpace(values[prefix+"DESCRIPTION"]); desc != "" {
			v.Set(base+"description", desc)
		}
	}
	return nil
}
