package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/pkg/bytesize"
	"github.com/jmylchreest/recodarr/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing recodarr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:     "dump",
	Aliases: []string{"show"},
	Short:   "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  recodarr config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./config, or /etc/recodarr)
  - Environment variables (RECODARR_SERVER_PORT, RECODARR_REMOTE_HOST, etc.)
  - Command-line flags (for some options)

Environment variables use the RECODARR_ prefix and underscores for nesting.
Example: server.port -> RECODARR_SERVER_PORT`,
	RunE: runConfigDump,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration the same way the server would and report
any validation errors without starting anything.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configValidateCmd)
}

// toMap converts a config struct to a map, formatting durations and sizes
// for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case int64:
			if strings.Contains(key, "size") || strings.Contains(key, "bytes") {
				result[key] = bytesize.Format(bytesize.Size(v))
			} else {
				result[key] = v
			}
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Defaults only, no config file.
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# recodarr Configuration File")
	fmt.Println("# ============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   RECODARR_SERVER_HOST, RECODARR_SERVER_PORT")
	fmt.Println("#   RECODARR_REMOTE_HOST, RECODARR_REMOTE_PATH")
	fmt.Println("#   RECODARR_DATABASE_DSN")
	fmt.Println("#   RECODARR_LOGGING_LEVEL, RECODARR_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	result := cfg.Validate()
	if !result.Valid {
		for _, e := range result.Errors {
			fmt.Printf("error: %s\n", e)
		}
		return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
	}

	fmt.Println("configuration is valid")
	return nil
}
