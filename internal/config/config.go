package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/svbcapture/internal/logging"
)

// EnvPrefix is prepended to every `env` tag.
const EnvPrefix = "SVBCAPTURE_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig fills opts with precedence CLI flags > env vars > config file.
// opts must be a pointer to a flat struct; a string field named Config holds
// the TOML path. Fields carry `toml:"section.key"` and `env:"KEY"` tags.
// Flags explicitly set on cmd are never overwritten.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: want pointer to struct, got %T", opts)
	}
	v = v.Elem()
	t := v.Type()

	changed := changedFlags(cmd)
	skip := func(f reflect.StructField) bool {
		return changed[fieldNameToFlag(f.Name)]
	}

	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String && f.String() != "" {
		data, err := os.ReadFile(f.String())
		switch {
		case err == nil:
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse %s: %w", f.String(), err)
			}
			for i := 0; i < v.NumField(); i++ {
				sf := t.Field(i)
				path := sf.Tag.Get("toml")
				if path == "" || skip(sf) {
					continue
				}
				if value := getNestedValue(doc, path); value != nil {
					if err := setFieldValue(v.Field(i), value); err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
				}
			}
		case !os.IsNotExist(err):
			return fmt.Errorf("read %s: %w", f.String(), err)
		}
	}

	for i := 0; i < v.NumField(); i++ {
		sf := t.Field(i)
		key := sf.Tag.Get("env")
		if key == "" || skip(sf) {
			continue
		}
		raw, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || raw == "" {
			continue
		}
		if err := setFieldValueFromString(v.Field(i), raw); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
	}
	return nil
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// Acronyms stay together: LoggingAPI is logging-api, MQTTBroker is mqtt-broker.
			if !unicode.IsUpper(prev) || nextLower {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current[parts[len(parts)-1]]
}

// setFieldValue assigns a decoded TOML value to field.
func setFieldValue(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		switch x := value.(type) {
		case string:
			d, err := time.ParseDuration(x)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		case int64:
			field.SetInt(x * int64(time.Second))
		default:
			return fmt.Errorf("want duration, got %T", value)
		}
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		if i, ok := value.(int64); ok {
			field.SetInt(i)
		}
	case reflect.Float64:
		switch x := value.(type) {
		case float64:
			field.SetFloat(x)
		case int64:
			field.SetFloat(float64(x))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("want array, got %T", value)
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		field.Set(reflect.ValueOf(out))
	}
	return nil
}

// setFieldValueFromString parses an env var into field.
func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// LoadLoggingConfig reads the [logging] table of a TOML file. `level` and
// `format` are global; any other key sets a module level. Missing or broken
// files yield the defaults.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}
	var raw struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg
	}

	for key, value := range raw.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg
}
