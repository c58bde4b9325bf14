// Package config loads configuration structs for the identity core from
// three layered sources, resolved lowest to highest priority:
//
//	envDefault struct tags
//	a YAML or JSON file
//	environment variables
//
// Defaults live in the code, a file carries per-environment overrides,
// and environment variables (ConfigMaps, Secrets) have the final say.
//
// # Struct tags
//
//	env:"VAR"          reads the field from the VAR environment variable
//	envDefault:"v"     seeds the field with v when it is zero-valued
//	required:"true"    rejects the config if the field is zero after loading
//
// File loading goes through the yaml/json unmarshalers, so fields also
// need the matching yaml or json tags. An env tag on a nested struct
// becomes a prefix for the variables of its fields.
//
// # Usage
//
//	type VerifierConfig struct {
//	    ProjectURL string        `env:"PROJECT_URL" yaml:"project_url" required:"true"`
//	    Audience   string        `env:"AUDIENCE" envDefault:"authenticated" yaml:"audience"`
//	    CacheTTL   time.Duration `env:"CACHE_TTL" envDefault:"10m" yaml:"cache_ttl"`
//	}
//
//	cfg := config.MustLoad[VerifierConfig](
//	    config.New().WithEnvPrefix("IDENTITY").WithFile("identity.yaml"))
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// Tag names recognized on configuration struct fields.
const (
	tagEnv      = "env"
	tagDefault  = "envDefault"
	tagRequired = "required"
)

// time.Duration needs its own parser even though its kind is int64.
var durationType = reflect.TypeOf(time.Duration(0))

// fileCodecs maps a config file extension to its unmarshal function.
var fileCodecs = map[string]func([]byte, any) error{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
}

// Loader resolves a configuration struct from the layered sources. Build
// one with [New], chain [Loader.WithEnvPrefix] and [Loader.WithFile] as
// needed, then call [Loader.Load].
//
// A Loader holds no state across calls but is not synchronized; do not
// share one between goroutines that reconfigure it.
type Loader struct {
	envPrefix string
	filePath  string
}

// New returns a Loader that reads environment variables only, with no
// prefix and no file.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends prefix (plus an underscore) to every variable
// name derived from an env tag, so `env:"HOST"` under WithEnvPrefix("APP")
// reads APP_HOST. The prefix is uppercased; empty disables prefixing.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile points the Loader at a YAML (.yaml, .yml) or JSON (.json)
// file. A path with any other extension fails [Loader.Load]; a path to a
// file that does not exist is skipped, since file configuration is
// optional. Paths containing ".." are rejected.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load fills the struct that cfg points to, one layer at a time:
// envDefault tags seed zero-valued fields, the configured file overrides
// them, and environment variables override everything. The result is
// then checked against required tags, and against the struct's own
// [Validator] implementation when it has one.
//
// Loading failures carry [iderr.CodeInternalConfiguration]; validation
// failures carry [iderr.CodeValidationRequired] or [iderr.CodeValidation].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return iderr.New(iderr.CodeInternalConfiguration,
			"config: Load needs a non-nil struct pointer")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return iderr.Newf(iderr.CodeInternalConfiguration,
			"config: Load needs a pointer to a struct, not %s", rv.Kind())
	}

	if err := seedDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.mergeFile(cfg); err != nil {
			return err
		}
	}
	if err := overlayEnv(rv, l.envPrefix); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad loads a fresh T through loader and panics when loading or
// validation fails. Meant for startup paths where a broken configuration
// must stop the process.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad: %v", err))
	}
	return cfg
}

// mergeFile unmarshals the configured file over the current struct
// contents. Missing files are fine; unreadable or unparsable ones are
// not.
func (l *Loader) mergeFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return iderr.Newf(iderr.CodeInternalConfiguration,
			"config: file path %q contains a directory traversal sequence", l.filePath)
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return iderr.Wrapf(err, iderr.CodeInternalConfiguration,
			"config: reading %q", l.filePath)
	}

	ext := strings.ToLower(filepath.Ext(l.filePath))
	unmarshal, ok := fileCodecs[ext]
	if !ok {
		return iderr.Newf(iderr.CodeInternalConfiguration,
			"config: unsupported config file extension %q (want .yaml, .yml, or .json)", ext)
	}
	if err := unmarshal(data, cfg); err != nil {
		return iderr.Wrapf(err, iderr.CodeInternalConfiguration,
			"config: parsing %q", l.filePath)
	}
	return nil
}

// fieldVisitor is called by walk for every settable leaf field. envKey is
// the fully prefixed environment variable name, or "" when the field has
// no env tag. path is the dotted field path from the root struct.
type fieldVisitor func(field reflect.Value, sf reflect.StructField, envKey, path string) error

// walk traverses a config struct depth-first, accumulating env prefixes
// from nested struct tags and dotted paths from field names. Unexported
// fields are skipped. time.Duration fields are leaves; other struct
// fields are recursed into (opaque ones like time.Time have no settable
// fields, so the recursion visits nothing there).
func walk(rv reflect.Value, envPrefix, path string, visit fieldVisitor) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct {
			nested := joinKey(envPrefix, sf.Tag.Get(tagEnv))
			if err := walk(field, nested, fieldPath, visit); err != nil {
				return err
			}
			continue
		}

		envKey := ""
		if name := sf.Tag.Get(tagEnv); name != "" {
			envKey = joinKey(envPrefix, name)
		}
		if err := visit(field, sf, envKey, fieldPath); err != nil {
			return err
		}
	}
	return nil
}

// joinKey joins an env prefix and a name with an underscore, tolerating
// either side being empty.
func joinKey(prefix, name string) string {
	switch {
	case name == "":
		return prefix
	case prefix == "":
		return name
	default:
		return prefix + "_" + name
	}
}

// seedDefaults assigns envDefault tag values to fields still holding
// their zero value. Populated fields keep what they have.
func seedDefaults(rv reflect.Value) error {
	return walk(rv, "", "", func(field reflect.Value, sf reflect.StructField, _, path string) error {
		def := sf.Tag.Get(tagDefault)
		if def == "" || !field.IsZero() {
			return nil
		}
		if err := assign(field, def); err != nil {
			return iderr.Wrapf(err, iderr.CodeInternalConfiguration,
				"config: invalid envDefault on field %q", path)
		}
		return nil
	})
}

// overlayEnv assigns values from the environment to every field with an
// env tag. Unset variables leave the field alone; set-but-empty ones
// assign the empty string.
func overlayEnv(rv reflect.Value, envPrefix string) error {
	return walk(rv, envPrefix, "", func(field reflect.Value, _ reflect.StructField, envKey, path string) error {
		if envKey == "" {
			return nil
		}
		raw, ok := os.LookupEnv(envKey)
		if !ok {
			return nil
		}
		if err := assign(field, raw); err != nil {
			return iderr.Wrapf(err, iderr.CodeInternalConfiguration,
				"config: cannot apply %s to field %q", envKey, path)
		}
		return nil
	})
}

// assign parses raw and stores it in field. Supported field types are
// string (including named string types like postgres.Secret), bool, the
// signed integer family, time.Duration, and slices of strings (comma
// separated, elements trimmed).
func assign(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q", raw)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid bool %q", raw)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		field.SetInt(n)

	case reflect.Slice:
		return assignStringSlice(field, raw)

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// assignStringSlice splits raw on commas into a slice of the field's own
// type. MakeSlice with the field type keeps named slice types
// assignable.
func assignStringSlice(field reflect.Value, raw string) error {
	if field.Type().Elem().Kind() != reflect.String {
		return fmt.Errorf("unsupported slice element kind %s", field.Type().Elem().Kind())
	}
	parts := strings.Split(raw, ",")
	slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
	for i, p := range parts {
		slice.Index(i).SetString(strings.TrimSpace(p))
	}
	field.Set(slice)
	return nil
}
