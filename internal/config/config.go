// Package config loads node configuration into a flat key/value source.
// Files are parsed by extension (.yaml/.yml, .toml, anything else as
// "key = value" lines with optional [section] headers). Nested keys flatten
// to parent_child, and GARAGE_<KEY> environment variables override files.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: GARAGE_SERIAL_PORT sets serial_port.
const EnvPrefix = "GARAGE_"

// Values is a flat configuration source. Typed getters fall back to the
// given default when a key is missing and record a parse error otherwise;
// Err reports every bad value at once.
type Values struct {
	data map[string]string
	errs []error
}

// New wraps an existing map. Keys are normalised to lower case.
func New(kv map[string]string) *Values {
	v := &Values{data: make(map[string]string, len(kv))}
	for k, val := range kv {
		v.data[normalizeKey(k)] = val
	}
	return v
}

// Load reads path (when non-empty) and applies environment overrides.
func Load(path string) (*Values, error) {
	v := New(nil)
	if path != "" {
		var err error
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = v.loadYAML(path)
		case ".toml":
			err = v.loadTOML(path)
		default:
			err = v.loadLines(path)
		}
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	v.ApplyEnv(os.Environ())
	return v, nil
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func (v *Values) loadYAML(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	v.flatten("", doc)
	return nil
}

func (v *Values) loadTOML(path string) error {
	var doc map[string]any
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return err
	}
	v.flatten("", doc)
	return nil
}

func (v *Values) loadLines(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	section := ""
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = normalizeKey(strings.Trim(line, "[]"))
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid line %d: %s", lineNum, line)
		}
		key := normalizeKey(parts[0])
		if key == "" {
			return fmt.Errorf("empty key on line %d", lineNum)
		}
		if section != "" {
			key = section + "_" + key
		}
		v.data[key] = parseString(parts[1])
	}
	return scanner.Err()
}

func (v *Values) flatten(prefix string, node any) {
	switch n := node.(type) {
	case map[string]any:
		for k, child := range n {
			key := normalizeKey(k)
			if prefix != "" {
				key = prefix + "_" + key
			}
			v.flatten(key, child)
		}
	case []any:
		parts := make([]string, 0, len(n))
		for _, item := range n {
			parts = append(parts, fmt.Sprint(item))
		}
		v.data[prefix] = strings.Join(parts, ",")
	case nil:
	default:
		v.data[prefix] = fmt.Sprint(n)
	}
}

// ApplyEnv overrides keys from KEY=VALUE pairs carrying EnvPrefix.
func (v *Values) ApplyEnv(environ []string) {
	for _, kv := range environ {
		k, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		v.data[normalizeKey(strings.TrimPrefix(k, EnvPrefix))] = val
	}
}

// Set stores a value, e.g. from a command line flag.
func (v *Values) Set(key, value string) { v.data[normalizeKey(key)] = value }

func (v *Values) Has(key string) bool {
	_, ok := v.data[normalizeKey(key)]
	return ok
}

// Keys lists every key in sorted order.
func (v *Values) Keys() []string {
	out := make([]string, 0, len(v.data))
	for k := range v.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (v *Values) lookup(key string) (string, bool) {
	s, ok := v.data[normalizeKey(key)]
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func (v *Values) fail(key, raw string, err error) {
	v.errs = append(v.errs, fmt.Errorf("invalid %s value %q: %w", key, raw, err))
}

func (v *Values) String(key, def string) string {
	if s, ok := v.lookup(key); ok {
		return s
	}
	return def
}

// Int accepts decimal and 0x-prefixed hexadecimal values.
func (v *Values) Int(key string, def int) int {
	s, ok := v.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		v.fail(key, s, err)
		return def
	}
	return int(n)
}

func (v *Values) Float(key string, def float64) float64 {
	s, ok := v.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		v.fail(key, s, err)
		return def
	}
	return f
}

func (v *Values) Bool(key string, def bool) bool {
	s, ok := v.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		v.fail(key, s, err)
		return def
	}
	return b
}

// Duration accepts Go duration strings; a bare number is taken as seconds.
func (v *Values) Duration(key string, def time.Duration) time.Duration {
	s, ok := v.lookup(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		v.fail(key, s, err)
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// IntList parses a comma separated list.
func (v *Values) IntList(key string, def []int) []int {
	s, ok := v.lookup(key)
	if !ok {
		return def
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '[' || r == ']' })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseInt(f, 0, 64)
		if err != nil {
			v.fail(key, s, err)
			return def
		}
		out = append(out, int(n))
	}
	return out
}

// Err joins every parse failure seen by the getters so far.
func (v *Values) Err() error {
	return errors.Join(v.errs...)
}

func parseString(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 && (value[0] == '"' && value[len(value)-1] == '"' || value[0] == '\'' && value[len(value)-1] == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}
