package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// source answers lookups from its layers in order; the first non-blank value wins.
type source []func(string) (string, bool)

func newSource(explicit map[string]string, system bool, dotenv map[string]string) source {
	var s source
	if explicit != nil {
		s = append(s, lookupIn(explicit))
	}
	if system {
		s = append(s, os.LookupEnv)
	}
	if dotenv != nil {
		s = append(s, lookupIn(dotenv))
	}
	return s
}

func lookupIn(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// first returns the first non-blank value for any of keys, trying keys in order.
func (s source) first(keys ...string) (string, bool) {
	for _, key := range keys {
		for _, layer := range s {
			if v, ok := layer(key); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
	}
	return "", false
}

func (s source) str(fallback string, keys ...string) string {
	if v, ok := s.first(keys...); ok {
		return v
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if v, ok := s.first(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) integer(key string, fallback int) int {
	if v, ok := s.first(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) flag(key string, fallback bool) bool {
	v, ok := s.first(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// list splits a comma separated value, dropping blanks.
func (s source) list(key string) []string {
	v, _ := s.first(key)
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs reads name=value,name=value. Names are lower-cased.
func (s source) pairs(key string) map[string]string {
	out := map[string]string{}
	for _, entry := range s.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// endpoint reads one side's profile API credentials. API_INGEST_<SIDE>_* wins over the bare
// <SIDE>_* names older deployments use.
func (s source) endpoint(side string) ProfileEndpoint {
	read := func(suffix string) string {
		return s.str("", "API_INGEST_"+side+"_"+suffix, side+"_"+suffix)
	}
	return ProfileEndpoint{
		URL:   strings.TrimRight(read("URL"), "/"),
		Email: read("EMAIL"),
		Token: read("TOKEN"),
	}
}

// readDotEnv parses KEY=value lines. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

func systemEnv() map[string]string {
	out := map[string]string{}
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			out[key] = value
		}
	}
	return out
}
