package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every `${NAME}` with the value of the environment variable
// NAME. Referencing an unset variable is an error so a missing secret is never
// silently read as an empty string.
func expandEnv(contents []byte) ([]byte, error) {
	var missing []string
	expanded := envReference.ReplaceAllFunc(contents, func(match []byte) []byte {
		name := string(envReference.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unset environment variables %v", missing)
	}
	return expanded, nil
}

// readFile reads and decodes a single config file, found is false when the file
// does not exist or is empty.
func readFile[T any](path string) (out T, found bool, err error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if len(contents) == 0 {
		return out, false, nil
	}

	contents, err = expandEnv(contents)
	if err != nil {
		return out, false, fmt.Errorf("parse %s: %w", path, err)
	}
	err = json5.Unmarshal(contents, &out)
	if err != nil {
		return out, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, true, nil
}

// ReadConfig reads a configuration file, `name` should come with a file extension
// which is lopped off to find the local override. The following files are merged,
// a higher number takes priority.
//  1. <name>.<ext>
//  2. <name>.local.<ext>
//
// `${NAME}` anywhere in either file is replaced with the environment variable NAME.
func ReadConfig[T any](name string) (T, error) {
	prefixname, ext := splitExt(filepath.Base(name))
	localPath := filepath.Join(
		filepath.Dir(name),
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)

	out, foundDefault, err := readFile[T](name)
	if err != nil {
		return out, err
	}
	override, foundLocal, err := readFile[T](localPath)
	if err != nil {
		return out, err
	}
	if !foundDefault && !foundLocal {
		return out, os.ErrNotExist
	}

	if foundLocal {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
	}
	return out, nil
}

// ReadRecursively is ReadConfig but it goes up the filesystem from the working
// directory until the root to find a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return defaultOut, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return defaultOut, os.ErrNotExist
		}
		current = parent
	}
}
