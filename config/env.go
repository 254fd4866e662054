package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv merges a .env file (if present) into the process environment
// without overwriting variables already set, so a real deployment's
// environment always wins over a checked-in default file.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return err
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, v)
		}
	}
	return nil
}

// ExpandEnv resolves "${NAME}" and "${NAME:-default}" references in s
// against the process environment. Load applies it to the raw config file,
// which is how config-file secrets are supplied; the workflow engine
// resolves its own env references in workflowengine/expr.go and does not
// call it.
func ExpandEnv(s string) string {
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			out.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			out.WriteString(s)
			break
		}
		end += start

		out.WriteString(s[:start])
		body := s[start+2 : end]

		name, def, hasDefault := body, "", false
		if idx := strings.Index(body, ":-"); idx != -1 {
			name, def, hasDefault = body[:idx], body[idx+2:], true
		}

		if v, ok := os.LookupEnv(name); ok {
			out.WriteString(v)
		} else if hasDefault {
			out.WriteString(def)
		}
		// Unset with no default resolves to empty string, matching shell
		// parameter expansion semantics.

		s = s[end+1:]
	}
	return out.String()
}
