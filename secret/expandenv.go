package secret

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

var envVarPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands ${VAR} references in s.
//
// Every referenced variable must be set, although it may be empty. A
// doubled "$$" yields a literal "$". Bare $VAR is left untouched, so
// values such as bcrypt hashes survive expansion.
func ExpandEnvStrict(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var (
		b       strings.Builder
		missing []string
	)
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "$$") {
			b.WriteByte('$')
			i += 2
			continue
		}
		if s[i] == '$' {
			if loc := envVarPattern.FindStringSubmatchIndex(s[i:]); loc != nil {
				name := s[i+loc[2] : i+loc[3]]
				if v, ok := os.LookupEnv(name); ok {
					b.WriteString(v)
				} else if !slices.Contains(missing, name) {
					missing = append(missing, name)
				}
				i += loc[1]
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return b.String(), nil
}
