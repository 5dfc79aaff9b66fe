package app

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// LoadEnvFiles loads dotenv files of KEY=VALUE pairs into the process
// environment. Later files override earlier ones, but variables already set
// in the real environment are never replaced. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	preset := map[string]bool{}
	for _, kv := range os.Environ() {
		if eq := strings.IndexByte(kv, '='); eq > 0 {
			preset[kv[:eq]] = true
		}
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := loadEnvFile(p, preset); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func loadEnvFile(path string, preset map[string]bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if preset[key] {
			continue
		}
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}
		_ = os.Setenv(key, val)
	}
	return scanner.Err()
}
