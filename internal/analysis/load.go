package analysis

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv builds the analyzer chain from ANALYZERS (comma-separated,
// e.g. "quantification"), mirroring the teacher's engines.LoadFromEnv.
func LoadFromEnv() *Manager {
	names := parseCSV(os.Getenv("ANALYZERS"))
	timeout := envDurationSeconds("ANALYZER_TIMEOUT_SECONDS", defaultPerAnalyzerTimeout)

	var list []Analyzer
	for _, n := range names {
		switch strings.ToLower(n) {
		case "quantification":
			list = append(list, NewStubQuantificationAnalyzer())
		default:
			log.Printf("[analysis] unknown analyzer %q (ignoring)", n)
		}
	}

	m := NewManager(list, timeout)
	if m.Enabled() {
		log.Printf("[analysis] enabled: %s", strings.Join(m.Names(), ","))
	} else {
		log.Printf("[analysis] no analyzers enabled")
	}
	return m
}

func parseCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func envDurationSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}
