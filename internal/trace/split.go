package trace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// SplitTraces walks every file matching glob and splits it into individual
// trace blocks, each beginning with a "# traceroute from" header line.
// This is the preprocess_traces step: raw warts/trace dumps typically
// concatenate many traces into one file, and downstream parsing (Parse)
// operates one trace at a time.
func SplitTraces(glob string) ([][]string, error) {
	paths, err := filepath.Glob(glob)
	if err != nil {
		return nil, err
	}

	var traces [][]string
	for _, path := range paths {
		fileTraces, err := splitFile(path)
		if err != nil {
			return nil, err
		}
		traces = append(traces, fileTraces...)
	}
	return traces, nil
}

func splitFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var traces [][]string
	var current []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		// Raw dumps comment every line with "#"; Parse expects that marker
		// already stripped, so strip it once here.
		line := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "traceroute from") {
			if len(current) > 0 {
				traces = append(traces, current)
			}
			current = []string{line}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		traces = append(traces, current)
	}
	return traces, scanner.Err()
}
