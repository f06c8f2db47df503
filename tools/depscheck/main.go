// Command depscheck enforces package layering: the transport never reaches
// past the router into persistence, and the scene model never depends on
// the transport.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePath = "scenehub/server"

type packageInfo struct {
	ImportPath string
	Imports    []string
}

type rule struct {
	from      string
	forbidden string
}

var rules = []rule{
	{from: modulePath + "/internal/net", forbidden: modulePath + "/internal/store"},
	{from: modulePath + "/internal/scene", forbidden: modulePath + "/internal/net"},
	{from: modulePath + "/internal/scene", forbidden: modulePath + "/internal/router"},
	{from: modulePath + "/internal/store", forbidden: modulePath + "/internal/scene"},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./internal/...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	violations, err := check(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func check(r io.Reader) ([]string, error) {
	decoder := json.NewDecoder(r)

	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		for _, imp := range pkg.Imports {
			for _, rule := range rules {
				if within(pkg.ImportPath, rule.from) && within(imp, rule.forbidden) {
					violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
				}
			}
		}
	}
	sort.Strings(violations)
	return violations, nil
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}
