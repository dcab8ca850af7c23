package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"
)

const modulePrefix = "ex-fronter/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	result := make([]listedPackage, 0, 64)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})

	for _, pkg := range packages {
		imports := append([]string{}, pkg.Imports...)
		imports = append(imports, pkg.TestImports...)
		imports = append(imports, pkg.XTestImports...)

		for _, imported := range imports {
			reason := violationReason(pkg.ImportPath, imported)
			if reason == "" {
				continue
			}
			entry := fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason)
			found[entry] = struct{}{}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

// importRule forbids packages under importer from importing packages under
// any of forbidden, unless the import path is exactly one listed in allowed.
type importRule struct {
	importer  string
	forbidden []string
	allowed   []string
	reason    string
}

var importRules = []importRule{
	{
		importer:  "pkg/fronter",
		forbidden: []string{"internal/", "modules/", "cmd/"},
		reason:    "pkg/fronter must not import internal/*, modules/* or cmd/*",
	},
	{
		importer:  "internal/kernel",
		forbidden: []string{"internal/driver", "internal/roster", "modules/"},
		reason:    "internal/kernel must stay platform and domain neutral",
	},
	{
		importer:  "internal/roster",
		forbidden: []string{"internal/kernel", "internal/driver", "modules/"},
		reason:    "internal/roster must not depend on runtime wiring",
	},
	{
		importer:  "internal/driver",
		forbidden: []string{"internal/kernel", "internal/roster", "modules/"},
		reason:    "internal/driver must only speak pkg/fronter",
	},
	{
		importer:  "modules/",
		forbidden: []string{"internal/", "modules/"},
		allowed:   []string{"internal/roster"},
		reason:    "modules/* may only reach internal/roster and must not import each other",
	},
}

func violationReason(importer, imported string) string {
	if !strings.HasPrefix(importer, modulePrefix) || !strings.HasPrefix(imported, modulePrefix) {
		return ""
	}
	importer = strings.TrimPrefix(importer, modulePrefix)
	imported = strings.TrimPrefix(imported, modulePrefix)

	for _, rule := range importRules {
		if !strings.HasPrefix(importer, rule.importer) {
			continue
		}
		if rule.importer == "modules/" && sameModule(importer, imported) {
			continue
		}
		if slices.Contains(rule.allowed, imported) {
			continue
		}
		if hasAnyPrefix(imported, rule.forbidden) {
			return rule.reason
		}
	}

	return ""
}

// sameModule reports whether both paths live under the same modules/<name>.
func sameModule(importer, imported string) bool {
	parts := strings.SplitN(importer, "/", 3)
	if len(parts) < 2 {
		return false
	}
	root := parts[0] + "/" + parts[1]

	return imported == root || strings.HasPrefix(imported, root+"/")
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}

	return false
}
