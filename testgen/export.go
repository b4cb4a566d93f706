package testgen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ServiceTestFile is the conventional per-service spec filename.
const ServiceTestFile = "test_shadow_captured.spec.ts"

// WriteBundle serializes all tests into one self-registering spec file at
// the given path.
func WriteBundle(path string, tests []*GeneratedTest) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create bundle directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(renderSpecFile(tests)), 0644); err != nil {
		return fmt.Errorf("failed to write test bundle: %w", err)
	}
	return nil
}

// WriteServiceDir lays tests out under the conventional
// <service>/modules/test_shadow_captured.spec.ts path below root and
// returns the written file path.
func WriteServiceDir(root, service string, tests []*GeneratedTest) (string, error) {
	dir := filepath.Join(root, service, "modules")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create service directory: %w", err)
	}
	path := filepath.Join(dir, ServiceTestFile)
	if err := os.WriteFile(path, []byte(renderSpecFile(tests)), 0644); err != nil {
		return "", fmt.Errorf("failed to write service tests: %w", err)
	}
	return path, nil
}

// renderSpecFile concatenates already-generated sources behind a shared
// header and registers each exported function as a Playwright test case.
func renderSpecFile(tests []*GeneratedTest) string {
	var b strings.Builder
	b.WriteString("// Generated from captured traffic. Do not edit by hand.\n")
	b.WriteString("import { test, expect } from '@playwright/test';\n")
	b.WriteString("import type { APIRequestContext } from '@playwright/test';\n")
	for _, gt := range tests {
		b.WriteString("\n")
		b.WriteString(gt.SourceCode)
		fmt.Fprintf(&b, "\ntest('%s', async ({ request }) => {\n  await %s(request);\n});\n",
			escapeJS(gt.Name), gt.Name)
	}
	return b.String()
}
