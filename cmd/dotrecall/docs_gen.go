package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"

	"github.com/dotsetgreg/dotrecall/pkg/config"
	"github.com/dotsetgreg/dotrecall/pkg/mcpserver"
	"github.com/dotsetgreg/dotrecall/pkg/providers"
	"github.com/dotsetgreg/dotrecall/pkg/server"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var (
		outputDir string
		checkOnly bool
	)

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate reference docs from command/config/provider/API source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir, checkOnly)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if generated docs are out of date")

	docsRoot.AddCommand(gen)
	return docsRoot
}

func generateDocumentation(rootFactory func() *cobra.Command, outputDir string, checkOnly bool) error {
	tmpDir, err := os.MkdirTemp("", "dotrecall-docs-gen-*")
	if err != nil {
		return fmt.Errorf("create temp docs dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	generatedRoots, err := writeGeneratedReferences(rootFactory, tmpDir)
	if err != nil {
		return err
	}

	if checkOnly {
		for _, rel := range generatedRoots {
			if err := comparePath(filepath.Join(tmpDir, rel), filepath.Join(outputDir, rel), rel); err != nil {
				return err
			}
		}
		return nil
	}

	for _, rel := range generatedRoots {
		if err := copyPath(filepath.Join(tmpDir, rel), filepath.Join(outputDir, rel)); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

func writeGeneratedReferences(rootFactory func() *cobra.Command, outDir string) ([]string, error) {
	cliRoot := rootFactory()
	markCommandsForDocgen(cliRoot)

	cliDir := filepath.Join(outDir, "reference", "cli")
	if err := os.MkdirAll(cliDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cli docs dir: %w", err)
	}
	prepender := func(filename string) string {
		title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		title = strings.ReplaceAll(title, "_", " ")
		return fmt.Sprintf("# %s\n\n", strings.TrimSpace(title))
	}
	linkHandler := func(name string) string {
		return name
	}
	if err := cobraDoc.GenMarkdownTreeCustom(cliRoot, cliDir, prepender, linkHandler); err != nil {
		return nil, fmt.Errorf("generate cli markdown docs: %w", err)
	}

	manDir := filepath.Join(outDir, "reference", "man")
	if err := os.MkdirAll(manDir, 0o755); err != nil {
		return nil, fmt.Errorf("create man docs dir: %w", err)
	}
	header := &cobraDoc.GenManHeader{
		Title:   "DOTRECALL",
		Section: "1",
		Source:  "dotrecall",
	}
	if err := cobraDoc.GenManTree(cliRoot, header, manDir); err != nil {
		return nil, fmt.Errorf("generate man pages: %w", err)
	}

	builders := []struct {
		name  string
		build func() (string, error)
	}{
		{"config.md", buildConfigReferenceMarkdown},
		{"providers.md", buildProvidersReferenceMarkdown},
		{"http.md", buildHTTPReferenceMarkdown},
		{"mcp.md", buildMCPReferenceMarkdown},
	}
	roots := []string{
		filepath.Join("reference", "cli"),
		filepath.Join("reference", "man"),
	}
	for _, b := range builders {
		content, err := b.build()
		if err != nil {
			return nil, err
		}
		rel := filepath.Join("reference", b.name)
		if err := writeTextFile(filepath.Join(outDir, rel), content); err != nil {
			return nil, err
		}
		roots = append(roots, rel)
	}
	return roots, nil
}

func markCommandsForDocgen(cmd *cobra.Command) {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		if child.Name() == "docs" {
			continue
		}
		markCommandsForDocgen(child)
	}
}

func writeTextFile(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	_ = os.RemoveAll(dst)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func comparePath(src, dst, rel string) error {
	srcFiles, err := listFiles(src)
	if err != nil {
		return fmt.Errorf("generated path missing: %s (%w)", rel, err)
	}
	dstFiles, err := listFiles(dst)
	if err != nil {
		return fmt.Errorf("docs out of date: missing %s", rel)
	}
	if strings.Join(srcFiles, "\n") != strings.Join(dstFiles, "\n") {
		return fmt.Errorf("docs out of date: file set mismatch under %s", rel)
	}
	for _, f := range srcFiles {
		srcBytes, err := os.ReadFile(filepath.Join(src, f))
		if err != nil {
			return err
		}
		dstBytes, err := os.ReadFile(filepath.Join(dst, f))
		if err != nil {
			return err
		}
		if !bytes.Equal(srcBytes, dstBytes) {
			return fmt.Errorf("docs out of date: %s changed; run `dotrecall docs generate`", filepath.Join(rel, f))
		}
	}
	return nil
}

// listFiles returns the files under root relative to it. A plain file lists
// as ".".
func listFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{"."}, nil
	}
	files := []string{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

func writeFieldTable(b *strings.Builder, rows []configFieldRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		b.WriteString("| `" + escapePipes(row.Path) + "` | `" + escapePipes(row.Type) + "` | `" + escapePipes(valueOr(row.Env, "-")) + "` | `" + escapePipes(valueOr(row.Default, "-")) + "` |\n")
	}
}

func buildConfigReferenceMarkdown() (string, error) {
	defaults, err := flattenConfigDefaults()
	if err != nil {
		return "", err
	}

	rows := []configFieldRow{}
	collectConfigRows(reflect.TypeOf(config.Config{}), "", defaults, &rows)

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n")
	b.WriteString("The file is JSON, or YAML when it ends in `.yaml`/`.yml`. Environment variables override file values.\n\n")
	writeFieldTable(&b, rows)
	return b.String(), nil
}

func collectConfigRows(t reflect.Type, prefix string, defaults map[string]string, rows *[]configFieldRow) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		jsonTag := strings.TrimSpace(strings.Split(f.Tag.Get("json"), ",")[0])
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		path := jsonTag
		if prefix != "" {
			path = prefix + "." + jsonTag
		}

		if f.Type.Kind() == reflect.Struct {
			collectConfigRows(f.Type, path, defaults, rows)
			continue
		}

		*rows = append(*rows, configFieldRow{
			Path:    path,
			Type:    friendlyType(f.Type),
			Env:     strings.TrimSpace(f.Tag.Get("env")),
			Default: defaults[path],
		})
	}
}

func flattenConfigDefaults() (map[string]string, error) {
	data, err := json.Marshal(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := map[string]string{}
	flattenMapValues("", root, out)
	return out, nil
}

func flattenMapValues(prefix string, v interface{}, out map[string]string) {
	typed, ok := v.(map[string]interface{})
	if !ok {
		encoded, _ := json.Marshal(v)
		out[prefix] = string(encoded)
		return
	}
	for k, child := range typed {
		next := k
		if prefix != "" {
			next = prefix + "." + k
		}
		flattenMapValues(next, child, out)
	}
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		return "array<" + friendlyType(t.Elem()) + ">"
	case reflect.Map:
		return "map<" + friendlyType(t.Key()) + "," + friendlyType(t.Elem()) + ">"
	case reflect.Struct:
		return "object"
	case reflect.Pointer:
		return "*" + friendlyType(t.Elem())
	default:
		return t.String()
	}
}

type providerReference struct {
	Name      string
	ConfigKey string
	Summary   string
	AuthModel string
}

func buildProvidersReferenceMarkdown() (string, error) {
	defaults, err := flattenConfigDefaults()
	if err != nil {
		return "", err
	}

	cfgType := reflect.TypeOf(config.ProvidersConfig{})
	providerStructs := map[string]reflect.Type{}
	for i := 0; i < cfgType.NumField(); i++ {
		f := cfgType.Field(i)
		key := strings.TrimSpace(strings.Split(f.Tag.Get("json"), ",")[0])
		if key == "" || key == "-" || f.Type.Kind() != reflect.Struct {
			continue
		}
		providerStructs[key] = f.Type
	}

	refs := []providerReference{
		{
			Name:      providers.ProviderOpenRouter,
			ConfigKey: "providers.openrouter",
			Summary:   "OpenRouter chat completions provider.",
			AuthModel: "Requires `api_key`.",
		},
		{
			Name:      providers.ProviderOpenAI,
			ConfigKey: "providers.openai",
			Summary:   "OpenAI chat completions provider.",
			AuthModel: "Requires exactly one credential source: `api_key` OR `oauth_token_file`.",
		},
		{
			Name:      providers.ProviderAnthropic,
			ConfigKey: "providers.anthropic",
			Summary:   "Anthropic Messages API provider.",
			AuthModel: "Requires `api_key`.",
		},
	}

	var b strings.Builder
	b.WriteString("# Provider Reference\n\n")
	b.WriteString("Generated from the provider registry and config structs.\n\n")
	b.WriteString("## Supported Providers\n\n")
	for _, name := range providers.SupportedProviders() {
		b.WriteString("- `" + name + "`\n")
	}
	b.WriteString("\nSelect one with `agents.defaults.provider`. `providers.requests_per_minute` throttles every provider client-side.\n\n")

	for _, ref := range refs {
		b.WriteString("## `" + ref.Name + "`\n\n")
		b.WriteString(ref.Summary + "\n\n")
		b.WriteString("- Config path: `" + ref.ConfigKey + "`\n")
		b.WriteString("- Auth: " + ref.AuthModel + "\n\n")

		rows := []configFieldRow{}
		if t, ok := providerStructs[strings.TrimPrefix(ref.ConfigKey, "providers.")]; ok {
			collectConfigRows(t, ref.ConfigKey, defaults, &rows)
		}
		writeFieldTable(&b, rows)
		b.WriteString("\n")
	}

	return b.String(), nil
}

func buildHTTPReferenceMarkdown() (string, error) {
	routes := server.New(nil, server.Options{}).Routes()

	type route struct{ method, path string }
	var found []route
	err := chi.Walk(routes, func(method, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		found = append(found, route{method, path})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk http routes: %w", err)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].path != found[j].path {
			return found[i].path < found[j].path
		}
		return found[i].method < found[j].method
	})

	var b strings.Builder
	b.WriteString("# HTTP API Reference\n\n")
	b.WriteString("Generated from the `pkg/server` router.\n\n")
	b.WriteString("Every route except `/health` requires the `" + server.UserHeader + "` header.\n\n")
	b.WriteString("| Method | Path |\n")
	b.WriteString("| --- | --- |\n")
	for _, r := range found {
		b.WriteString("| `" + r.method + "` | `" + escapePipes(r.path) + "` |\n")
	}
	return b.String(), nil
}

func buildMCPReferenceMarkdown() (string, error) {
	var b strings.Builder
	b.WriteString("# MCP Tool Reference\n\n")
	b.WriteString("Generated from `pkg/mcpserver` tool definitions. Served by `dotrecall mcp` over stdio.\n\n")
	for _, def := range mcpserver.Definitions() {
		b.WriteString("## `" + def.Name + "`\n\n")
		b.WriteString(def.Description + "\n\n")

		required := map[string]bool{}
		for _, name := range def.InputSchema.Required {
			required[name] = true
		}
		names := make([]string, 0, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("| Argument | Required | Description |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, name := range names {
			desc := ""
			if prop, ok := def.InputSchema.Properties[name].(map[string]any); ok {
				desc, _ = prop["description"].(string)
			}
			b.WriteString(fmt.Sprintf("| `%s` | %t | %s |\n", name, required[name], escapePipes(desc)))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func escapePipes(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}
