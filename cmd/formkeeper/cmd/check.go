package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solatis/formkeeper/internal/core/api"
	"github.com/solatis/formkeeper/internal/expression"
	"github.com/solatis/formkeeper/internal/schema"
	"github.com/solatis/formkeeper/internal/types"
)

var checkCmd = &cobra.Command{
	Use:   "check <schema-file> <data-file>",
	Short: "Validate a data file against a schema file",
	Long: `Validate a JSON or YAML data file against a schema file and print the
result as JSON. Exits non-zero when the data is invalid.`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

var evalCmd = &cobra.Command{
	Use:   "eval <template>",
	Short: "Evaluate an expression template against form data",
	Args:  cobra.ExactArgs(1),
	RunE:  runEval,
}

var rulesCmd = &cobra.Command{
	Use:   "rules <schema-file>",
	Short: "Print the compiled rules and dependencies of a schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runRules,
}

func init() {
	rootCmd.AddCommand(checkCmd, evalCmd, rulesCmd)
	checkCmd.Flags().String("path", "", "validate a single field path")
	checkCmd.Flags().Bool("evaluate", false, "also resolve dynamic props and visibility")
	checkCmd.Flags().String("context", "", "JSON or YAML file exposed to expressions as context")
	evalCmd.Flags().String("data", "", "JSON or YAML form data file")
	evalCmd.Flags().String("context", "", "JSON or YAML file exposed as context")
}

// singleSchema serves one definition loaded from a file.
type singleSchema struct {
	def *schema.Definition
}

func (s singleSchema) Get(name string) (*schema.Definition, error) {
	if name != s.def.Name {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSchema, name)
	}
	return s.def, nil
}

func (s singleSchema) Names() []string { return []string{s.def.Name} }

// readDataFile decodes a JSON or YAML object by file extension. An empty
// name yields an empty map.
func readDataFile(name string) (map[string]any, error) {
	out := map[string]any{}
	if name == "" {
		return out, nil
	}
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &out)
	default:
		err = json.Unmarshal(raw, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return out, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	def, err := schema.LoadFile(args[0])
	if err != nil {
		return err
	}
	data, err := readDataFile(args[1])
	if err != nil {
		return err
	}
	contextFile, _ := cmd.Flags().GetString("context")
	extra, err := readDataFile(contextFile)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("path")
	evaluate, _ := cmd.Flags().GetBool("evaluate")

	svc, err := api.NewFormService(singleSchema{def: def}, cfg.Form, api.WithLogger(logger))
	if err != nil {
		return err
	}
	req := api.Request{Schema: def.Name, Data: data, Context: extra, Path: path}

	var res *api.Result
	if evaluate {
		res, err = svc.Evaluate(context.Background(), req)
	} else {
		res, err = svc.Validate(context.Background(), req)
	}
	if err != nil {
		return err
	}
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("%s: %d invalid field(s)", def.Name, len(res.Errors))
	}
	return nil
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	dataFile, _ := cmd.Flags().GetString("data")
	data, err := readDataFile(dataFile)
	if err != nil {
		return err
	}
	contextFile, _ := cmd.Flags().GetString("context")
	extra, err := readDataFile(contextFile)
	if err != nil {
		return err
	}

	ev := expression.New(expression.WithLogger(logger))
	exprCfg := expression.Config{
		Open:   cfg.Form.TemplateOpen,
		Close:  cfg.Form.TemplateClose,
		Values: cfg.Form.Values,
	}
	out := ev.EvaluateTemplateString(args[0], expression.Context{Form: data, Context: extra}, exprCfg)
	return printJSON(cmd, map[string]any{
		"result":     out,
		"references": expression.References(args[0], exprCfg),
	})
}

func runRules(cmd *cobra.Command, args []string) error {
	def, err := schema.LoadFile(args[0])
	if err != nil {
		return err
	}
	set := def.RuleSet()

	type ruleOut struct {
		Pattern  string   `json:"pattern"`
		Rules    []string `json:"rules"`
		Bail     bool     `json:"bail,omitempty"`
		Nullable bool     `json:"nullable,omitempty"`
	}
	var fields []ruleOut
	for _, f := range set.Fields() {
		names := make([]string, len(f.Rules))
		for i, r := range f.Rules {
			names[i] = r.String()
		}
		fields = append(fields, ruleOut{Pattern: f.Pattern, Rules: names, Bail: f.Bail, Nullable: f.Nullable})
	}

	deps := set.Dependencies()
	refs := make([]string, 0, len(deps))
	for k := range deps {
		refs = append(refs, k)
	}
	sort.Strings(refs)
	ordered := make([]map[string]any, 0, len(refs))
	for _, r := range refs {
		ordered = append(ordered, map[string]any{"field": r, "dependents": deps[r]})
	}

	return printJSON(cmd, map[string]any{
		"schema":       def.Name,
		"etag":         def.ETag(),
		"fields":       fields,
		"dependencies": ordered,
	})
}
