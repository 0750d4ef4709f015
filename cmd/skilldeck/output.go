package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skilldeck/pkg/presenter"
	"github.com/jingkaihe/skilldeck/pkg/skills"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return errors.Errorf("invalid output format %q, must be one of: table, json, yaml", format)
	}
}

// printStructured writes v as JSON or YAML.
func printStructured(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "failed to encode json output")
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "failed to encode yaml output")
		}
		return errors.Wrap(enc.Close(), "failed to encode yaml output")
	default:
		return errors.Errorf("unsupported structured format %q", format)
	}
}

// cmdOutput is where command results are written.
var cmdOutput io.Writer = os.Stdout

func stdout() io.Writer { return cmdOutput }

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func skillKind(s skills.InstalledSkill) string {
	if s.IsCustom {
		return "custom"
	}
	return "managed"
}

func renderSkillTable(out *presenter.TerminalPresenter, list []skills.InstalledSkill) {
	if len(list) == 0 {
		out.Info("No skills installed")
		return
	}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.Name,
			s.FolderName,
			string(s.Scope),
			skillKind(s),
			s.Source,
			truncate(s.Description, 60),
		})
	}
	out.Table([]string{"Name", "Folder", "Scope", "Type", "Source", "Description"}, rows)
	out.Info(fmt.Sprintf("%d skill(s)", len(list)))
}
