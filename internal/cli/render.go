package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

type textWriter func(output io.Writer, body []byte, palette palette) error

type palette struct {
	heading *color.Color
	item    *color.Color
	muted   *color.Color
	good    *color.Color
	bad     *color.Color
}

func newPalette(disabled bool) palette {
	p := palette{
		heading: color.New(color.Bold, color.FgCyan),
		item:    color.New(color.Bold),
		muted:   color.New(color.Faint),
		good:    color.New(color.FgGreen),
		bad:     color.New(color.FgRed),
	}
	if disabled {
		for _, c := range []*color.Color{p.heading, p.item, p.muted, p.good, p.bad} {
			c.DisableColor()
		}
	}
	return p
}

func render(output io.Writer, opts *globalOptions, body []byte, text textWriter) error {
	var err error
	switch opts.output {
	case "yaml":
		err = writeStructuredYAML(output, body)
	case "text":
		err = text(output, body, newPalette(opts.noColor))
	default:
		err = writeStructuredJSON(output, body)
	}
	if err != nil {
		return &cliError{code: "invalid_response", message: err.Error(), exit: exitFailure}
	}
	return nil
}

// writeStructuredJSON re-indents the body without reordering object keys.
func writeStructuredJSON(output io.Writer, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("response is not valid JSON")
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, bytes.TrimSpace(body), "", "  "); err != nil {
		return err
	}
	indented.WriteByte('\n')
	_, err := output.Write(indented.Bytes())
	return err
}

// writeStructuredYAML decodes JSON as YAML so key order survives, then re-encodes in block style.
func writeStructuredYAML(output io.Writer, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("response is not valid JSON")
	}

	var document yaml.Node
	if err := yaml.Unmarshal(body, &document); err != nil {
		return err
	}
	blockStyle(&document)

	encoder := yaml.NewEncoder(output)
	encoder.SetIndent(2)
	if err := encoder.Encode(&document); err != nil {
		return err
	}
	return encoder.Close()
}

func blockStyle(node *yaml.Node) {
	if node.Kind == yaml.MappingNode || node.Kind == yaml.SequenceNode {
		node.Style = 0
	}
	if node.Kind == yaml.ScalarNode && node.Style == yaml.DoubleQuotedStyle {
		node.Style = 0
	}
	for _, child := range node.Content {
		blockStyle(child)
	}
}

func writeHealthText(output io.Writer, body []byte, p palette) error {
	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return err
	}
	if health.OK {
		_, err := p.good.Fprintln(output, "ok")
		return err
	}
	_, err := p.bad.Fprintln(output, "unhealthy")
	return err
}

func writeProvidersText(output io.Writer, body []byte, p palette) error {
	var payload struct {
		Active    string `json:"active"`
		Providers []struct {
			Name       string `json:"name"`
			BaseURL    string `json:"baseUrl"`
			Model      string `json:"model"`
			Configured bool   `json:"configured"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}

	for _, provider := range payload.Providers {
		marker := "  "
		if provider.Name == payload.Active {
			marker = "* "
		}
		status := p.good.Sprint("configured")
		if !provider.Configured {
			status = p.bad.Sprint("missing key")
		}
		if _, err := fmt.Fprintf(output, "%s%s  %s  %s  %s\n",
			marker,
			p.item.Sprint(provider.Name),
			provider.Model,
			p.muted.Sprint(provider.BaseURL),
			status,
		); err != nil {
			return err
		}
	}
	return nil
}

func writePlanText(output io.Writer, body []byte, p palette) error {
	var plan struct {
		CoreTasks    []string   `json:"core_tasks"`
		SubTasksList [][]string `json:"sub_tasks_list"`
	}
	if err := json.Unmarshal(body, &plan); err != nil {
		return err
	}

	if _, err := p.heading.Fprintf(output, "Core tasks (%d)\n", len(plan.CoreTasks)); err != nil {
		return err
	}
	for i, coreTask := range plan.CoreTasks {
		if _, err := fmt.Fprintf(output, "%d. %s\n", i+1, p.item.Sprint(coreTask)); err != nil {
			return err
		}
		if i >= len(plan.SubTasksList) {
			continue
		}
		for _, subTask := range plan.SubTasksList[i] {
			if _, err := fmt.Fprintf(output, "   %s %s\n", p.muted.Sprint("-"), subTask); err != nil {
				return err
			}
		}
	}
	return nil
}
