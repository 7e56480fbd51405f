package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

// PlainFormatter writes an aligned, unstyled table suitable for piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, p *Plan) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "#\tRUN\tSERVER_OPTIM\tCONFIG"); err != nil {
		return err
	}
	for _, r := range p.Runs {
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", r.Index, r.RunID, r.ServerOptim, r.ConfigPath); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// JSONFormatter writes the plan as an indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, p *Plan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// YAMLFormatter writes the plan as YAML with the same structure as JSON.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, p *Plan) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}

// CSVFormatter writes one RFC 4180 row per run.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, p *Plan) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "run_id", "dataset", "learning_rate", "optimizer", "server_optim", "epochs", "config_path"}); err != nil {
		return err
	}
	for _, r := range p.Runs {
		row := []string{
			strconv.Itoa(r.Index),
			r.RunID,
			r.Dataset,
			types.FormatFloat(r.LearningRate),
			r.Optimizer,
			strconv.FormatBool(r.ServerOptim),
			strconv.Itoa(r.Epochs),
			r.ConfigPath,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
	Register("json", func() Formatter { return &JSONFormatter{} })
	Register("yaml", func() Formatter { return &YAMLFormatter{} })
	Register("csv", func() Formatter { return &CSVFormatter{} })
}

var (
	_ Formatter = (*PlainFormatter)(nil)
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
	_ Formatter = (*CSVFormatter)(nil)
)
