package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/patmonardo/new-organon-sub002/pkg/gdslink"
	"github.com/patmonardo/new-organon-sub002/pkg/turn"
)

func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var kind string
	cmd.StringVar(&kind, "kind", "loop", "Document kind: loop, kernel or boot")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: organon validate -kind loop|kernel|boot <file>")
		return 2
	}

	data, err := os.ReadFile(cmd.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	switch kind {
	case "loop":
		_, err = turn.ParseLoopTurn(data)
	case "kernel":
		_, err = turn.ParseKernelTurn(data)
	case "boot":
		_, err = turn.ParseBootEnvelope(data)
	default:
		_, _ = fmt.Fprintf(stderr, "Error: unknown kind %q\n", kind)
		return 2
	}
	if err != nil {
		var ve *turn.ValidationError
		if errors.As(err, &ve) {
			_, _ = fmt.Fprintf(stderr, "invalid %s document: %s %s: %s\n", kind, ve.Code, ve.Field, ve.Message)
		} else {
			_, _ = fmt.Fprintf(stderr, "invalid %s document: %v\n", kind, err)
		}
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "valid %s document\n", kind)
	return 0
}

type opIDReport struct {
	OperationID string         `json:"operationId"`
	Facade      string         `json:"facade"`
	Op          string         `json:"op"`
	Registered  bool           `json:"registered"`
	Schema      map[string]any `json:"schema,omitempty"`
}

func runOpIDCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: organon opid <gds.facade.op>")
		return 2
	}
	facade, op, err := gdslink.ParseModelID(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	report := opIDReport{OperationID: gdslink.OperationID(facade, op), Facade: facade, Op: op}
	if v, ok := gdslink.DefaultRegistry().Lookup(facade, op); ok {
		report.Registered = true
		report.Schema = v.Schema()
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
