// Package provisioner starts one transient Worker per job.
package provisioner

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"text/template"

	"github.com/cuongbtq/textjob/internal/domain"
)

// Provisioner starts a Worker for a launch spec and returns a handle naming it
type Provisioner interface {
	Provision(ctx context.Context, spec LaunchSpec) (string, error)
}

// LaunchSpec is everything a Worker needs at boot
type LaunchSpec struct {
	Params   domain.JobParams `json:"params"`
	Env      domain.WorkerEnv `json:"env"`
	Script   string           `json:"-"`
	UserData string           `json:"-"`
}

// BuilderConfig describes how launched Workers are started
type BuilderConfig struct {
	Env              domain.WorkerEnv
	WorkerBinary     string
	WorkerConfigPath string
	// TerminateCommand runs after the worker exits, whatever its status. Empty skips it.
	TerminateCommand string
}

// Builder renders the bootstrap script of a Worker
type Builder struct {
	config BuilderConfig
	tmpl   *template.Template
}

const bootstrapTemplate = `#!/bin/sh
set -u
export STORE_NAME={{q .Env.Store}}
export TABLE_NAME={{q .Env.Table}}
{{- if .Env.Credential}}
export WORKER_CREDENTIAL={{q .Env.Credential}}
{{- end}}
{{- if .Env.Network}}
export WORKER_NETWORK={{q .Env.Network}}
{{- end}}
export JOB_ID={{q .Params.JobID}}
export JOB_INPUT_TEXT={{q .Params.InputText}}
export JOB_INPUT_FILE_PATH={{q .Params.InputFilePath}}
{{q .Binary}} -once{{if .ConfigPath}} -config {{q .ConfigPath}}{{end}}
status=$?
{{- if .Terminate}}
{{.Terminate}}
{{- end}}
exit $status
`

// NewBuilder validates config and parses the bootstrap template
func NewBuilder(config BuilderConfig) (*Builder, error) {
	if config.Env.Store == "" {
		return nil, fmt.Errorf("worker store name is required")
	}
	if config.Env.Table == "" {
		return nil, fmt.Errorf("worker table name is required")
	}
	if config.WorkerBinary == "" {
		return nil, fmt.Errorf("worker binary is required")
	}

	tmpl, err := template.New("bootstrap").
		Funcs(template.FuncMap{"q": ShellQuote}).
		Parse(bootstrapTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bootstrap template: %w", err)
	}

	return &Builder{config: config, tmpl: tmpl}, nil
}

// Build renders the launch spec of one job
func (b *Builder) Build(params domain.JobParams) (LaunchSpec, error) {
	if params.JobID == "" {
		return LaunchSpec{}, fmt.Errorf("job id is required")
	}

	var buf bytes.Buffer
	err := b.tmpl.Execute(&buf, struct {
		Env        domain.WorkerEnv
		Params     domain.JobParams
		Binary     string
		ConfigPath string
		Terminate  string
	}{
		Env:        b.config.Env,
		Params:     params,
		Binary:     b.config.WorkerBinary,
		ConfigPath: b.config.WorkerConfigPath,
		Terminate:  b.config.TerminateCommand,
	})
	if err != nil {
		return LaunchSpec{}, fmt.Errorf("failed to render bootstrap script: %w", err)
	}

	return LaunchSpec{
		Params:   params,
		Env:      b.config.Env,
		Script:   buf.String(),
		UserData: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// ShellQuote wraps s in single quotes for a POSIX shell
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
