package model

import (
	"context"
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if err := compiled.Err(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version   int        `json:"version" yaml:"version"`
	Service   Service    `json:"service" yaml:"service"`
	Worker    Worker     `json:"worker" yaml:"worker"`
	Database  *Database  `json:"database,omitempty" yaml:"database,omitempty"`
	Retention *Retention `json:"retention,omitempty" yaml:"retention,omitempty"`
}

type Service struct {
	Listen      string `json:"listen" yaml:"listen"`
	Verbose     *bool  `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	UploadsDir  string `json:"uploads_dir" yaml:"uploads_dir"`
	ReportsDir  string `json:"reports_dir" yaml:"reports_dir"`
	ReportRoute string `json:"report_route" yaml:"report_route"`
	BodyLimit   string `json:"body_limit" yaml:"body_limit"`
}

// Worker describes how the isolated import process is spawned. An empty
// Command means the running executable re-executes itself.
type Worker struct {
	Command       string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args          []string          `json:"args" yaml:"args"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout       string            `json:"timeout" yaml:"timeout"`
	ProgressEvery int               `json:"progress_every" yaml:"progress_every"`
}

// TimeoutDuration returns the parsed timeout; zero means none.
func (w Worker) TimeoutDuration() (time.Duration, error) {
	if w.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(w.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing worker.timeout: %w", err)
	}
	return d, nil
}

type Database struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// Retention removes uploads and reports older than MaxAge. Schedule is a
// five field cron expression or a descriptor like @daily.
type Retention struct {
	Schedule string `json:"schedule" yaml:"schedule"`
	MaxAge   string `json:"max_age" yaml:"max_age"`
}

func (r Retention) MaxAgeDuration() (time.Duration, error) {
	d, err := time.ParseDuration(r.MaxAge)
	if err != nil {
		return 0, fmt.Errorf("parsing retention.max_age: %w", err)
	}
	return d, nil
}

func (c Config) IsVerbose() bool {
	return c.Service.Verbose != nil && *c.Service.Verbose
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Service: Service{
			Listen:      ":8080",
			UploadsDir:  "uploads",
			ReportsDir:  "reports",
			ReportRoute: "/api/v1/imports/reports/",
			BodyLimit:   "64M",
		},
		Worker: Worker{
			Args:          []string{"_import"},
			ProgressEvery: 500,
		},
	}
}

// LoadConfig validates YAML from r against the CUE schema and decodes it.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("importer.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if out.Version != 0 {
		return Config{}, fmt.Errorf("%w: %d", ErrConfigVersion, out.Version)
	}
	if _, err := out.Worker.TimeoutDuration(); err != nil {
		return Config{}, err
	}
	if out.Retention != nil {
		if err := ParseCron(out.Retention.Schedule); err != nil {
			return Config{}, fmt.Errorf("parsing retention.schedule: %w", err)
		}
		if _, err := out.Retention.MaxAgeDuration(); err != nil {
			return Config{}, err
		}
	}
	return out, nil
}
