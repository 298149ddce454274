package service

import (
	"os"
	"strings"
	"time"

	"github.com/obsreg/importer/internal/model"
)

// ConfigEnv names the variable a worker process reads its config path from.
const ConfigEnv = "IMPORTERCONFIG"

type Command struct {
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// CommandFromConfig builds the worker command. self is the path of the
// running executable, used when cfg.Command is empty. The worker inherits
// the parent environment plus the config path and cfg.Env.
func CommandFromConfig(cfg model.Worker, self, configPath string) (Command, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return Command{}, err
	}

	path := cfg.Command
	if path == "" {
		path = self
	}

	env := append([]string(nil), os.Environ()...)
	if configPath != "" {
		env = append(env, ConfigEnv+"="+configPath)
	}
	for k, v := range cfg.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}

	return Command{
		Path:    path,
		Args:    append([]string(nil), cfg.Args...),
		Env:     env,
		Timeout: timeout,
	}, nil
}
