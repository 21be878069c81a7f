// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package install

import (
	"context"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/env"
	"github.com/pinokiocloud/pinokio-cloud/internal/exechelper"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// StepContext carries everything a step needs to run.
type StepContext struct {
	AppID  string
	AppDir string
	Env    *env.Environment
	Scope  Scope
	Inputs model.InputValues
	Logger log.FieldLogger
	Tail   *LogTail
}

// Step is one idempotent unit of installer work.
type Step struct {
	Name string
	Run  func(ctx context.Context, sc *StepContext) error
}

// Driver builds the typed step sequence for one installer kind.
//
// The js and json kinds are interpreted by an external DSL engine; a driver
// for them is registered by the embedding process, never implemented here.
type Driver interface {
	Kind() model.InstallerKind
	Parse(profile *model.AppProfile, appDir string) ([]Step, []model.InputField, error)
}

// shellStep wraps a command line into a step running inside the app's
// environment overlay.
func shellStep(name string, cmdline []string) Step {
	return Step{
		Name: name,
		Run: func(ctx context.Context, sc *StepContext) error {
			substituted, err := SubstituteAll(cmdline, sc.Scope)
			if err != nil {
				return err
			}

			cmd := exec.Command(substituted[0], substituted[1:]...)
			opts := &exechelper.Options{
				Dir:       sc.AppDir,
				CreateDir: true,
			}
			if sc.Env != nil {
				opts.Env = sc.Env.Overlay()
			}

			var outputLogger exechelper.OutputLogger
			if sc.Tail != nil {
				outputLogger = func(line string, logger log.FieldLogger) {
					sc.Tail.Append(line)
					logger.Info(line)
				}
			}

			_, err = exechelper.Run(ctx, cmd, opts, sc.Logger.WithField("step", name), outputLogger)
			return err
		},
	}
}

// RequirementsDriver expands a pip requirements install deterministically.
type RequirementsDriver struct{}

// Kind implements Driver.
func (d *RequirementsDriver) Kind() model.InstallerKind { return model.InstallerRequirements }

// Parse implements Driver.
func (d *RequirementsDriver) Parse(profile *model.AppProfile, appDir string) ([]Step, []model.InputField, error) {
	steps := []Step{
		shellStep("upgrade-pip", []string{"python", "-m", "pip", "install", "--upgrade", "pip"}),
		shellStep("pip-install", []string{"python", "-m", "pip", "install", "-r", filepath.Join(appDir, "requirements.txt")}),
	}
	return steps, nil, nil
}

// EnvironmentDriver expands a conda environment install deterministically.
type EnvironmentDriver struct{}

// Kind implements Driver.
func (d *EnvironmentDriver) Kind() model.InstallerKind { return model.InstallerEnvironment }

// Parse implements Driver.
func (d *EnvironmentDriver) Parse(profile *model.AppProfile, appDir string) ([]Step, []model.InputField, error) {
	manifest := filepath.Join(appDir, "environment.yml")
	steps := []Step{
		shellStep("conda-env-update", []string{"conda", "env", "update", "-p", "{{env.root}}", "-f", manifest}),
	}
	if len(profile.Deps.Pip) > 0 {
		steps = append(steps,
			shellStep("pip-install", append([]string{"python", "-m", "pip", "install"}, profile.Deps.Pip...)))
	}
	return steps, nil, nil
}

// ScriptDriver runs the app's install script through the shell.
type ScriptDriver struct{}

// Kind implements Driver.
func (d *ScriptDriver) Kind() model.InstallerKind { return model.InstallerScript }

// Parse implements Driver.
func (d *ScriptDriver) Parse(profile *model.AppProfile, appDir string) ([]Step, []model.InputField, error) {
	script := filepath.Join(appDir, "install.sh")
	steps := []Step{
		shellStep("chmod-script", []string{"chmod", "+x", script}),
		shellStep("run-script", []string{"bash", script}),
	}
	return steps, nil, nil
}

// DriverRegistry resolves installer kinds to drivers.
type DriverRegistry struct {
	drivers map[model.InstallerKind]Driver
}

// NewDriverRegistry creates a registry with the deterministic built-in
// drivers registered.
func NewDriverRegistry() *DriverRegistry {
	registry := &DriverRegistry{drivers: map[model.InstallerKind]Driver{}}
	registry.Register(&RequirementsDriver{})
	registry.Register(&EnvironmentDriver{})
	registry.Register(&ScriptDriver{})
	return registry
}

// Register adds or replaces the driver for its kind.
func (r *DriverRegistry) Register(driver Driver) {
	r.drivers[driver.Kind()] = driver
}

// Resolve returns the driver for the given kind.
func (r *DriverRegistry) Resolve(kind model.InstallerKind) (Driver, error) {
	driver, ok := r.drivers[kind]
	if !ok {
		detail := "no driver registered"
		if kind == model.InstallerJS || kind == model.InstallerJSON {
			detail = "external installer interpreter not registered"
		}
		return nil, model.NewError(model.ErrUnsupported, "installer kind %s: %s", kind, detail)
	}
	return driver, nil
}

// envRootScope extends the scope with the environment root used by the
// conda driver.
func envRootScope(scope Scope, environment *env.Environment) Scope {
	extended := Scope{}
	for k, v := range scope {
		extended[k] = v
	}
	if environment != nil {
		extended["env.root"] = environment.Root
	}
	return extended
}
