package compose

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parsing
// =============================================================================

// Parse parses compose YAML into a Manifest.
// This is a pure function - no I/O, no side effects.
func Parse(yamlContent string) (*Manifest, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	manifest := &Manifest{
		Services: make([]Service, 0, len(project.Services)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		manifest.Services = append(manifest.Services, converted)
	}

	if err := detectCircularDependencies(manifest.Services); err != nil {
		return nil, err
	}
	if err := validatePorts(manifest.Services); err != nil {
		return nil, err
	}

	for name := range project.Networks {
		manifest.Networks = append(manifest.Networks, name)
	}
	for name := range project.Volumes {
		manifest.Volumes = append(manifest.Volumes, name)
	}

	return manifest, nil
}

// loadProject loads a compose project using compose-go.
func loadProject(yamlContent string) (*types.Project, error) {
	// Parse YAML into a map first so syntax errors surface cleanly.
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("caravel-preflight", false)
		opts.SkipValidation = false
		// Keep ${VAR} placeholders intact: the stack is interpolated on the
		// host, not here, and ExtractVariables needs the raw names.
		opts.SkipInterpolation = true
		opts.SkipNormalization = true
		opts.SkipExtends = true // Don't try to load external files
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// convertService converts a compose-go service to our Service type.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Environment: make(map[string]string),
		DependsOn:   make([]string, 0),
		Restart:     svc.Restart,
	}

	if svc.Build != nil {
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
	}

	if service.Image == "" && service.Build == nil {
		return Service{}, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
		})
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}

	return service, nil
}

// detectCircularDependencies detects cycles in service depends_on graphs.
func detectCircularDependencies(services []Service) error {
	deps := make(map[string][]string)
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrCircularDependency
			}
		}
	}

	return nil
}

// validatePorts validates all port configurations.
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := "services." + svc.Name + ".ports[" + strconv.Itoa(i) + "]"
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
			if port.Published > 65535 {
				return NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}

// =============================================================================
// Variable Extraction
// =============================================================================

// variablePlaceholderRegex matches ${VAR_NAME} or ${VAR_NAME:-default}
var variablePlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-[^}]*)?\}`)

// ExtractVariables extracts environment variable placeholders (${VAR_NAME})
// from raw compose YAML. Returns unique variable names without the ${} wrapper.
func ExtractVariables(yamlContent string) []string {
	seen := make(map[string]bool)
	var vars []string

	matches := variablePlaceholderRegex.FindAllStringSubmatch(yamlContent, -1)
	for _, match := range matches {
		if len(match) >= 2 {
			varName := match[1]
			if !seen[varName] {
				seen[varName] = true
				vars = append(vars, varName)
			}
		}
	}

	return vars
}

// MissingVariables cross-checks the manifest's ${VAR} placeholders against the
// keys declared in the secrets file, so an incomplete secrets file is caught
// before any remote step runs.
func MissingVariables(yamlContent string, secretKeys []string) []string {
	declared := make(map[string]bool, len(secretKeys))
	for _, k := range secretKeys {
		declared[k] = true
	}

	var missing []string
	for _, v := range ExtractVariables(yamlContent) {
		if !declared[v] {
			missing = append(missing, v)
		}
	}
	return missing
}
