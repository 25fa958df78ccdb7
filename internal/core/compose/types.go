package compose

// =============================================================================
// Manifest - Main Output Type
// =============================================================================

// Manifest is the parsed compose stack, decoupled from compose-go types.
// Only the fields caravel's preflight checks look at are carried over.
type Manifest struct {
	Services []Service `json:"services"`
	Networks []string  `json:"networks,omitempty"`
	Volumes  []string  `json:"volumes,omitempty"`
}

// Service represents a single service definition.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	Build       *BuildConfig      `json:"build,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Restart     string            `json:"restart,omitempty"`
}

// BuildConfig represents build configuration (optional).
type BuildConfig struct {
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
}

// ServiceNames returns the declared service names in manifest order.
func (m *Manifest) ServiceNames() []string {
	names := make([]string, 0, len(m.Services))
	for _, s := range m.Services {
		names = append(names, s.Name)
	}
	return names
}

// PublishesPort reports whether any service publishes the given host port.
func (m *Manifest) PublishesPort(port uint32) bool {
	for _, s := range m.Services {
		for _, p := range s.Ports {
			if p.Published == port {
				return true
			}
		}
	}
	return false
}
