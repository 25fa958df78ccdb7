package compose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const dashboardStack = `
services:
  dashboard:
    build: .
    ports:
      - "8501:8501"
    environment:
      NOTION_TOKEN: ${NOTION_TOKEN}
    restart: unless-stopped
`

const multiServiceStack = `
services:
  web:
    image: nginx:latest
    ports:
      - "80:80"
    depends_on:
      - api

  api:
    image: myapp:1.0
    environment:
      DB_HOST: db
    depends_on:
      - db

  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data

volumes:
  pgdata:
`

const circularStack = `
services:
  a:
    image: a:1
    depends_on:
      - b
  b:
    image: b:1
    depends_on:
      - a
`

const noImageStack = `
services:
  ghost: {}
`

// =============================================================================
// Parse
// =============================================================================

func TestParse_DashboardStack(t *testing.T) {
	manifest, err := Parse(dashboardStack)
	require.NoError(t, err)

	require.Len(t, manifest.Services, 1)
	svc := manifest.Services[0]
	assert.Equal(t, "dashboard", svc.Name)
	require.NotNil(t, svc.Build)
	assert.Equal(t, "unless-stopped", svc.Restart)

	require.Len(t, svc.Ports, 1)
	assert.Equal(t, uint32(8501), svc.Ports[0].Target)
	assert.Equal(t, uint32(8501), svc.Ports[0].Published)
	assert.True(t, manifest.PublishesPort(8501))
}

func TestParse_MultiService(t *testing.T) {
	manifest, err := Parse(multiServiceStack)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"web", "api", "db"}, manifest.ServiceNames())
	assert.Contains(t, manifest.Volumes, "pgdata")

	for _, svc := range manifest.Services {
		if svc.Name == "web" {
			assert.Equal(t, []string{"api"}, svc.DependsOn)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Parse("   \n\t  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse("services:\n  web:\n   image: [unclosed")
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_NoServices(t *testing.T) {
	_, err := Parse("volumes:\n  data:\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoServices) || errors.Is(err, ErrInvalidYAML))
}

func TestParse_NoImageOrBuild(t *testing.T) {
	_, err := Parse(noImageStack)
	assert.ErrorIs(t, err, ErrServiceNoImage)
}

func TestParse_CircularDependency(t *testing.T) {
	_, err := Parse(circularStack)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestParse_ParseErrorField(t *testing.T) {
	_, err := Parse(noImageStack)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Error(), "ghost")
}

// =============================================================================
// Variable Extraction
// =============================================================================

func TestExtractVariables(t *testing.T) {
	vars := ExtractVariables(dashboardStack)
	assert.Equal(t, []string{"NOTION_TOKEN"}, vars)
}

func TestExtractVariables_WithDefaultsAndDuplicates(t *testing.T) {
	yaml := `
services:
  app:
    image: app:1
    environment:
      TOKEN: ${API_TOKEN}
      TOKEN_AGAIN: ${API_TOKEN}
      PORT: ${PORT:-8501}
`
	vars := ExtractVariables(yaml)
	assert.ElementsMatch(t, []string{"API_TOKEN", "PORT"}, vars)
}

func TestMissingVariables(t *testing.T) {
	missing := MissingVariables(dashboardStack, []string{"NOTION_TOKEN"})
	assert.Empty(t, missing)

	missing = MissingVariables(dashboardStack, []string{"OTHER_KEY"})
	assert.Equal(t, []string{"NOTION_TOKEN"}, missing)
}
