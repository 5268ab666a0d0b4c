package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/pagination"
	"github.com/roach88/gridsync/internal/permission"
)

// Scenario defines a panel behavior scenario.
// A scenario loads a panel configuration over a fresh in-memory database,
// drives it through a list of steps and asserts on the resulting trace,
// the final database state and the rendered view.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Panel is the path to a panel configuration (.yaml, .yml or .cue).
	// Relative paths are resolved against the scenario file location.
	Panel string `yaml:"panel"`

	// User is the dashboard user permissions are evaluated for.
	User permission.User `yaml:"user"`

	// Setup contains SQL statements run against the datasource before the
	// steps. Every datasource the panel names is served by this database.
	Setup []string `yaml:"setup,omitempty"`

	// Variables seeds dashboard variables before the panel loads.
	Variables map[string]any `yaml:"variables,omitempty"`

	// Failures inject error responses for matching datasource requests.
	Failures []Failure `yaml:"failures,omitempty"`

	// Steps drive the panel in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace, state and view.
	Assertions []Assertion `yaml:"assertions"`
}

// Failure makes every request whose interpolated query contains Match
// fail with Message.
type Failure struct {
	Match   string `yaml:"match"`
	Message string `yaml:"message"`
}

// Step actions.
const (
	StepLoad      = "load"
	StepRefresh   = "refresh"
	StepAdd       = "add"
	StepEdit      = "edit"
	StepDelete    = "delete"
	StepCancel    = "cancel"
	StepVariables = "variables"
	StepPage      = "page"
	StepFilters   = "filters"
)

// Step is one user or host action.
type Step struct {
	// Do names the action; see the Step constants.
	Do string `yaml:"do"`

	// Row is the index into the loaded rows for edit and delete.
	Row int `yaml:"row,omitempty"`

	// Values are cell changes for add and edit, or a partial variable
	// update (var- prefixed keys) for variables.
	Values map[string]any `yaml:"values,omitempty"`

	// Session names the session to cancel: add, edit or delete.
	Session string `yaml:"session,omitempty"`

	// Page is the target page for page.
	Page *pagination.State `yaml:"page,omitempty"`

	// Filters replaces the manual filters for filters.
	Filters grid.ColumnFilters `yaml:"filters,omitempty"`

	// ExpectError is a substring the step's error must contain. Empty
	// means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates trace, state or view.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Event kind whose fields include Fields
	// - "trace_order": event kinds appear in order (Events)
	// - "trace_count": Event kind appears exactly Count times
	// - "final_state": query Table and verify expected values
	// - "notification": a notification with Level and Message was shown
	// - "view": the rendered page has Count rows and, optionally, Total
	Type string `yaml:"type"`

	// Event is the trace event kind (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Fields are expected event fields (trace_contains). Subset match.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Events is the expected kind order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// DB selects the database for final_state: "datasource" (default) or
	// "store" for the preference and journal store.
	DB string `yaml:"db,omitempty"`

	// Table is the table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state). All must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts no row matches Where (final_state).
	Absent bool `yaml:"absent,omitempty"`

	// Count is the expected occurrences (trace_count) or page rows (view).
	Count int `yaml:"count,omitempty"`

	// Total is the expected total row count (view).
	Total *int `yaml:"total,omitempty"`

	// Level and Message identify a notification (notification).
	Level   string `yaml:"level,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertNotification  = "notification"
	AssertView          = "view"
)

// LoadScenario reads and parses a scenario YAML file, resolving the panel
// path relative to the file. Returns an error if the file doesn't exist,
// is malformed, contains unknown fields (typos), or is missing required
// fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the panel path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Panel != "" && !filepath.IsAbs(scenario.Panel) && basePath != "" {
		scenario.Panel = filepath.Join(basePath, scenario.Panel)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Panel == "" {
		return fmt.Errorf("panel is required")
	}

	if _, err := os.Stat(s.Panel); os.IsNotExist(err) {
		return fmt.Errorf("panel file not found: %s", s.Panel)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, f := range s.Failures {
		if f.Match == "" {
			return fmt.Errorf("failures[%d]: match is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Do {
	case StepLoad, StepRefresh, StepAdd, StepFilters:
	case StepEdit, StepDelete:
		if s.Row < 0 {
			return fmt.Errorf("steps[%d]: row must be non-negative for %s", index, s.Do)
		}
	case StepCancel:
		switch s.Session {
		case "add", "edit", "delete":
		default:
			return fmt.Errorf("steps[%d]: session must be add, edit or delete for cancel", index)
		}
	case StepVariables:
		if len(s.Values) == 0 {
			return fmt.Errorf("steps[%d]: values are required for variables", index)
		}
	case StepPage:
		if s.Page == nil {
			return fmt.Errorf("steps[%d]: page is required for page", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Do)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
		switch a.DB {
		case "", "datasource", "store":
		default:
			return fmt.Errorf("assertions[%d]: db must be datasource or store", index)
		}
	case AssertNotification:
		if a.Level != "success" && a.Level != "error" {
			return fmt.Errorf("assertions[%d]: level must be success or error for notification", index)
		}
	case AssertView:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for view", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
