// Package compliance implements the Compliance Validator (C9): given a
// generated FileMap and optional GroundTruth, it loads the artifact as a
// parseable app (parsing without executing, so side effects never run),
// introspects its entities/endpoints/validations, and scores coverage
// against ground truth (spec §4.9). Grounded on the teacher's
// model.ValidationError{Rule,Severity,Detail} record shape, generalized
// into ComplianceFailure.
package compliance

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strings"

	"devmatrix.dev/core/internal/domain"
)

// Conventions for where generated artifacts place each concern, mirroring
// spec §4.10's entities.py/routes/<resource>.py/schemas.py convention
// adapted to this Core's Go-stack output: entities live under models/,
// endpoint registrations under handlers/, validation rules under
// validation/.
const (
	entitiesDir   = "models/"
	handlersDir   = "handlers/"
	validationDir = "validation/"
)

var routeCallPattern = regexp.MustCompile(`(?i)\.(GET|POST|PUT|DELETE|PATCH)\(\s*"([^"]+)"`)

// validationTagPattern matches a repair/inference-emitted annotation
// comment of the form `// validate: entity=X attribute=Y kind=Z`,
// attached above the struct field or function it governs.
var validationTagPattern = regexp.MustCompile(`//\s*validate:\s*entity=(\S+)\s+attribute=(\S+)\s+kind=(\S+)`)

// Validate scores the given file map against groundTruth. If groundTruth
// is nil the report is best-effort: coverage fields are left at zero and
// BestEffort is set, per spec §6.
func Validate(files domain.FileMap, groundTruth *domain.GroundTruth) domain.ComplianceReport {
	entities, endpoints, validations, err := introspect(files)
	if err != nil {
		return domain.ComplianceReport{
			Failures: []domain.ComplianceFailure{{
				Kind:   domain.FailureImport,
				Locator: "file_map",
				Detail: err.Error(),
			}},
		}
	}

	if groundTruth == nil {
		return domain.ComplianceReport{BestEffort: true}
	}

	var failures []domain.ComplianceFailure

	entityCoverage, entityFailures := scoreEntities(entities, groundTruth.EntityNames)
	failures = append(failures, entityFailures...)

	endpointCoverage, endpointFailures := scoreEndpoints(endpoints, groundTruth.Endpoints)
	failures = append(failures, endpointFailures...)

	validationCoverage, validationFailures := scoreValidations(validations, groundTruth.ValidationRules)
	failures = append(failures, validationFailures...)

	overall := domain.WeightEntities*entityCoverage +
		domain.WeightEndpoints*endpointCoverage +
		domain.WeightValidations*validationCoverage

	return domain.ComplianceReport{
		EntityCoverage:     entityCoverage,
		EndpointCoverage:   endpointCoverage,
		ValidationCoverage: validationCoverage,
		Overall:            overall,
		Failures:           failures,
	}
}

// introspect parses the Go source files under models/ and extracts the artifact's
// entity type names, registered endpoints, and validation tags. A parse
// error anywhere in models/ is treated as the artifact failing to import
// (spec §4.9's error policy); handlers/ and validation/ are read as plain
// text since route/tag conventions are looser than full Go syntax.
func introspect(files domain.FileMap) ([]string, []domain.EndpointKey, []domain.ValidationRuleKey, error) {
	var entities []string
	fset := token.NewFileSet()
	for path, content := range files {
		if !strings.HasPrefix(path, entitiesDir) || !strings.HasSuffix(path, ".go") {
			continue
		}
		file, err := parser.ParseFile(fset, path, content, parser.AllErrors)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		entities = append(entities, structNames(file)...)
	}
	sort.Strings(entities)

	var endpoints []domain.EndpointKey
	for path, content := range files {
		if !strings.HasPrefix(path, handlersDir) {
			continue
		}
		for _, m := range routeCallPattern.FindAllStringSubmatch(string(content), -1) {
			endpoints = append(endpoints, domain.EndpointKey{
				Method: domain.HTTPMethod(strings.ToUpper(m[1])),
				Path:   m[2],
			})
		}
	}

	var validations []domain.ValidationRuleKey
	for path, content := range files {
		if !strings.HasPrefix(path, validationDir) {
			continue
		}
		for _, m := range validationTagPattern.FindAllStringSubmatch(string(content), -1) {
			validations = append(validations, domain.ValidationRuleKey{
				Entity:    m[1],
				Attribute: m[2],
				Kind:      domain.ValidationKind(m[3]),
			})
		}
	}

	return entities, endpoints, validations, nil
}

func structNames(file *ast.File) []string {
	var names []string
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			if _, ok := ts.Type.(*ast.StructType); ok && ts.Name.IsExported() {
				names = append(names, ts.Name.Name)
			}
		}
	}
	return names
}

func scoreEntities(present, required []string) (float64, []domain.ComplianceFailure) {
	if len(required) == 0 {
		return 1, nil
	}
	presentSet := toSet(present)
	var failures []domain.ComplianceFailure
	hit := 0
	for _, name := range required {
		if presentSet[name] {
			hit++
		} else {
			failures = append(failures, domain.ComplianceFailure{
				Kind:    domain.FailureMissingEntity,
				Locator: name,
			})
		}
	}
	return float64(hit) / float64(len(required)), failures
}

func scoreEndpoints(present, required []domain.EndpointKey) (float64, []domain.ComplianceFailure) {
	if len(required) == 0 {
		return 1, nil
	}
	presentSet := map[domain.EndpointKey]bool{}
	for _, e := range present {
		presentSet[e] = true
	}
	var failures []domain.ComplianceFailure
	hit := 0
	for _, e := range required {
		if presentSet[e] {
			hit++
		} else {
			failures = append(failures, domain.ComplianceFailure{
				Kind:    domain.FailureMissingEndpoint,
				Locator: fmt.Sprintf("%s %s", e.Method, e.Path),
			})
		}
	}
	// Extra endpoints beyond required are allowed and simply not counted
	// against the score (spec §4.9).
	return float64(hit) / float64(len(required)), failures
}

func scoreValidations(present, required []domain.ValidationRuleKey) (float64, []domain.ComplianceFailure) {
	if len(required) == 0 {
		return 1, nil
	}
	presentSet := map[domain.ValidationRuleKey]bool{}
	for _, v := range present {
		presentSet[v] = true
	}
	var failures []domain.ComplianceFailure
	hit := 0
	for _, v := range required {
		if presentSet[v] {
			hit++
		} else {
			failures = append(failures, domain.ComplianceFailure{
				Kind:    domain.FailureMissingValidation,
				Locator: fmt.Sprintf("%s.%s.%s", v.Entity, v.Attribute, v.Kind),
			})
		}
	}
	return float64(hit) / float64(len(required)), failures
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
