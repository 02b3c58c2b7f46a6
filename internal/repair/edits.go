package repair

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
)

// addMissingEntity inserts a minimal exported struct for the named entity
// into models/<entity>.go, creating the file if it does not yet exist
// (spec §4.10: "insert function, add field ..." generalized here to
// "insert type" for the Go-stack convention).
func addMissingEntity(files map[string][]byte, entityName string) error {
	path := fmt.Sprintf("models/%s.go", strings.ToLower(entityName))
	fset, file, err := parseOrNew(files, path, "models")
	if err != nil {
		return err
	}

	if hasStruct(file, entityName) {
		return nil // already present; nothing to do (invariant i: never duplicate/delete)
	}

	file.Decls = append(file.Decls, &ast.GenDecl{
		Tok: token.TYPE,
		Specs: []ast.Spec{
			&ast.TypeSpec{
				Name: ast.NewIdent(entityName),
				Type: &ast.StructType{
					Fields: &ast.FieldList{
						List: []*ast.Field{
							{Names: []*ast.Ident{ast.NewIdent("ID")}, Type: ast.NewIdent("string")},
						},
					},
				},
			},
		},
	})

	out, err := printFile(fset, file)
	if err != nil {
		return err
	}
	files[path] = out
	return nil
}

func hasStruct(file *ast.File, name string) bool {
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			if ts, ok := spec.(*ast.TypeSpec); ok && ts.Name.Name == name {
				return true
			}
		}
	}
	return false
}

// addMissingEndpoint inserts a router registration call for the locator
// ("METHOD path") into handlers/<resource>.go, creating both the file and
// a Register function if neither exists yet. The resource name is derived
// from the path's first segment, matching spec §4.10's
// routes/<resource>.py convention.
func addMissingEndpoint(files map[string][]byte, locator string) error {
	parts := strings.SplitN(locator, " ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed endpoint locator %q", locator)
	}
	method, urlPath := parts[0], parts[1]
	resource := resourceName(urlPath)
	path := fmt.Sprintf("handlers/%s.go", resource)

	fset, file, err := parseOrNew(files, path, "handlers")
	if err != nil {
		return err
	}

	fn := findOrCreateRegisterFunc(file)
	callExpr := &ast.ExprStmt{X: &ast.CallExpr{
		Fun: &ast.SelectorExpr{X: ast.NewIdent("router"), Sel: ast.NewIdent(strings.ToUpper(method))},
		Args: []ast.Expr{
			&ast.BasicLit{Kind: token.STRING, Value: fmt.Sprintf("%q", urlPath)},
			ast.NewIdent(handlerFuncName(method, resource)),
		},
	}}
	fn.Body.List = append(fn.Body.List, callExpr)

	out, err := printFile(fset, file)
	if err != nil {
		return err
	}
	files[path] = out
	return nil
}

func resourceName(urlPath string) string {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return "root"
	}
	segments := strings.Split(trimmed, "/")
	return strings.ToLower(strings.TrimPrefix(segments[0], ":"))
}

func handlerFuncName(method, resource string) string {
	return fmt.Sprintf("%s%s", strings.Title(strings.ToLower(method)), strings.Title(resource)) //nolint:staticcheck
}

func findOrCreateRegisterFunc(file *ast.File) *ast.FuncDecl {
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == "Register" {
			return fn
		}
	}
	fn := &ast.FuncDecl{
		Name: ast.NewIdent("Register"),
		Type: &ast.FuncType{Params: &ast.FieldList{List: []*ast.Field{
			{Names: []*ast.Ident{ast.NewIdent("router")}, Type: ast.NewIdent("Router")},
		}}},
		Body: &ast.BlockStmt{},
	}
	file.Decls = append(file.Decls, fn)
	return fn
}

// addMissingValidation inserts a documented validation function tagged
// with the `// validate: entity=... attribute=... kind=...` convention
// the Compliance Validator introspects, into validation/rules.go. kind
// distinguishes add_missing_validation from fix_serialization only in
// the doc comment wording; the structural edit is identical, since both
// ultimately assert one more validation rule is present.
func addMissingValidation(files map[string][]byte, locator string, kind TaskKind) error {
	entity, attribute, ruleKind, err := splitValidationLocator(locator)
	if err != nil {
		return err
	}
	path := "validation/rules.go"
	fset, file, err := parseOrNew(files, path, "validation")
	if err != nil {
		return err
	}

	funcName := fmt.Sprintf("Validate%s%s", entity, strings.Title(attribute)) //nolint:staticcheck
	if hasFunc(file, funcName) {
		return nil
	}

	doc := fmt.Sprintf("validate: entity=%s attribute=%s kind=%s", entity, attribute, ruleKind)
	if kind == TaskFixSerialization {
		doc += " (serialization repair)"
	}

	fn := &ast.FuncDecl{
		Doc:  &ast.CommentGroup{List: []*ast.Comment{{Text: "// " + doc}}},
		Name: ast.NewIdent(funcName),
		Type: &ast.FuncType{Params: &ast.FieldList{}},
		Body: &ast.BlockStmt{},
	}
	file.Decls = append(file.Decls, fn)

	out, err := printFile(fset, file)
	if err != nil {
		return err
	}
	files[path] = out
	return nil
}

func hasFunc(file *ast.File, name string) bool {
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == name {
			return true
		}
	}
	return false
}

// splitValidationLocator parses the "entity.attribute.kind" locator
// convention used by domain.ComplianceFailure for missing-validation
// failures.
func splitValidationLocator(locator string) (entity, attribute, kind string, err error) {
	parts := strings.Split(locator, ".")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed validation locator %q", locator)
	}
	return parts[0], parts[1], parts[2], nil
}
