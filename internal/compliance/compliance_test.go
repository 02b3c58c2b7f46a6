package compliance_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/compliance"
	"devmatrix.dev/core/internal/domain"
)

func TestValidate_FullCoverage(t *testing.T) {
	files := domain.FileMap{
		"models/user.go": []byte(`package models

type User struct {
	ID   string
	Name string
}
`),
		"handlers/user.go": []byte(`package handlers

func Register(router Router) {
	router.GET("/users", listUsers)
	router.POST("/users", createUser)
}
`),
		"validation/rules.go": []byte(`package validation

// validate: entity=User attribute=Name kind=presence
func ValidateUser() {}
`),
	}
	gt := &domain.GroundTruth{
		EntityNames: []string{"User"},
		Endpoints: []domain.EndpointKey{
			{Method: domain.MethodGET, Path: "/users"},
			{Method: domain.MethodPOST, Path: "/users"},
		},
		ValidationRules: []domain.ValidationRuleKey{
			{Entity: "User", Attribute: "Name", Kind: domain.ValidationPresence},
		},
	}

	report := compliance.Validate(files, gt)
	require.Equal(t, 1.0, report.EntityCoverage)
	require.Equal(t, 1.0, report.EndpointCoverage)
	require.Equal(t, 1.0, report.ValidationCoverage)
	require.InDelta(t, 1.0, report.Overall, 0.0001)
	require.Empty(t, report.Failures)
}

func TestValidate_PartialCoverageWeightedMean(t *testing.T) {
	files := domain.FileMap{
		"models/user.go": []byte(`package models

type User struct{ ID string }
`),
	}
	gt := &domain.GroundTruth{
		EntityNames: []string{"User"},
		Endpoints: []domain.EndpointKey{
			{Method: domain.MethodGET, Path: "/users"},
		},
		ValidationRules: []domain.ValidationRuleKey{
			{Entity: "User", Attribute: "Name", Kind: domain.ValidationPresence},
		},
	}

	report := compliance.Validate(files, gt)
	require.Equal(t, 1.0, report.EntityCoverage)
	require.Equal(t, 0.0, report.EndpointCoverage)
	require.Equal(t, 0.0, report.ValidationCoverage)
	require.InDelta(t, 0.2, report.Overall, 0.0001)
	require.Len(t, report.Failures, 2)
}

func TestValidate_ImportFailureReturnsAllZeroReport(t *testing.T) {
	files := domain.FileMap{
		"models/user.go": []byte(`package models

this is not valid go source {{{
`),
	}
	report := compliance.Validate(files, &domain.GroundTruth{EntityNames: []string{"User"}})
	require.Zero(t, report.Overall)
	require.Len(t, report.Failures, 1)
	require.Equal(t, domain.FailureImport, report.Failures[0].Kind)
}

func TestValidate_NilGroundTruthIsBestEffort(t *testing.T) {
	report := compliance.Validate(domain.FileMap{}, nil)
	require.True(t, report.BestEffort)
	require.Zero(t, report.Overall)
}

func TestValidate_ExtraEndpointsDoNotReduceScore(t *testing.T) {
	files := domain.FileMap{
		"handlers/user.go": []byte(`package handlers

func Register(router Router) {
	router.GET("/users", listUsers)
	router.DELETE("/users/:id", deleteUser)
}
`),
	}
	gt := &domain.GroundTruth{
		Endpoints: []domain.EndpointKey{{Method: domain.MethodGET, Path: "/users"}},
	}
	report := compliance.Validate(files, gt)
	require.Equal(t, 1.0, report.EndpointCoverage)
}
