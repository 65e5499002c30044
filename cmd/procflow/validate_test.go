package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testdata = "../../pkg/adapters/definition/yaml/testdata/"

func TestValidateReportsSummary(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runValidate(&out, []string{testdata + "review.yaml", "../../graphs"}))
	assert.Contains(t, out.String(), "ok (")
	assert.NotContains(t, out.String(), "invalid")
}

func TestValidateListsProblems(t *testing.T) {
	var out bytes.Buffer
	err := runValidate(&out, []string{testdata + "broken.yaml", testdata + "review.yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 paths failed")
	assert.Contains(t, out.String(), "broken.yaml: invalid")
	assert.Contains(t, out.String(), "  - ")
}

func TestValidateMissingPath(t *testing.T) {
	var out bytes.Buffer
	err := runValidate(&out, []string{"does-not-exist.yaml"})
	require.Error(t, err)
	assert.Contains(t, out.String(), "does-not-exist.yaml: invalid")
}
