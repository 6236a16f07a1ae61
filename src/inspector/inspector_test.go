// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package inspector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRequiredCores_MissingFileDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, RequiredCores(filepath.Join(t.TempDir(), "missing.bat")))
}

func TestRequiredCores_NPSwitch(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "3_run.bat")
	writeFile(t, script, "mpiexec -np 8 simpleFoam -parallel\n")
	assert.Equal(t, 8, RequiredCores(script))
}

func TestRequiredCores_NSwitchShortForm(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "3_run.bat")
	writeFile(t, script, "mpiexec -n=4 simpleFoam -parallel\n")
	assert.Equal(t, 4, RequiredCores(script))
}

func TestRequiredCores_CommentedSwitchIgnored(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "3_run.bat")
	writeFile(t, script, ":: mpiexec -np 16 simpleFoam -parallel\nREM -np 32\necho hi\n")
	assert.Equal(t, 1, RequiredCores(script))
}

func TestRequiredCores_DecomposeParDictTakesMaxOverNP(t *testing.T) {
	dir := t.TempDir()
	caseDir := filepath.Join(dir, "case")
	script := filepath.Join(caseDir, "3_run.bat")
	writeFile(t, script, "mpiexec -np 4 simpleFoam -parallel\n")
	writeFile(t, filepath.Join(caseDir, "system", "decomposeParDict"), "numberOfSubdomains 16;\n")
	assert.Equal(t, 16, RequiredCores(script))
}

func TestRequiredCores_NPTakesMaxOverDecomposeParDict(t *testing.T) {
	dir := t.TempDir()
	caseDir := filepath.Join(dir, "case")
	script := filepath.Join(caseDir, "3_run.bat")
	writeFile(t, script, "mpiexec -np 32 simpleFoam -parallel\n")
	writeFile(t, filepath.Join(caseDir, "system", "decomposeParDict"), "numberOfSubdomains 4;\n")
	assert.Equal(t, 32, RequiredCores(script))
}

func TestRequiredCores_DecomposeParDictFoundViaAncestorWalk(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	script := filepath.Join(nested, "3_run.bat")
	writeFile(t, script, "echo no switches here\n")
	writeFile(t, filepath.Join(dir, "a", "system", "decomposeParDict"), "numberOfSubdomains 12;\n")
	assert.Equal(t, 12, RequiredCores(script))
}

func TestRequiredCores_NoSwitchOrDictDefaultsToOne(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "1_mesh.bat")
	writeFile(t, script, "blockMesh\n")
	assert.Equal(t, 1, RequiredCores(script))
}
