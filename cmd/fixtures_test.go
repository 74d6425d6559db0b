package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtureNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfiles_YAMLSingle(t *testing.T) {
	path := writeFixture(t, "alice.yaml", `
user_id: alice
demographics:
  date_of_birth: 1997-06-01T00:00:00Z
  gender: female
health:
  bmi: 27.2
  existing_conditions: []
lifestyle:
  smoking_status: never
  exercise_frequency: "3-4"
coverage:
  amount: 500000
  term_years: 30
`)
	profiles, err := loadProfiles(path, fixtureNow)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	p := profiles[0]
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, fixtureNow, p.CapturedAt)
	require.NotNil(t, p.Demographics.DateOfBirth)
	assert.Equal(t, 1997, p.Demographics.DateOfBirth.Year())
	require.NotNil(t, p.Health.BMI)
	assert.Equal(t, 27.2, *p.Health.BMI)
	require.NotNil(t, p.Lifestyle.ExerciseFrequency)
	assert.Equal(t, "3-4", *p.Lifestyle.ExerciseFrequency)
	require.NotNil(t, p.Coverage.TermYears)
	assert.Equal(t, 30, *p.Coverage.TermYears)
	assert.Nil(t, p.Financial.AnnualIncome)
}

func TestLoadProfiles_YAMLListAndDocuments(t *testing.T) {
	path := writeFixture(t, "batch.yml", `
- user_id: a
- user_id: b
---
user_id: c
captured_at: 2025-01-01T00:00:00Z
`)
	profiles, err := loadProfiles(path, fixtureNow)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "a", profiles[0].UserID)
	assert.Equal(t, "b", profiles[1].UserID)
	assert.Equal(t, "c", profiles[2].UserID)
	assert.Equal(t, 2025, profiles[2].CapturedAt.Year())
	assert.Equal(t, time.January, profiles[2].CapturedAt.Month())
}

func TestLoadProfiles_JSON(t *testing.T) {
	single := writeFixture(t, "one.json", `{"user_id":"x","lifestyle":{"smoking_status":"current"}}`)
	profiles, err := loadProfiles(single, fixtureNow)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "current", *profiles[0].Lifestyle.SmokingStatus)

	list := writeFixture(t, "many.JSON", ` [{"user_id":"x"},{"user_id":"y"}]`)
	profiles, err = loadProfiles(list, fixtureNow)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
}

func TestLoadProfiles_Errors(t *testing.T) {
	_, err := loadProfiles(filepath.Join(t.TempDir(), "missing.yaml"), fixtureNow)
	assert.Error(t, err)

	_, err = loadProfiles(writeFixture(t, "anon.yaml", "health:\n  bmi: 22\n"), fixtureNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no user_id")

	_, err = loadProfiles(writeFixture(t, "bad.json", `{"user_id":`), fixtureNow)
	assert.Error(t, err)
}
