package acceptance

import (
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs all Gherkin acceptance tests
func TestFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping acceptance tests in short mode")
	}

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("acceptance tests failed")
	}
}

// InitializeScenario sets up step definitions
func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := NewTestContext()

	ctx.Step(`^an empty memory store$`, tc.emptyMemoryStore)
	ctx.Step(`^I save a memory with goal "([^"]*)" in project "([^"]*)"$`, tc.saveMemoryWithGoal)
	ctx.Step(`^I save a memory with goal "([^"]*)" linked to file "([^"]*)" in project "([^"]*)"$`, tc.saveMemoryWithFile)
	ctx.Step(`^I relate file "([^"]*)" to file "([^"]*)" as "([^"]*)" in project "([^"]*)"$`, tc.relateFiles)
	ctx.Step(`^I link file "([^"]*)" to the last memory$`, tc.linkFileToLastMemory)
	ctx.Step(`^I search for "([^"]*)" in project "([^"]*)"$`, tc.searchInProject)
	ctx.Step(`^I search memories by file "([^"]*)" in project "([^"]*)"$`, tc.searchByFile)
	ctx.Step(`^the results should include the memory with goal "([^"]*)"$`, tc.resultsIncludeGoal)
	ctx.Step(`^the results should not include the memory with goal "([^"]*)"$`, tc.resultsExcludeGoal)
	ctx.Step(`^I should get (\d+) results?$`, tc.resultCount)
	ctx.Step(`^I delete the last memory$`, tc.deleteLastMemory)
	ctx.Step(`^the store should contain (\d+) memor(?:y|ies)$`, tc.storeContains)
	ctx.Step(`^the store should contain (\d+) memory-file edges?$`, tc.edgeCount)
	ctx.Step(`^the store should contain (\d+) tracked files?$`, tc.fileCount)
	ctx.Step(`^I update the last memory with lesson "([^"]*)"$`, tc.updateLastMemoryLesson)
	ctx.Step(`^showing the last memory should list the lesson "([^"]*)"$`, tc.lastMemoryHasLesson)
}
