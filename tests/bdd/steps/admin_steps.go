//go:build bdd

package steps

import (
	"github.com/cucumber/godog"
)

// RegisterAdminSteps registers operator endpoint step definitions. The test
// servers run without the admin JWT guard.
func RegisterAdminSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^registration is open for org "([^"]*)"$`, func(org string) error {
		return tc.PUT("/admin/orgs/"+org+"/settings/registrationOpen", map[string]interface{}{"value": "1"})
	})

	ctx.Step(`^registration is closed for org "([^"]*)"$`, func(org string) error {
		return tc.PUT("/admin/orgs/"+org+"/settings/registrationOpen", map[string]interface{}{"value": "0"})
	})

	ctx.Step(`^I set org setting "([^"]*)" for "([^"]*)" to "([^"]*)"$`, func(setting, org, value string) error {
		return tc.PUT("/admin/orgs/"+org+"/settings/"+setting, map[string]interface{}{"value": value})
	})

	ctx.Step(`^I get org setting "([^"]*)" for "([^"]*)"$`, func(setting, org string) error {
		return tc.GET("/admin/orgs/" + org + "/settings/" + setting)
	})

	ctx.Step(`^I set global setting "([^"]*)" to "([^"]*)"$`, func(setting, value string) error {
		return tc.PUT("/admin/settings/"+setting, map[string]interface{}{"value": value})
	})

	ctx.Step(`^I get global setting "([^"]*)"$`, func(setting string) error {
		return tc.GET("/admin/settings/" + setting)
	})

	ctx.Step(`^I get the admin status$`, func() error {
		return tc.GET("/admin/status")
	})
}
