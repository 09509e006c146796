//go:build bdd

package steps

import (
	"fmt"

	"github.com/cucumber/godog"

	"github.com/axonops/axonops-auth-service/internal/auth"
)

// RegisterSessionSteps registers login and session management step definitions.
func RegisterSessionSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^I log in as "([^"]*)" with password "([^"]*)"$`, func(principal, password string) error {
		username, org, err := auth.SplitPrincipal(principal)
		if err != nil {
			return err
		}
		body := map[string]interface{}{
			"password": auth.PasswordEquivalent(password, username, org),
		}
		return tc.POST("/sessions/"+principal, body)
	})

	ctx.Step(`^I use the session key "([^"]*)"$`, func(key string) error {
		tc.AuthKey = tc.resolveVars(key)
		return nil
	})

	ctx.Step(`^I clear the session key$`, func() error {
		tc.AuthKey = ""
		return nil
	})

	ctx.Step(`^I list sessions for "([^"]*)"$`, func(principal string) error {
		return tc.GET("/sessions/" + principal)
	})

	ctx.Step(`^I get session "([^"]*)" for "([^"]*)"$`, func(sessionid, principal string) error {
		return tc.GET("/sessions/" + principal + "/" + tc.resolveVars(sessionid))
	})

	ctx.Step(`^I revoke session "([^"]*)" for "([^"]*)"$`, func(sessionid, principal string) error {
		return tc.DELETE("/sessions/" + principal + "/" + tc.resolveVars(sessionid))
	})

	ctx.Step(`^the response sessions array should have length (\d+)$`, func(expected int) error {
		if tc.LastJSON == nil {
			return fmt.Errorf("no JSON object in last response")
		}
		sessions, ok := tc.LastJSON["sessions"]
		if !ok {
			return fmt.Errorf("no 'sessions' field in response: %s", string(tc.LastBody))
		}
		arr, ok := sessions.([]interface{})
		if !ok {
			return fmt.Errorf("'sessions' field is not an array: %T", sessions)
		}
		if len(arr) != expected {
			return fmt.Errorf("expected sessions array length %d, got %d", expected, len(arr))
		}
		return nil
	})
}
