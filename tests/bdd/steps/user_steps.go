//go:build bdd

package steps

import (
	"fmt"

	"github.com/cucumber/godog"

	"github.com/axonops/axonops-auth-service/internal/auth"
)

// RegisterUserSteps registers signup and password-reset step definitions.
// Steps that carry a password derive the same password equivalent a real
// client would before putting it on the wire.
func RegisterUserSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// --- Signup steps ---
	ctx.Step(`^I sign up as "([^"]*)" with email "([^"]*)"$`, func(principal, email string) error {
		username, org, err := auth.SplitPrincipal(principal)
		if err != nil {
			return err
		}
		body := map[string]interface{}{
			"username": username,
			"org":      org,
			"email":    email,
		}
		return tc.POST("/users", body)
	})

	ctx.Step(`^I sign up as "([^"]*)" with email "([^"]*)" sponsored by "([^"]*)" with key "([^"]*)"$`, func(principal, email, parent, key string) error {
		username, org, err := auth.SplitPrincipal(principal)
		if err != nil {
			return err
		}
		body := map[string]interface{}{
			"username":   username,
			"org":        org,
			"email":      email,
			"parentuser": parent,
			"key":        tc.resolveVars(key),
		}
		return tc.POST("/users", body)
	})

	// Single-quoted so the raw body can carry JSON.
	ctx.Step(`^I post '([^']*)' to "([^"]*)"$`, func(raw, path string) error {
		return tc.DoRawRequest("POST", path, raw)
	})

	ctx.Step(`^I get user "([^"]*)"$`, func(principal string) error {
		return tc.GET("/users/" + principal)
	})

	// --- Password reset steps ---
	ctx.Step(`^I request a password reset for "([^"]*)"$`, func(principal string) error {
		return tc.POST("/users/"+principal+"/requestpasswordreset", nil)
	})

	// The reset id never appears in the response; it reaches the user out of
	// band. In-process runs read it straight from the backing store.
	ctx.Step(`^I complete the password reset for "([^"]*)" with the emitted resetid and password "([^"]*)"$`, func(principal, password string) error {
		resetid, err := tc.lookupReset(principal)
		if err != nil {
			return err
		}
		return tc.completeReset(principal, resetid, password)
	})

	ctx.Step(`^I complete the password reset for "([^"]*)" with resetid "([^"]*)" and password "([^"]*)"$`, func(principal, resetid, password string) error {
		return tc.completeReset(principal, tc.resolveVars(resetid), password)
	})

	ctx.Step(`^I store the emitted resetid for "([^"]*)" as "([^"]*)"$`, func(principal, key string) error {
		resetid, err := tc.lookupReset(principal)
		if err != nil {
			return err
		}
		tc.StoredValues[key] = resetid
		return nil
	})

	// Shortcut for scenarios that need a user with a known password without
	// walking the reset flow step by step.
	ctx.Step(`^the user "([^"]*)" has password "([^"]*)"$`, func(principal, password string) error {
		if err := tc.POST("/users/"+principal+"/requestpasswordreset", nil); err != nil {
			return err
		}
		if tc.LastStatusCode != 200 {
			return fmt.Errorf("reset request answered %d: %s", tc.LastStatusCode, string(tc.LastBody))
		}
		resetid, err := tc.lookupReset(principal)
		if err != nil {
			return err
		}
		if err := tc.completeReset(principal, resetid, password); err != nil {
			return err
		}
		if tc.LastStatusCode != 200 {
			return fmt.Errorf("password reset answered %d: %s", tc.LastStatusCode, string(tc.LastBody))
		}
		return nil
	})
}

func (tc *TestContext) lookupReset(principal string) (string, error) {
	if tc.ResetLookup == nil {
		return "", fmt.Errorf("no reset lookup wired; this scenario needs an in-process run")
	}
	return tc.ResetLookup(principal)
}

func (tc *TestContext) completeReset(principal, resetid, password string) error {
	username, org, err := auth.SplitPrincipal(principal)
	if err != nil {
		return err
	}
	body := map[string]interface{}{
		"resetid":  resetid,
		"password": auth.PasswordEquivalent(password, username, org),
	}
	return tc.POST("/users/"+principal+"/completepasswordreset", body)
}
